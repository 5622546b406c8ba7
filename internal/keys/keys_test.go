package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSeparatorEquivalence(t *testing.T) {
	t.Parallel()

	// Codes that differ only by separator characters must normalize to the
	// same key.
	variants := []string{
		"67689_F3",
		"67689-F3",
		"67689 F3",
		"67689 - F3",
		"  67689 _ F3  ",
	}

	want := Normalize(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, want, Normalize(v), "variant %q", v)
	}
	assert.Equal(t, "67689_f3", want.Full)
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"10001_F1",
		"67689 - F3",
		"27543_10001",
		"PLAIN-CODE",
		"",
		"   ",
		"__x__",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once.Full)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestNormalizeSuffixExtraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code   string
		full   string
		suffix string
	}{
		{"10001_F1", "10001_f1", "f1"},
		{"20272_F2", "20272_f2", "f2"},
		{"67689 - F3", "67689_f3", "f3"},
		{"27543_10001", "27543_10001", "10001"},
		{"PLAINCODE", "plaincode", ""},
		{"F1_10001", "f1_10001", ""},       // prefix is not numeric
		{"123", "123", ""},                 // no separator, no suffix
		{"55_12_f4", "55_12_f4", "12_f4"},  // suffix keeps everything after the sequence
	}

	for _, tt := range tests {
		k := Normalize(tt.code)
		assert.Equal(t, tt.full, k.Full, "full of %q", tt.code)
		assert.Equal(t, tt.suffix, k.Suffix, "suffix of %q", tt.code)
	}
}

func TestIsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, Normalize("").IsZero())
	assert.True(t, Normalize(" - _ ").IsZero())
	assert.False(t, Normalize("x").IsZero())
}
