package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	t.Parallel()

	base := NewStd("row rejected")
	err := New(base).
		Component("ingest").
		Category(CategoryValidation).
		Context("source", "taxonomy.csv").
		Context("row", 42).
		Build()

	assert.Equal(t, "row rejected", err.Error())
	assert.Equal(t, "ingest", err.Component)
	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, 42, err.GetContext()["row"])
	assert.True(t, Is(err, base), "enhanced error should unwrap to the original")
}

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	err := Newf("bad value %q", "x").Build()
	assert.Equal(t, ComponentUnknown, err.Component)
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.Nil(t, err.GetContext())
}

func TestHasCategory(t *testing.T) {
	t.Parallel()

	err := Newf("no match for key").Category(CategoryUnresolved).Build()
	wrapped := fmt.Errorf("stage failed: %w", err)

	assert.True(t, HasCategory(wrapped, CategoryUnresolved))
	assert.False(t, HasCategory(wrapped, CategoryDatabase))
	assert.False(t, HasCategory(NewStd("plain"), CategoryUnresolved))
}

func TestContextIsCopied(t *testing.T) {
	t.Parallel()

	err := Newf("oops").Context("k", "v").Build()
	ctx := err.GetContext()
	require.NotNil(t, ctx)
	ctx["k"] = "mutated"
	assert.Equal(t, "v", err.GetContext()["k"])
}
