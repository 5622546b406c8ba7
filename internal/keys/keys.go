// Package keys canonicalizes the record-identifier strings used to correlate
// rows across the census exports. The same logical record appears as
// "10001_F1", "10001 - F1" or "27543_10001" depending on the source file, so
// every lookup goes through Normalize first.
package keys

import (
	"regexp"
	"strings"
)

// Separator is the canonical separator all runs of '-', '_' and spaces
// collapse into.
const Separator = "_"

var (
	separatorRun = regexp.MustCompile(`[\s_-]+`)
	seqPrefix    = regexp.MustCompile(`^(\d+)_(.+)$`)
)

// Key is a normalized record identifier. Full is the whole code in canonical
// form. Suffix is the natural-key part after a leading numeric sequence
// prefix, empty when the code carries no such prefix. Some sources reference
// a record by its full code, others by the suffix alone, so both forms are
// kept.
type Key struct {
	Full   string
	Suffix string
}

// Normalize canonicalizes a raw record code. It trims surrounding
// whitespace, lowercases, and collapses separator runs into a single
// Separator. Pure and deterministic; applying it to its own output is a
// no-op.
func Normalize(code string) Key {
	full := strings.ToLower(strings.TrimSpace(code))
	full = separatorRun.ReplaceAllString(full, Separator)
	full = strings.Trim(full, Separator)

	k := Key{Full: full}
	if m := seqPrefix.FindStringSubmatch(full); m != nil {
		k.Suffix = m[2]
	}
	return k
}

// IsZero reports whether the key is empty after normalization.
func (k Key) IsZero() bool {
	return k.Full == ""
}
