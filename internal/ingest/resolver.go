package ingest

import (
	"github.com/patrickmn/go-cache"

	"github.com/cortolima/treeobs-go/internal/datastore"
	"github.com/cortolima/treeobs-go/internal/keys"
)

// Outcome classifies one resolution attempt.
type Outcome int

const (
	// Resolved means exactly one record matched the key.
	Resolved Outcome = iota
	// Unresolved means no record matched. The caller must skip the
	// dependent row, never substitute another record.
	Unresolved
	// Ambiguous means more than one record matched the key.
	Ambiguous
)

// Resolution is the result of resolving a raw record code against the
// store's key index.
type Resolution struct {
	Outcome  Outcome
	RecordID uint
	RawKey   string
}

// Resolver matches raw record codes from dependent source files against the
// tree records already persisted. Lookups try the exact normalized key
// first, then the natural-key suffix forms.
type Resolver struct {
	byFull   map[string][]uint
	bySuffix map[string][]uint
	memo     *cache.Cache
}

// NewResolver builds a resolver over the store's current key index.
func NewResolver(index []datastore.TreeRecordKey) *Resolver {
	r := &Resolver{
		byFull:   make(map[string][]uint, len(index)),
		bySuffix: make(map[string][]uint),
		memo:     cache.New(cache.NoExpiration, cache.NoExpiration),
	}
	for _, k := range index {
		if k.NormalizedCode != "" {
			r.byFull[k.NormalizedCode] = append(r.byFull[k.NormalizedCode], k.ID)
		}
		if k.CodeSuffix != "" {
			r.bySuffix[k.CodeSuffix] = append(r.bySuffix[k.CodeSuffix], k.ID)
		}
	}
	return r
}

// Resolve maps a raw record code to a tree record ID. No match yields an
// explicit Unresolved outcome carrying the offending raw key.
func (r *Resolver) Resolve(raw string) Resolution {
	if cached, ok := r.memo.Get(raw); ok {
		return cached.(Resolution)
	}

	key := keys.Normalize(raw)
	res := Resolution{Outcome: Unresolved, RawKey: raw}
	if !key.IsZero() {
		buckets := [][]uint{r.byFull[key.Full]}
		if key.Suffix != "" {
			// The incoming code carries a sequence prefix; its suffix may be
			// the natural key the record was stored under.
			buckets = append(buckets, r.byFull[key.Suffix])
		}
		// The record itself may have been stored with a sequence prefix and
		// be referenced here by the bare natural key.
		buckets = append(buckets, r.bySuffix[key.Full])

		for _, ids := range buckets {
			if len(ids) == 0 {
				continue
			}
			if len(ids) == 1 {
				res = Resolution{Outcome: Resolved, RecordID: ids[0], RawKey: raw}
			} else {
				res = Resolution{Outcome: Ambiguous, RawKey: raw}
			}
			break
		}
	}

	r.memo.Set(raw, res, cache.NoExpiration)
	return res
}
