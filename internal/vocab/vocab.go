// Package vocab resolves the free-text Spanish vocabulary used in the census
// exports to canonical enumerated codes. The tables are data, not code: they
// live in the embedded vocab.yaml, are loaded once per run and never mutated
// afterwards. Extending the vocabulary is a data change.
package vocab

import (
	_ "embed"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cortolima/treeobs-go/internal/errors"
)

//go:embed vocab.yaml
var vocabData []byte

// Table maps raw source vocabulary to canonical codes for one enumerated
// field. Immutable after Load.
type Table struct {
	name    string
	entries map[string]string
}

// Name returns the table's identifier, used in audit entries.
func (t *Table) Name() string {
	return t.name
}

// Map resolves raw to a canonical code. Exact match first, then a
// case-insensitive scan of the table's keys. When nothing matches, def is
// returned (an explicit "unrecognized" code, never a guess) and the miss is
// recorded in audit when one is supplied.
func (t *Table) Map(raw, def string, audit *Audit) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}

	if code, ok := t.entries[raw]; ok {
		return code
	}

	lower := strings.ToLower(raw)
	for k, v := range t.entries {
		if strings.ToLower(k) == lower {
			return v
		}
	}

	if audit != nil {
		audit.record(t.name, raw)
	}
	return def
}

// Tables holds every vocabulary table of the census exports.
type Tables struct {
	Origin                Table
	IUCNStatus            Table
	LifeForm              Table
	MeasuredAttribute     Table
	MeasurementUnit       Table
	MeasurementMethod     Table
	ReproductiveCondition Table
	PhytosanitaryStatus   Table
	PhysicalCondition     Table
	FoliageDensity        Table
	AestheticValue        Table
	GrowthPhase           Table
}

// Load parses the embedded vocabulary tables. Called once per run.
func Load() (*Tables, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(vocabData, &raw); err != nil {
		return nil, errors.New(err).
			Component("vocab").
			Category(errors.CategoryFileParsing).
			Build()
	}

	tables := &Tables{}
	for name, dst := range map[string]*Table{
		"origin":                 &tables.Origin,
		"iucn_status":            &tables.IUCNStatus,
		"life_form":              &tables.LifeForm,
		"measured_attribute":     &tables.MeasuredAttribute,
		"measurement_unit":       &tables.MeasurementUnit,
		"measurement_method":     &tables.MeasurementMethod,
		"reproductive_condition": &tables.ReproductiveCondition,
		"phytosanitary_status":   &tables.PhytosanitaryStatus,
		"physical_condition":     &tables.PhysicalCondition,
		"foliage_density":        &tables.FoliageDensity,
		"aesthetic_value":        &tables.AestheticValue,
		"growth_phase":           &tables.GrowthPhase,
	} {
		entries, ok := raw[name]
		if !ok {
			return nil, errors.Newf("vocabulary table %q missing from vocab.yaml", name).
				Component("vocab").
				Category(errors.CategoryConfiguration).
				Build()
		}
		*dst = Table{name: name, entries: entries}
	}
	return tables, nil
}

// Miss is one unmapped raw value observed during a run.
type Miss struct {
	Table string
	Raw   string
	Count int
}

// Audit collects the raw values no table could map, for inclusion in the
// run report. Not safe for concurrent use; the import runs single-threaded.
type Audit struct {
	misses map[string]map[string]int
}

// NewAudit creates an empty audit.
func NewAudit() *Audit {
	return &Audit{misses: make(map[string]map[string]int)}
}

func (a *Audit) record(table, raw string) {
	byRaw, ok := a.misses[table]
	if !ok {
		byRaw = make(map[string]int)
		a.misses[table] = byRaw
	}
	byRaw[raw]++
}

// Misses returns the recorded unmapped values, sorted by table then raw
// value for stable reporting.
func (a *Audit) Misses() []Miss {
	var out []Miss
	for table, byRaw := range a.misses {
		for raw, count := range byRaw {
			out = append(out, Miss{Table: table, Raw: raw, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Raw < out[j].Raw
	})
	return out
}
