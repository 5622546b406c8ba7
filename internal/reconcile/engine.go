// Package reconcile implements the neighborhood backfill batch job. Records
// still pointing at the sentinel "unknown" neighborhood are reassigned by
// point-in-polygon containment against the stored boundaries, falling back
// to a per-locality placeholder when only a locality boundary contains the
// point.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/cortolima/treeobs-go/internal/conf"
	"github.com/cortolima/treeobs-go/internal/datastore"
	"github.com/cortolima/treeobs-go/internal/errors"
	"github.com/cortolima/treeobs-go/internal/geo"
	"github.com/cortolima/treeobs-go/internal/logging"
)

// Provenance notes written to reconciled records. An empty note marks a
// record as untouched, so every outcome writes a non-empty one.
const (
	noteNeighborhood = "Automatically assigned to neighborhood '%s' based on spatial location."
	notePlaceholder  = "Automatically assigned to placeholder neighborhood '%s' as record is within locality '%s' boundary but no matching neighborhood boundary was found."
	noteNoMatch      = "No matching neighborhood or locality boundary found for this record."
)

// Options controls one reconciliation run.
type Options struct {
	DryRun     bool // simulate everything, write nothing
	StatsOnly  bool // report the eligible count and stop
	AllRecords bool // include records that already carry a provenance note
	Limit      int  // cap on records processed, non-positive means all
	BatchSize  int  // records per transaction, falls back to the configured default
	SentinelID uint // sentinel neighborhood ID, falls back to configuration
}

// Report summarizes one reconciliation run.
type Report struct {
	SentinelID          uint
	Eligible            int64
	Processed           int
	Matched             int
	PlaceholderAssigned int
	PlaceholdersCreated int
	PlaceholdersReused  int
	NoMatch             int
	Failed              int
	DryRun              bool
	Elapsed             time.Duration
}

// String renders a human readable summary.
func (r *Report) String() string {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	return fmt.Sprintf(
		"reconciliation%s: eligible=%d processed=%d matched=%d placeholder=%d created=%d reused=%d no_match=%d failed=%d in %s",
		mode, r.Eligible, r.Processed, r.Matched, r.PlaceholderAssigned,
		r.PlaceholdersCreated, r.PlaceholdersReused, r.NoMatch, r.Failed,
		r.Elapsed.Round(time.Millisecond))
}

// Engine runs reconciliation passes against a store.
type Engine struct {
	store    datastore.Interface
	settings *conf.Settings
	logger   *slog.Logger
}

// New creates an engine over the given store.
func New(store datastore.Interface, settings *conf.Settings) *Engine {
	return &Engine{
		store:    store,
		settings: settings,
		logger:   logging.ForService("reconcile"),
	}
}

// placeholder tracks one per-locality placeholder over the lifetime of a
// run, so repeated fallbacks to the same locality reuse a single entity.
type placeholder struct {
	id   uint
	name string
}

// Run executes one reconciliation pass. Rerunning in default mode is a
// no-op: every processed record carries a provenance note and the default
// eligibility filter excludes annotated records.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()

	sentinelID, err := e.resolveSentinel(opts.SentinelID)
	if err != nil {
		return nil, err
	}
	rep := &Report{SentinelID: sentinelID, DryRun: opts.DryRun}

	rep.Eligible, err = e.store.CountUnassigned(sentinelID, opts.AllRecords)
	if err != nil {
		return nil, err
	}
	e.logger.Info("reconciliation starting", "sentinel_id", sentinelID,
		"eligible", rep.Eligible, "dry_run", opts.DryRun, "all_records", opts.AllRecords)
	if opts.StatsOnly || rep.Eligible == 0 {
		rep.Elapsed = time.Since(start)
		return rep, nil
	}

	ids, err := e.store.UnassignedIDs(sentinelID, opts.AllRecords, opts.Limit)
	if err != nil {
		return nil, err
	}

	neighborhoods, localities, err := e.loadBoundaries(sentinelID)
	if err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.settings.Reconcile.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	// Records are fetched per batch of ids; a whole-run fetch would blow
	// both memory and the database's bind-variable limit on large runs.
	placeholders := make(map[uint]*placeholder)
	for offset := 0; offset < len(ids); offset += batchSize {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, err
		}
		end := offset + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := e.runBatch(ids[offset:end], neighborhoods, localities, placeholders, opts.DryRun, rep); err != nil {
			return nil, err
		}
	}

	rep.Elapsed = time.Since(start)
	e.logger.Info("reconciliation finished", "summary", rep.String())
	return rep, nil
}

// runBatch fetches, classifies and applies one batch of records. A failed
// transaction marks the whole batch failed and rolls its classification
// counters back; later batches still run. A fetch error is fatal.
func (e *Engine) runBatch(ids []uint, neighborhoods, localities geo.Set,
	placeholders map[uint]*placeholder, dryRun bool, rep *Report) error {

	records, err := e.store.TreeRecordsByID(ids)
	if err != nil {
		return err
	}

	// Pre-filter boundaries to the buffered extent of the batch. Most of
	// the boundary set is typically far away from the records in play.
	points := make([]orb.Point, len(records))
	for i := range records {
		points[i] = orb.Point{records[i].Longitude, records[i].Latitude}
	}
	candidateNeighborhoods, candidateLocalities := neighborhoods, localities
	if extent, ok := geo.Extent(points); ok {
		candidateNeighborhoods = neighborhoods.FilterBound(extent)
		candidateLocalities = localities.FilterBound(extent)
	}

	var stats batchStats
	batch := make([]datastore.Placement, 0, len(records))
	for i := range records {
		placement, outcome := e.classify(&records[i], candidateNeighborhoods, candidateLocalities,
			placeholders, dryRun, rep, &stats)
		if outcome == outcomeFailed {
			rep.Failed++
			continue
		}
		batch = append(batch, placement)
	}

	if !dryRun && len(batch) > 0 {
		if err := e.store.ApplyPlacements(batch); err != nil {
			rep.Failed += len(batch)
			e.logger.Error("batch failed", "size", len(batch), "error", err)
			return nil
		}
	}
	rep.Processed += len(batch)
	rep.Matched += stats.matched
	rep.PlaceholderAssigned += stats.placeholder
	rep.NoMatch += stats.noMatch
	return nil
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeFailed
)

// batchStats holds the classification counts of one batch. They only merge
// into the report once the batch's transaction commits, so a failed batch
// leaves the report's counters consistent with Processed.
type batchStats struct {
	matched     int
	placeholder int
	noMatch     int
}

// classify decides the placement for one record and counts the chosen
// branch in stats.
func (e *Engine) classify(rec *datastore.TreeRecord, neighborhoods, localities geo.Set,
	placeholders map[uint]*placeholder, dryRun bool, rep *Report, stats *batchStats) (datastore.Placement, outcome) {

	pt := orb.Point{rec.Longitude, rec.Latitude}

	if match, others := neighborhoods.First(pt); match != nil {
		if others > 0 {
			e.logger.Warn("point inside overlapping neighborhood boundaries",
				"record_id", rec.ID, "assigned", match.Name, "overlaps", others)
		}
		stats.matched++
		id := match.ID
		return datastore.Placement{
			TreeRecordID:   rec.ID,
			NeighborhoodID: &id,
			SystemComment:  fmt.Sprintf(noteNeighborhood, match.Name),
		}, outcomeApplied
	}

	if locality, _ := localities.First(pt); locality != nil {
		ph, err := e.placeholderFor(locality, placeholders, dryRun, rep)
		if err != nil {
			e.logger.Error("placeholder lookup failed",
				"record_id", rec.ID, "locality", locality.Name, "error", err)
			return datastore.Placement{}, outcomeFailed
		}
		stats.placeholder++
		id := ph.id
		return datastore.Placement{
			TreeRecordID:   rec.ID,
			NeighborhoodID: &id,
			SystemComment:  fmt.Sprintf(notePlaceholder, ph.name, locality.Name),
		}, outcomeApplied
	}

	stats.noMatch++
	return datastore.Placement{
		TreeRecordID:   rec.ID,
		NeighborhoodID: nil,
		SystemComment:  noteNoMatch,
	}, outcomeApplied
}

// placeholderFor returns the placeholder neighborhood for a locality,
// creating it at most once per run. In dry-run mode nothing is created and
// the simulated placeholder keeps a zero ID.
func (e *Engine) placeholderFor(locality *geo.Boundary, placeholders map[uint]*placeholder,
	dryRun bool, rep *Report) (*placeholder, error) {

	if ph, ok := placeholders[locality.ID]; ok {
		return ph, nil
	}

	name := fmt.Sprintf("%s en %s", e.sentinelName(), locality.Name)
	existing, err := e.store.FindNeighborhood(name, locality.ID)
	if err != nil {
		return nil, err
	}

	ph := &placeholder{name: name}
	switch {
	case existing != nil:
		ph.id = existing.ID
		rep.PlaceholdersReused++
	case dryRun:
		rep.PlaceholdersCreated++
	default:
		n := &datastore.Neighborhood{Name: name, LocalityID: locality.ID}
		if err := e.store.CreateNeighborhood(n); err != nil {
			return nil, err
		}
		ph.id = n.ID
		rep.PlaceholdersCreated++
		e.logger.Info("created placeholder neighborhood", "name", name, "locality_id", locality.ID)
	}
	placeholders[locality.ID] = ph
	return ph, nil
}

func (e *Engine) sentinelName() string {
	if name := e.settings.Reconcile.SentinelName; name != "" {
		return name
	}
	return "Desconocido"
}

// resolveSentinel picks the sentinel neighborhood: the explicit option, then
// the configured ID, then a lookup by the configured name.
func (e *Engine) resolveSentinel(optID uint) (uint, error) {
	if optID > 0 {
		return optID, nil
	}
	if id := e.settings.Reconcile.SentinelNeighborhood; id > 0 {
		return id, nil
	}
	sentinel, err := e.store.FindNeighborhoodByName(e.sentinelName())
	if err != nil {
		return 0, err
	}
	if sentinel == nil {
		return 0, errors.Newf("sentinel neighborhood %q not found", e.sentinelName()).
			Component("reconcile").
			Category(errors.CategoryNotFound).
			Build()
	}
	return sentinel.ID, nil
}

// loadBoundaries decodes the stored boundary geometries, id ascending so
// containment ties resolve deterministically. A malformed stored boundary is
// logged and treated as absent.
func (e *Engine) loadBoundaries(sentinelID uint) (neighborhoods, localities geo.Set, err error) {
	ns, err := e.store.NeighborhoodsWithBoundary(sentinelID)
	if err != nil {
		return nil, nil, err
	}
	for i := range ns {
		b, err := geo.Decode(ns[i].ID, ns[i].Name, *ns[i].Boundary)
		if err != nil {
			e.logger.Warn("skipping malformed neighborhood boundary",
				"neighborhood_id", ns[i].ID, "error", err)
			continue
		}
		neighborhoods = append(neighborhoods, b)
	}

	ls, err := e.store.LocalitiesWithBoundary()
	if err != nil {
		return nil, nil, err
	}
	for i := range ls {
		b, err := geo.Decode(ls[i].ID, ls[i].Name, *ls[i].Boundary)
		if err != nil {
			e.logger.Warn("skipping malformed locality boundary",
				"locality_id", ls[i].ID, "error", err)
			continue
		}
		localities = append(localities, b)
	}
	return neighborhoods, localities, nil
}
