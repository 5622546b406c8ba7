package ingest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cortolima/treeobs-go/internal/conf"
	"github.com/cortolima/treeobs-go/internal/datastore"
	"github.com/cortolima/treeobs-go/internal/errors"
	"github.com/cortolima/treeobs-go/internal/geo"
	"github.com/cortolima/treeobs-go/internal/keys"
	"github.com/cortolima/treeobs-go/internal/logging"
	"github.com/cortolima/treeobs-go/internal/report"
	"github.com/cortolima/treeobs-go/internal/vocab"
)

// gbifIDPattern matches either a bare numeric GBIF ID or a species URL
// carrying one.
var gbifIDPattern = regexp.MustCompile(`(?:^|/species/)(\d+)$`)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006-01-02 15:04:05"}

// Orchestrator drives the ordered import of the five census sources.
type Orchestrator struct {
	store    datastore.Interface
	settings *conf.Settings
	tables   *vocab.Tables
	audit    *vocab.Audit
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store datastore.Interface, settings *conf.Settings) (*Orchestrator, error) {
	tables, err := vocab.Load()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:    store,
		settings: settings,
		tables:   tables,
		audit:    vocab.NewAudit(),
		logger:   logging.ForService("ingest"),
	}, nil
}

type stage struct {
	name     string
	fileName string
	url      string
	required []string
	run      func(src RowSource, stats *report.StageStats) error
}

// ImportAll runs every stage in dependency order. A later source may
// reference entities created by an earlier one, so stage order is fixed.
// Row-level failures are counted and logged; an unreadable source or a
// missing required column aborts the whole run.
func (o *Orchestrator) ImportAll(ctx context.Context) (*report.RunReport, error) {
	run := report.New(o.settings.Main.Name)

	stages := []stage{
		{
			name:     "taxonomy",
			fileName: "taxonomy.csv",
			url:      o.settings.Ingest.TaxonomyURL,
			required: []string{"family", "genus", "specie", "accept_scientific_name"},
			run:      o.importTaxonomy,
		},
		{
			name:     "places",
			fileName: "places.csv",
			url:      o.settings.Ingest.PlacesURL,
			required: []string{"country", "department", "municipality", "locality", "neighborhood", "site"},
			run:      o.importPlaces,
		},
		{
			name:     "records",
			fileName: "records.csv",
			url:      o.settings.Ingest.RecordsURL,
			required: []string{"code_record", "latitude", "longitude", "scientific_name", "neighborhood"},
			run:      o.importRecords,
		},
		{
			name:     "measurements",
			fileName: "measurements.csv",
			url:      o.settings.Ingest.MeasurementsURL,
			required: []string{"record_code", "measurement_name", "measurement_value"},
			run:      o.importMeasurements,
		},
		{
			name:     "observations",
			fileName: "observations.csv",
			url:      o.settings.Ingest.ObservationsURL,
			required: []string{"record_code"},
			run:      o.importObservations,
		},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		src, err := o.openSource(ctx, st)
		if err != nil {
			return run, err
		}
		if err := Require(src, st.required...); err != nil {
			_ = src.Close()
			return run, err
		}

		o.logger.Info("importing source", "stage", st.name, "source", src.Name())
		var stats report.StageStats
		err = st.run(src, &stats)
		_ = src.Close()
		if err != nil {
			return run, err
		}
		run.AddStage(st.name, stats)
		o.logger.Info("stage complete", "stage", st.name,
			"attempted", stats.Attempted, "created", stats.Created,
			"skipped", stats.Skipped, "failed", stats.Failed)
	}

	for _, miss := range o.audit.Misses() {
		run.Unmapped = append(run.Unmapped, miss.Table+": "+miss.Raw)
		o.logger.Warn("unmapped vocabulary term", "table", miss.Table, "raw", miss.Raw, "count", miss.Count)
	}
	run.Finish()
	return run, nil
}

func (o *Orchestrator) openSource(ctx context.Context, st stage) (RowSource, error) {
	if dir := o.settings.Ingest.Dir; dir != "" {
		return OpenCSV(filepath.Join(dir, st.fileName))
	}
	if st.url != "" {
		return FetchCSV(ctx, st.url)
	}
	return nil, errors.Newf("no source configured for stage %s", st.name).
		Component("ingest").
		Category(errors.CategoryConfiguration).
		Build()
}

// forEachRow iterates src, delegating each row to fn and folding row-level
// failures into stats instead of aborting.
func (o *Orchestrator) forEachRow(src RowSource, stats *report.StageStats, fn func(row Row) error) error {
	line := 1
	for {
		row, err := src.Next()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			stats.Attempted++
			stats.Failed++
			o.logger.Error("unparseable row", "source", src.Name(), "line", line, "error", err)
			continue
		}
		stats.Attempted++
		if err := fn(row); err != nil {
			stats.Failed++
			o.logger.Error("row failed", "source", src.Name(), "line", line, "error", err)
		}
	}
}

func (o *Orchestrator) importTaxonomy(src RowSource, stats *report.StageStats) error {
	return o.forEachRow(src, stats, func(row Row) error {
		familyName := row.Get("family")
		genusName := row.Get("genus")
		scientificName := row.Get("accept_scientific_name")
		if scientificName == "" {
			scientificName = row.Get("specie")
		}
		if familyName == "" || genusName == "" || scientificName == "" {
			return errors.Newf("row is missing family, genus or scientific name").
				Component("ingest").
				Category(errors.CategoryValidation).
				Build()
		}

		family, err := o.store.GetOrCreateFamily(familyName)
		if err != nil {
			return err
		}
		genus, err := o.store.GetOrCreateGenus(genusName, family.ID)
		if err != nil {
			return err
		}

		existing, err := o.store.FindSpeciesByScientificName(scientificName)
		if err != nil {
			return err
		}
		if existing != nil {
			stats.Skipped++
			return nil
		}

		sp := &datastore.Species{
			GenusID:        genus.ID,
			Name:           epithet(scientificName, genusName),
			ScientificName: scientificName,
			CommonName:     row.Get("common_name"),
			GbifID:         parseGbifID(row.Get("gbif_id")),
			Origin:         o.tables.Origin.Map(row.Get("origin"), datastore.CodeUnknown, o.audit),
			IUCNStatus:     o.tables.IUCNStatus.Map(row.Get("iucn_status"), datastore.CodeNotEvaluated, o.audit),
			LifeForm:       o.tables.LifeForm.Map(row.Get("life_form"), datastore.CodeUnknown, o.audit),
			IdentifiedBy:   row.Get("identified_by"),
		}
		if _, err := o.store.GetOrCreateSpecies(sp); err != nil {
			return err
		}
		stats.Created++
		return nil
	})
}

func (o *Orchestrator) importPlaces(src RowSource, stats *report.StageStats) error {
	return o.forEachRow(src, stats, func(row Row) error {
		for _, col := range []string{"country", "department", "municipality", "locality", "neighborhood", "site"} {
			if row.Get(col) == "" {
				return errors.Newf("row has an empty %s", col).
					Component("ingest").
					Category(errors.CategoryValidation).
					Build()
			}
		}

		country, err := o.store.GetOrCreateCountry(row.Get("country"))
		if err != nil {
			return err
		}
		department, err := o.store.GetOrCreateDepartment(row.Get("department"), country.ID)
		if err != nil {
			return err
		}
		municipality, err := o.store.GetOrCreateMunicipality(row.Get("municipality"), department.ID)
		if err != nil {
			return err
		}
		locality, err := o.store.GetOrCreateLocality(row.Get("locality"), municipality.ID,
			o.validBoundary(row.Get("locality_boundary"), row.Get("locality")))
		if err != nil {
			return err
		}
		neighborhood, err := o.store.GetOrCreateNeighborhood(row.Get("neighborhood"), locality.ID,
			o.validBoundary(row.Get("neighborhood_boundary"), row.Get("neighborhood")))
		if err != nil {
			return err
		}

		site := &datastore.Site{
			Name:           row.Get("site"),
			NeighborhoodID: neighborhood.ID,
			Zone:           parseOptionalInt(row.Get("zone")),
			Subzone:        parseOptionalInt(row.Get("subzone")),
		}
		if _, err := o.store.GetOrCreateSite(site); err != nil {
			return err
		}
		stats.Created++
		return nil
	})
}

// validBoundary returns the boundary text when it parses as a supported
// geometry, nil otherwise. A malformed boundary is logged and treated as
// absent rather than failing the row.
func (o *Orchestrator) validBoundary(raw, name string) *string {
	if raw == "" {
		return nil
	}
	if _, err := geo.Decode(0, name, raw); err != nil {
		o.logger.Warn("discarding malformed boundary", "place", name, "error", err)
		return nil
	}
	return &raw
}

func (o *Orchestrator) importRecords(src RowSource, stats *report.StageStats) error {
	return o.forEachRow(src, stats, func(row Row) error {
		code := row.Get("code_record")
		key := keys.Normalize(code)
		if key.IsZero() {
			return errors.Newf("row has no record code").
				Component("ingest").
				Category(errors.CategoryValidation).
				Build()
		}

		latitude, err := strconv.ParseFloat(row.Get("latitude"), 64)
		if err != nil {
			return errors.Newf("invalid latitude %q", row.Get("latitude")).
				Component("ingest").
				Category(errors.CategoryValidation).
				Context("code", code).
				Build()
		}
		longitude, err := strconv.ParseFloat(row.Get("longitude"), 64)
		if err != nil {
			return errors.Newf("invalid longitude %q", row.Get("longitude")).
				Component("ingest").
				Category(errors.CategoryValidation).
				Context("code", code).
				Build()
		}

		sp, err := o.store.FindSpeciesByScientificName(row.Get("scientific_name"))
		if err != nil {
			return err
		}
		if sp == nil {
			return errors.Newf("unresolved species reference %q", row.Get("scientific_name")).
				Component("ingest").
				Category(errors.CategoryUnresolved).
				Context("code", code).
				Build()
		}

		neighborhood, err := o.store.FindNeighborhoodByName(row.Get("neighborhood"))
		if err != nil {
			return err
		}
		if neighborhood == nil {
			return errors.Newf("unresolved neighborhood reference %q", row.Get("neighborhood")).
				Component("ingest").
				Category(errors.CategoryUnresolved).
				Context("code", code).
				Build()
		}

		var siteID *uint
		if name := row.Get("site"); name != "" {
			site, err := o.store.FindSite(name, neighborhood.ID)
			if err != nil {
				return err
			}
			if site == nil {
				return errors.Newf("unresolved site reference %q", name).
					Component("ingest").
					Category(errors.CategoryUnresolved).
					Context("code", code).
					Context("neighborhood", neighborhood.Name).
					Build()
			}
			siteID = &site.ID
		}

		rec := &datastore.TreeRecord{
			Code:           code,
			NormalizedCode: key.Full,
			CodeSuffix:     key.Suffix,
			CommonName:     row.Get("common_name"),
			SpeciesID:      sp.ID,
			NeighborhoodID: neighborhood.ID,
			SiteID:         siteID,
			Longitude:      longitude,
			Latitude:       latitude,
			ElevationM:     parseOptionalFloat(row.Get("elevation_m")),
			RecordedBy:     row.Get("recorded_by"),
			RecordedAt:     parseOptionalDate(row.Get("registered_at")),
		}
		if err := o.store.InsertTreeRecord(rec); err != nil {
			return err
		}
		stats.Created++
		return nil
	})
}

func (o *Orchestrator) importMeasurements(src RowSource, stats *report.StageStats) error {
	resolver, err := o.buildResolver()
	if err != nil {
		return err
	}
	return o.forEachRow(src, stats, func(row Row) error {
		recordID, err := o.resolveRecord(resolver, row.Get("record_code"))
		if err != nil {
			return err
		}

		value, err := strconv.ParseFloat(row.Get("measurement_value"), 64)
		if err != nil {
			return errors.Newf("invalid measurement value %q", row.Get("measurement_value")).
				Component("ingest").
				Category(errors.CategoryValidation).
				Context("record_code", row.Get("record_code")).
				Build()
		}

		m := &datastore.Measurement{
			TreeRecordID: recordID,
			Attribute:    o.tables.MeasuredAttribute.Map(row.Get("measurement_name"), datastore.CodeOther, o.audit),
			Value:        value,
			Unit:         o.tables.MeasurementUnit.Map(row.Get("measurement_unit"), datastore.CodeOther, o.audit),
			Method:       o.tables.MeasurementMethod.Map(row.Get("measurement_method"), datastore.CodeOther, o.audit),
			MeasuredAt:   parseOptionalDate(row.Get("measurement_date_event")),
		}
		// When a term fell through to "other", keep the raw text alongside.
		if m.Attribute == datastore.CodeOther {
			m.OtherAttribute = row.Get("measurement_name")
		}
		if m.Unit == datastore.CodeOther {
			m.OtherUnit = row.Get("measurement_unit")
		}
		if m.Method == datastore.CodeOther {
			m.OtherMethod = row.Get("measurement_method")
		}

		if err := o.store.InsertMeasurement(m); err != nil {
			return err
		}
		stats.Created++
		return nil
	})
}

func (o *Orchestrator) importObservations(src RowSource, stats *report.StageStats) error {
	resolver, err := o.buildResolver()
	if err != nil {
		return err
	}
	return o.forEachRow(src, stats, func(row Row) error {
		recordID, err := o.resolveRecord(resolver, row.Get("record_code"))
		if err != nil {
			return err
		}

		obs := &datastore.Observation{
			TreeRecordID:           recordID,
			ReproductiveCondition:  o.tables.ReproductiveCondition.Map(row.Get("reproductive_condition"), datastore.CodeNotReported, o.audit),
			PhytosanitaryStatus:    o.tables.PhytosanitaryStatus.Map(row.Get("phytosanitary_status"), datastore.CodeNotReported, o.audit),
			PhysicalCondition:      o.tables.PhysicalCondition.Map(row.Get("physical_condition"), datastore.CodeNotReported, o.audit),
			FoliageDensity:         o.tables.FoliageDensity.Map(row.Get("foliage_density"), datastore.CodeNotReported, o.audit),
			AestheticValue:         o.tables.AestheticValue.Map(row.Get("aesthetic_value"), datastore.CodeNotReported, o.audit),
			GrowthPhase:            o.tables.GrowthPhase.Map(row.Get("growth_phase"), datastore.CodeNotReported, o.audit),
			Standing:               parseStanding(row.Get("standing")),
			FieldNotes:             row.Get("field_notes"),
			AccompanyingCollectors: row.Get("accompanying_collectors"),
			RecordedBy:             row.Get("recorded_by"),
			ObservedAt:             parseOptionalDate(row.Get("observed_at")),
		}
		if err := o.store.InsertObservation(obs); err != nil {
			return err
		}
		stats.Created++
		return nil
	})
}

func (o *Orchestrator) buildResolver() (*Resolver, error) {
	index, err := o.store.TreeRecordKeys()
	if err != nil {
		return nil, err
	}
	return NewResolver(index), nil
}

// resolveRecord turns a raw record code into a record ID, failing the row
// explicitly on no match or an ambiguous one.
func (o *Orchestrator) resolveRecord(resolver *Resolver, raw string) (uint, error) {
	res := resolver.Resolve(raw)
	switch res.Outcome {
	case Resolved:
		return res.RecordID, nil
	case Ambiguous:
		return 0, errors.Newf("record code %q matches more than one record", raw).
			Component("ingest").
			Category(errors.CategoryAmbiguous).
			Build()
	default:
		return 0, errors.Newf("unresolved record code %q", raw).
			Component("ingest").
			Category(errors.CategoryUnresolved).
			Build()
	}
}

// epithet strips the genus prefix from a binomial, case-insensitively.
func epithet(scientificName, genus string) string {
	rest := strings.TrimSpace(scientificName)
	if genus != "" && strings.HasPrefix(strings.ToLower(rest), strings.ToLower(genus)+" ") {
		rest = strings.TrimSpace(rest[len(genus):])
	}
	return rest
}

// parseGbifID accepts a bare numeric ID or a gbif.org species URL.
func parseGbifID(raw string) *int64 {
	m := gbifIDPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func parseOptionalInt(raw string) *int {
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptionalFloat(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptionalDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// parseStanding defaults to standing when the column is blank.
func parseStanding(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "caído", "caido", "fallen", "false", "no", "0":
		return false
	default:
		return true
	}
}
