package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cortolima/treeobs-go/internal/conf"
	"github.com/cortolima/treeobs-go/internal/datastore"
	"github.com/cortolima/treeobs-go/internal/ingest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

// square renders a GeoJSON polygon covering [x0,x1] x [y0,y1].
func square(x0, y0, x1, y1 float64) string {
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		x0, y0, x1, y0, x1, y1, x0, y1, x0, y0)
}

type fixture struct {
	store      datastore.Interface
	settings   *conf.Settings
	sentinel   *datastore.Neighborhood
	locality   *datastore.Locality
	matched    *datastore.Neighborhood
	speciesID  uint
	nextCodeID int
}

// newFixture seeds a store with one locality boundary covering [0,10]^2, one
// neighborhood boundary covering [0,5]^2 and a boundary-less sentinel.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "census.db")
	settings.Reconcile.BatchSize = 500
	settings.Reconcile.SentinelName = "Desconocido"

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	country, err := store.GetOrCreateCountry("Colombia")
	require.NoError(t, err)
	department, err := store.GetOrCreateDepartment("Tolima", country.ID)
	require.NoError(t, err)
	municipality, err := store.GetOrCreateMunicipality("Ibagué", department.ID)
	require.NoError(t, err)

	localityBoundary := square(0, 0, 10, 10)
	locality, err := store.GetOrCreateLocality("Comuna 1", municipality.ID, &localityBoundary)
	require.NoError(t, err)

	sentinel, err := store.GetOrCreateNeighborhood("Desconocido", locality.ID, nil)
	require.NoError(t, err)

	matchedBoundary := square(0, 0, 5, 5)
	matched, err := store.GetOrCreateNeighborhood("La Pola", locality.ID, &matchedBoundary)
	require.NoError(t, err)

	family, err := store.GetOrCreateFamily("Fabaceae")
	require.NoError(t, err)
	genus, err := store.GetOrCreateGenus("Albizia", family.ID)
	require.NoError(t, err)
	sp, err := store.GetOrCreateSpecies(&datastore.Species{
		GenusID:        genus.ID,
		ScientificName: "Albizia saman",
	})
	require.NoError(t, err)

	return &fixture{
		store:     store,
		settings:  settings,
		sentinel:  sentinel,
		locality:  locality,
		matched:   matched,
		speciesID: sp.ID,
	}
}

// addRecord inserts a sentinel-assigned record at the given point and
// returns its ID.
func (f *fixture) addRecord(t *testing.T, lon, lat float64) uint {
	t.Helper()
	f.nextCodeID++
	code := fmt.Sprintf("%d_f1", f.nextCodeID)
	rec := &datastore.TreeRecord{
		Code:           code,
		NormalizedCode: code,
		CodeSuffix:     "f1",
		SpeciesID:      f.speciesID,
		NeighborhoodID: f.sentinel.ID,
		Longitude:      lon,
		Latitude:       lat,
	}
	require.NoError(t, f.store.InsertTreeRecord(rec))
	return rec.ID
}

func (f *fixture) record(t *testing.T, id uint) datastore.TreeRecord {
	t.Helper()
	records, err := f.store.TreeRecordsByID([]uint{id})
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0]
}

func TestRunAssignsContainingNeighborhood(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, 2, 2)

	rep, err := New(f.store, f.settings).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Matched)
	assert.Zero(t, rep.Failed)

	rec := f.record(t, id)
	assert.Equal(t, f.matched.ID, rec.NeighborhoodID)
	assert.Contains(t, rec.SystemComment, "La Pola")
}

func TestRunCreatesAndReusesPlaceholder(t *testing.T) {
	f := newFixture(t)
	// Both points are inside the locality boundary but outside every
	// neighborhood boundary.
	first := f.addRecord(t, 7, 7)
	second := f.addRecord(t, 8, 8)

	rep, err := New(f.store, f.settings).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.PlaceholderAssigned)
	assert.Equal(t, 1, rep.PlaceholdersCreated, "one locality gets exactly one placeholder")
	assert.Zero(t, rep.PlaceholdersReused)

	ph, err := f.store.FindNeighborhood("Desconocido en Comuna 1", f.locality.ID)
	require.NoError(t, err)
	require.NotNil(t, ph)

	recFirst := f.record(t, first)
	recSecond := f.record(t, second)
	assert.Equal(t, ph.ID, recFirst.NeighborhoodID)
	assert.Equal(t, ph.ID, recSecond.NeighborhoodID)
	assert.Contains(t, recFirst.SystemComment, "Desconocido en Comuna 1")
	assert.Contains(t, recFirst.SystemComment, "Comuna 1")

	// A later record in the same locality reuses the stored placeholder.
	third := f.addRecord(t, 9, 9)
	rep, err = New(f.store, f.settings).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, rep.PlaceholdersCreated)
	assert.Equal(t, 1, rep.PlaceholdersReused)
	assert.Equal(t, ph.ID, f.record(t, third).NeighborhoodID)
}

func TestRunLeavesUnmatchedRecordsAnnotated(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, 50, 50)

	rep, err := New(f.store, f.settings).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.NoMatch)

	rec := f.record(t, id)
	assert.Equal(t, f.sentinel.ID, rec.NeighborhoodID, "place reference stays unchanged")
	assert.NotEmpty(t, rec.SystemComment)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, 2, 2)
	f.addRecord(t, 7, 7)
	f.addRecord(t, 50, 50)

	engine := New(f.store, f.settings)
	first, err := engine.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)

	second, err := engine.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, second.Eligible, "annotated records are not reprocessed")
	assert.Zero(t, second.Processed)
	assert.Zero(t, second.PlaceholdersCreated)
}

func TestRunAllRecordsReprocessesAnnotated(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, 50, 50)

	engine := New(f.store, f.settings)
	_, err := engine.Run(context.Background(), Options{})
	require.NoError(t, err)

	rep, err := engine.Run(context.Background(), Options{AllRecords: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Eligible)
	assert.Equal(t, 1, rep.Processed)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, 2, 2)
	f.addRecord(t, 7, 7)

	rep, err := New(f.store, f.settings).Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Matched)
	assert.Equal(t, 1, rep.PlaceholdersCreated, "dry run still reports would-be creations")

	// Nothing was persisted: records still eligible, no placeholder row.
	count, err := f.store.CountUnassigned(f.sentinel.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ph, err := f.store.FindNeighborhood("Desconocido en Comuna 1", f.locality.ID)
	require.NoError(t, err)
	assert.Nil(t, ph)
}

func TestRunStatsOnlyCountsWithoutProcessing(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, 2, 2)
	f.addRecord(t, 7, 7)

	rep, err := New(f.store, f.settings).Run(context.Background(), Options{StatsOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.Eligible)
	assert.Zero(t, rep.Processed)

	count, err := f.store.CountUnassigned(f.sentinel.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRunHonorsLimit(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, 2, 2)
	f.addRecord(t, 2, 3)
	f.addRecord(t, 2, 4)

	rep, err := New(f.store, f.settings).Run(context.Background(), Options{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed)

	count, err := f.store.CountUnassigned(f.sentinel.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// faultyStore delegates to the real store but fails the first N calls to
// ApplyPlacements, simulating a transient write error on one batch.
type faultyStore struct {
	datastore.Interface
	failures int
}

func (s *faultyStore) ApplyPlacements(batch []datastore.Placement) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("simulated write failure")
	}
	return s.Interface.ApplyPlacements(batch)
}

func TestRunRecoversFromFailedBatch(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.addRecord(t, 2, 1+float64(i)/2)
	}

	store := &faultyStore{Interface: f.store, failures: 1}
	rep, err := New(store, f.settings).Run(context.Background(), Options{BatchSize: 2})
	require.NoError(t, err)

	// First batch of two fails, second commits.
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 2, rep.Matched)
	assert.Equal(t, rep.Processed, rep.Matched+rep.PlaceholderAssigned+rep.NoMatch)

	count, err := f.store.CountUnassigned(f.sentinel.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRunFailsWithoutSentinel(t *testing.T) {
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "census.db")

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	_, err := New(store, settings).Run(context.Background(), Options{})
	require.Error(t, err)
}

// TestIngestThenReconcile walks the full pipeline: import one species, a
// place chain with a sentinel and a locality boundary, one record pointing
// at the sentinel, then reconcile and expect exactly one placeholder.
func TestIngestThenReconcile(t *testing.T) {
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "census.db")
	settings.Reconcile.SentinelName = "Desconocido"

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	dir := t.TempDir()
	files := map[string]string{
		"taxonomy.csv": "family,genus,specie,accept_scientific_name\n" +
			"Fabaceae,Albizia,saman,Albizia saman\n",
		"places.csv": "country,department,municipality,locality,neighborhood,site,locality_boundary\n" +
			"Colombia,Tolima,Ibagué,Comuna 1,Desconocido,Parque," + csvQuote(square(0, 0, 10, 10)) + "\n",
		"records.csv": "code_record,latitude,longitude,scientific_name,neighborhood\n" +
			"10001_F1,5,5,Albizia saman,Desconocido\n",
		"measurements.csv": "record_code,measurement_name,measurement_value\n",
		"observations.csv": "record_code\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	settings.Ingest.Dir = dir
	orchestrator, err := ingest.NewOrchestrator(store, settings)
	require.NoError(t, err)
	_, err = orchestrator.ImportAll(context.Background())
	require.NoError(t, err)

	rep, err := New(store, settings).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.PlaceholderAssigned)
	assert.Equal(t, 1, rep.PlaceholdersCreated)

	sentinel, err := store.FindNeighborhoodByName("Desconocido")
	require.NoError(t, err)
	require.NotNil(t, sentinel)
	ph, err := store.FindNeighborhood("Desconocido en Comuna 1", sentinel.LocalityID)
	require.NoError(t, err)
	require.NotNil(t, ph)

	keys, err := store.TreeRecordKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	rec, err := store.TreeRecordsByID([]uint{keys[0].ID})
	require.NoError(t, err)
	assert.Equal(t, ph.ID, rec[0].NeighborhoodID)
}

// csvQuote wraps a field in CSV quotes, doubling embedded quote characters.
func csvQuote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
