package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortolima/treeobs-go/internal/conf"
	"github.com/cortolima/treeobs-go/internal/errors"
)

// createDatabase initializes a temporary SQLite store for testing.
func createDatabase(t *testing.T) Interface {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "census.db")

	store := New(settings)
	require.NotNil(t, store, "expected a store for enabled SQLite settings")
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

// seedGeography creates one full administrative chain and returns the
// neighborhood at the bottom of it.
func seedGeography(t *testing.T, store Interface, boundary *string) *Neighborhood {
	t.Helper()

	country, err := store.GetOrCreateCountry("Colombia")
	require.NoError(t, err)
	department, err := store.GetOrCreateDepartment("Tolima", country.ID)
	require.NoError(t, err)
	municipality, err := store.GetOrCreateMunicipality("Ibagué", department.ID)
	require.NoError(t, err)
	locality, err := store.GetOrCreateLocality("Comuna 1", municipality.ID, nil)
	require.NoError(t, err)
	neighborhood, err := store.GetOrCreateNeighborhood("La Pola", locality.ID, boundary)
	require.NoError(t, err)
	return neighborhood
}

func seedSpecies(t *testing.T, store Interface) *Species {
	t.Helper()

	family, err := store.GetOrCreateFamily("Fabaceae")
	require.NoError(t, err)
	genus, err := store.GetOrCreateGenus("Albizia", family.ID)
	require.NoError(t, err)
	sp, err := store.GetOrCreateSpecies(&Species{
		GenusID:        genus.ID,
		Name:           "saman",
		ScientificName: "Albizia saman",
		Origin:         "native",
	})
	require.NoError(t, err)
	return sp
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	first, err := store.GetOrCreateFamily("Fabaceae")
	require.NoError(t, err)
	second, err := store.GetOrCreateFamily("Fabaceae")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same name should resolve to the same family")

	genusA, err := store.GetOrCreateGenus("Inga", first.ID)
	require.NoError(t, err)
	genusB, err := store.GetOrCreateGenus("Inga", first.ID)
	require.NoError(t, err)
	assert.Equal(t, genusA.ID, genusB.ID)
}

func TestGetOrCreateGenusRequiresFamily(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	_, err := store.GetOrCreateGenus("Inga", 42)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestGetOrCreateSpeciesFirstSeenWins(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	family, err := store.GetOrCreateFamily("Fabaceae")
	require.NoError(t, err)
	genus, err := store.GetOrCreateGenus("Albizia", family.ID)
	require.NoError(t, err)

	first, err := store.GetOrCreateSpecies(&Species{
		GenusID:        genus.ID,
		ScientificName: "Albizia saman",
		Origin:         "native",
	})
	require.NoError(t, err)

	second, err := store.GetOrCreateSpecies(&Species{
		GenusID:        genus.ID,
		ScientificName: "Albizia saman",
		Origin:         "exotic",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "native", second.Origin, "existing species values must not be overwritten")
}

func TestFindSpeciesByScientificNameMissing(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	sp, err := store.FindSpeciesByScientificName("Quercus humboldtii")
	require.NoError(t, err)
	assert.Nil(t, sp, "a missing species is not an error")
}

func TestGetOrCreateLocalityKeepsStoredBoundary(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	country, err := store.GetOrCreateCountry("Colombia")
	require.NoError(t, err)
	department, err := store.GetOrCreateDepartment("Tolima", country.ID)
	require.NoError(t, err)
	municipality, err := store.GetOrCreateMunicipality("Ibagué", department.ID)
	require.NoError(t, err)

	boundary := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`
	first, err := store.GetOrCreateLocality("Comuna 1", municipality.ID, &boundary)
	require.NoError(t, err)
	require.NotNil(t, first.Boundary)

	second, err := store.GetOrCreateLocality("Comuna 1", municipality.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.Boundary, "boundary written at creation must survive later lookups")
	assert.Equal(t, boundary, *second.Boundary)
}

func TestTreeRecordKeysOrderedByID(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	neighborhood := seedGeography(t, store, nil)
	sp := seedSpecies(t, store)

	codes := []struct{ code, normalized, suffix string }{
		{"10001_F1", "10001_f1", "f1"},
		{"67689 - F3", "67689_f3", "f3"},
		{"27543_10001", "27543_10001", "10001"},
	}
	for _, c := range codes {
		err := store.InsertTreeRecord(&TreeRecord{
			Code:           c.code,
			NormalizedCode: c.normalized,
			CodeSuffix:     c.suffix,
			SpeciesID:      sp.ID,
			NeighborhoodID: neighborhood.ID,
		})
		require.NoError(t, err)
	}

	keys, err := store.TreeRecordKeys()
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1].ID, keys[i].ID, "keys must come back id ascending")
	}
	assert.Equal(t, "10001_f1", keys[0].NormalizedCode)
	assert.Equal(t, "10001", keys[2].CodeSuffix)
}

func TestUnassignedFilteringAndCount(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	sentinel := seedGeography(t, store, nil)
	sp := seedSpecies(t, store)

	// Two untouched records on the sentinel, one already annotated.
	for i, comment := range []string{"", "", "Automatically assigned."} {
		err := store.InsertTreeRecord(&TreeRecord{
			Code:           "10001_F" + string(rune('1'+i)),
			NormalizedCode: "10001_f" + string(rune('1'+i)),
			SpeciesID:      sp.ID,
			NeighborhoodID: sentinel.ID,
			SystemComment:  comment,
		})
		require.NoError(t, err)
	}

	count, err := store.CountUnassigned(sentinel.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.CountUnassigned(sentinel.ID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	ids, err := store.UnassignedIDs(sentinel.ID, false, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	ids, err = store.UnassignedIDs(sentinel.ID, true, 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1, "limit must cap the result set")
}

func TestApplyPlacementsUpdatesRecords(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	sentinel := seedGeography(t, store, nil)
	sp := seedSpecies(t, store)

	target, err := store.GetOrCreateNeighborhood("Belén", sentinel.LocalityID, nil)
	require.NoError(t, err)

	for _, code := range []string{"1_f1", "2_f1"} {
		err := store.InsertTreeRecord(&TreeRecord{
			Code:           code,
			NormalizedCode: code,
			SpeciesID:      sp.ID,
			NeighborhoodID: sentinel.ID,
		})
		require.NoError(t, err)
	}
	ids, err := store.UnassignedIDs(sentinel.ID, false, 0)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	err = store.ApplyPlacements([]Placement{
		{TreeRecordID: ids[0], NeighborhoodID: &target.ID, SystemComment: "moved"},
		{TreeRecordID: ids[1], NeighborhoodID: nil, SystemComment: "no match"},
	})
	require.NoError(t, err)

	records, err := store.TreeRecordsByID(ids)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, target.ID, records[0].NeighborhoodID)
	assert.Equal(t, "moved", records[0].SystemComment)
	assert.Equal(t, sentinel.ID, records[1].NeighborhoodID, "nil placement must leave the neighborhood untouched")
	assert.Equal(t, "no match", records[1].SystemComment)

	// Both now carry a comment, so the default filter skips them.
	count, err := store.CountUnassigned(sentinel.ID, false)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNeighborhoodsWithBoundaryExcludesSentinel(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	boundary := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`
	sentinel := seedGeography(t, store, &boundary)

	other, err := store.GetOrCreateNeighborhood("Belén", sentinel.LocalityID, &boundary)
	require.NoError(t, err)
	_, err = store.GetOrCreateNeighborhood("Sin límite", sentinel.LocalityID, nil)
	require.NoError(t, err)

	neighborhoods, err := store.NeighborhoodsWithBoundary(sentinel.ID)
	require.NoError(t, err)
	require.Len(t, neighborhoods, 1)
	assert.Equal(t, other.ID, neighborhoods[0].ID)
}

func TestFindNeighborhoodByName(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	created := seedGeography(t, store, nil)

	found, err := store.FindNeighborhoodByName("La Pola")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := store.FindNeighborhoodByName("No existe")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindSite(t *testing.T) {
	t.Parallel()
	store := createDatabase(t)

	neighborhood := seedGeography(t, store, nil)
	zone := 1
	created, err := store.GetOrCreateSite(&Site{
		Name:           "Parque Centenario",
		NeighborhoodID: neighborhood.ID,
		Zone:           &zone,
	})
	require.NoError(t, err)

	found, err := store.FindSite("Parque Centenario", neighborhood.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	// Same name under another neighborhood does not match.
	missing, err := store.FindSite("Parque Centenario", neighborhood.ID+1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
