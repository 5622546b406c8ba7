// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cortolima/treeobs-go/internal/conf"
	"github.com/cortolima/treeobs-go/internal/errors"
)

// Interface abstracts the underlying database implementation and defines the
// operations the ingestion orchestrator and the reconciliation engine
// consume.
type Interface interface {
	Open() error
	Close() error

	// Taxonomy, get-or-create is first-seen-wins and parent-scoped.
	GetOrCreateFamily(name string) (*Family, error)
	GetOrCreateGenus(name string, familyID uint) (*Genus, error)
	GetOrCreateSpecies(sp *Species) (*Species, error)
	FindSpeciesByScientificName(name string) (*Species, error)

	// Administrative geography.
	GetOrCreateCountry(name string) (*Country, error)
	GetOrCreateDepartment(name string, countryID uint) (*Department, error)
	GetOrCreateMunicipality(name string, departmentID uint) (*Municipality, error)
	GetOrCreateLocality(name string, municipalityID uint, boundary *string) (*Locality, error)
	GetOrCreateNeighborhood(name string, localityID uint, boundary *string) (*Neighborhood, error)
	GetOrCreateSite(site *Site) (*Site, error)
	FindSite(name string, neighborhoodID uint) (*Site, error)
	FindNeighborhood(name string, localityID uint) (*Neighborhood, error)
	FindNeighborhoodByName(name string) (*Neighborhood, error)
	CreateNeighborhood(n *Neighborhood) error

	// Census records.
	InsertTreeRecord(rec *TreeRecord) error
	TreeRecordKeys() ([]TreeRecordKey, error)
	InsertMeasurement(m *Measurement) error
	InsertObservation(o *Observation) error

	// Reconciliation support.
	CountUnassigned(sentinelID uint, includeProcessed bool) (int64, error)
	UnassignedIDs(sentinelID uint, includeProcessed bool, limit int) ([]uint, error)
	TreeRecordsByID(ids []uint) ([]TreeRecord, error)
	ApplyPlacements(batch []Placement) error
	NeighborhoodsWithBoundary(excludeID uint) ([]Neighborhood, error)
	LocalitiesWithBoundary() ([]Locality, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new store instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// requireName rejects blank natural keys; a struct-based lookup with an
// empty name would otherwise match arbitrary rows.
func requireName(name, kind string) error {
	if strings.TrimSpace(name) == "" {
		return errors.Newf("%s name must not be empty", kind).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// GetOrCreateFamily returns the family with the given name, creating it on
// first sight.
func (ds *DataStore) GetOrCreateFamily(name string) (*Family, error) {
	if err := requireName(name, "family"); err != nil {
		return nil, err
	}
	var family Family
	err := ds.DB.Where(&Family{Name: name}).FirstOrCreate(&family).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_family")
	}
	return &family, nil
}

// GetOrCreateGenus returns the genus with the given name under familyID,
// creating it on first sight. The parent family must exist.
func (ds *DataStore) GetOrCreateGenus(name string, familyID uint) (*Genus, error) {
	if err := requireName(name, "genus"); err != nil {
		return nil, err
	}
	if err := ds.requireParent(&Family{}, familyID, "family"); err != nil {
		return nil, err
	}
	var genus Genus
	err := ds.DB.Where(&Genus{Name: name, FamilyID: familyID}).FirstOrCreate(&genus).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_genus")
	}
	return &genus, nil
}

// GetOrCreateSpecies returns the species with sp's scientific name, creating
// sp on first sight. An existing row wins over the incoming values.
func (ds *DataStore) GetOrCreateSpecies(sp *Species) (*Species, error) {
	if err := requireName(sp.ScientificName, "species"); err != nil {
		return nil, err
	}
	existing, err := ds.FindSpeciesByScientificName(sp.ScientificName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := ds.requireParent(&Genus{}, sp.GenusID, "genus"); err != nil {
		return nil, err
	}
	if err := ds.DB.Create(sp).Error; err != nil {
		return nil, dbError(err, "create_species")
	}
	return sp, nil
}

// FindSpeciesByScientificName returns the matching species, or nil when none
// exists.
func (ds *DataStore) FindSpeciesByScientificName(name string) (*Species, error) {
	var sp Species
	err := ds.DB.Where("scientific_name = ?", name).First(&sp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "find_species")
	}
	return &sp, nil
}

// GetOrCreateCountry returns the country with the given name, creating it on
// first sight.
func (ds *DataStore) GetOrCreateCountry(name string) (*Country, error) {
	if err := requireName(name, "country"); err != nil {
		return nil, err
	}
	var country Country
	err := ds.DB.Where(&Country{Name: name}).FirstOrCreate(&country).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_country")
	}
	return &country, nil
}

func (ds *DataStore) GetOrCreateDepartment(name string, countryID uint) (*Department, error) {
	if err := requireName(name, "department"); err != nil {
		return nil, err
	}
	if err := ds.requireParent(&Country{}, countryID, "country"); err != nil {
		return nil, err
	}
	var department Department
	err := ds.DB.Where(&Department{Name: name, CountryID: countryID}).FirstOrCreate(&department).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_department")
	}
	return &department, nil
}

func (ds *DataStore) GetOrCreateMunicipality(name string, departmentID uint) (*Municipality, error) {
	if err := requireName(name, "municipality"); err != nil {
		return nil, err
	}
	if err := ds.requireParent(&Department{}, departmentID, "department"); err != nil {
		return nil, err
	}
	var municipality Municipality
	err := ds.DB.Where(&Municipality{Name: name, DepartmentID: departmentID}).FirstOrCreate(&municipality).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_municipality")
	}
	return &municipality, nil
}

// GetOrCreateLocality returns the locality with the given name under the
// municipality, creating it on first sight. A boundary is only written at
// creation; an existing locality keeps its stored boundary.
func (ds *DataStore) GetOrCreateLocality(name string, municipalityID uint, boundary *string) (*Locality, error) {
	if err := requireName(name, "locality"); err != nil {
		return nil, err
	}
	if err := ds.requireParent(&Municipality{}, municipalityID, "municipality"); err != nil {
		return nil, err
	}
	var locality Locality
	err := ds.DB.Where(&Locality{Name: name, MunicipalityID: municipalityID}).
		Attrs(&Locality{Boundary: boundary}).
		FirstOrCreate(&locality).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_locality")
	}
	return &locality, nil
}

// GetOrCreateNeighborhood behaves like GetOrCreateLocality one level down.
func (ds *DataStore) GetOrCreateNeighborhood(name string, localityID uint, boundary *string) (*Neighborhood, error) {
	if err := requireName(name, "neighborhood"); err != nil {
		return nil, err
	}
	if err := ds.requireParent(&Locality{}, localityID, "locality"); err != nil {
		return nil, err
	}
	var neighborhood Neighborhood
	err := ds.DB.Where(&Neighborhood{Name: name, LocalityID: localityID}).
		Attrs(&Neighborhood{Boundary: boundary}).
		FirstOrCreate(&neighborhood).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_neighborhood")
	}
	return &neighborhood, nil
}

func (ds *DataStore) GetOrCreateSite(site *Site) (*Site, error) {
	if err := requireName(site.Name, "site"); err != nil {
		return nil, err
	}
	if err := ds.requireParent(&Neighborhood{}, site.NeighborhoodID, "neighborhood"); err != nil {
		return nil, err
	}
	var existing Site
	err := ds.DB.Where(&Site{Name: site.Name, NeighborhoodID: site.NeighborhoodID}).
		Attrs(site).
		FirstOrCreate(&existing).Error
	if err != nil {
		return nil, dbError(err, "get_or_create_site")
	}
	return &existing, nil
}

// FindSite returns the site with the given name under neighborhoodID, or
// nil when none exists.
func (ds *DataStore) FindSite(name string, neighborhoodID uint) (*Site, error) {
	var s Site
	err := ds.DB.Where("name = ? AND neighborhood_id = ?", name, neighborhoodID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "find_site")
	}
	return &s, nil
}

// FindNeighborhood returns the neighborhood with the given name under
// localityID, or nil when none exists.
func (ds *DataStore) FindNeighborhood(name string, localityID uint) (*Neighborhood, error) {
	var n Neighborhood
	err := ds.DB.Where("name = ? AND locality_id = ?", name, localityID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "find_neighborhood")
	}
	return &n, nil
}

// FindNeighborhoodByName returns the lowest-ID neighborhood with the given
// name in any locality, or nil when none exists. Used to locate the sentinel
// by its conventional name.
func (ds *DataStore) FindNeighborhoodByName(name string) (*Neighborhood, error) {
	var n Neighborhood
	err := ds.DB.Where("name = ?", name).Order("id ASC").First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "find_neighborhood_by_name")
	}
	return &n, nil
}

// CreateNeighborhood inserts a new neighborhood. The parent locality must
// exist.
func (ds *DataStore) CreateNeighborhood(n *Neighborhood) error {
	if err := requireName(n.Name, "neighborhood"); err != nil {
		return err
	}
	if err := ds.requireParent(&Locality{}, n.LocalityID, "locality"); err != nil {
		return err
	}
	if err := ds.DB.Create(n).Error; err != nil {
		return dbError(err, "create_neighborhood")
	}
	return nil
}

// InsertTreeRecord inserts a new tree record.
func (ds *DataStore) InsertTreeRecord(rec *TreeRecord) error {
	if err := ds.DB.Create(rec).Error; err != nil {
		return dbError(err, "insert_tree_record")
	}
	return nil
}

// TreeRecordKeys returns the id and canonical key forms of every tree
// record, id ascending.
func (ds *DataStore) TreeRecordKeys() ([]TreeRecordKey, error) {
	var result []TreeRecordKey
	err := ds.DB.Model(&TreeRecord{}).
		Select("id", "normalized_code", "code_suffix").
		Order("id ASC").
		Find(&result).Error
	if err != nil {
		return nil, dbError(err, "tree_record_keys")
	}
	return result, nil
}

func (ds *DataStore) InsertMeasurement(m *Measurement) error {
	if err := ds.DB.Create(m).Error; err != nil {
		return dbError(err, "insert_measurement")
	}
	return nil
}

func (ds *DataStore) InsertObservation(o *Observation) error {
	if err := ds.DB.Create(o).Error; err != nil {
		return dbError(err, "insert_observation")
	}
	return nil
}

func (ds *DataStore) unassignedQuery(sentinelID uint, includeProcessed bool) *gorm.DB {
	query := ds.DB.Model(&TreeRecord{}).Where("neighborhood_id = ?", sentinelID)
	if !includeProcessed {
		query = query.Where("(system_comment = '' OR system_comment IS NULL)")
	}
	return query
}

// CountUnassigned counts the records still pointing at the sentinel
// neighborhood. Unless includeProcessed is set, records that already carry a
// provenance note are excluded.
func (ds *DataStore) CountUnassigned(sentinelID uint, includeProcessed bool) (int64, error) {
	var count int64
	if err := ds.unassignedQuery(sentinelID, includeProcessed).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_unassigned")
	}
	return count, nil
}

// UnassignedIDs returns the IDs of records eligible for reconciliation in
// stable ascending order. A non-positive limit returns all of them.
func (ds *DataStore) UnassignedIDs(sentinelID uint, includeProcessed bool, limit int) ([]uint, error) {
	query := ds.unassignedQuery(sentinelID, includeProcessed).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var ids []uint
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, dbError(err, "unassigned_ids")
	}
	return ids, nil
}

// TreeRecordsByID fetches the given records, id ascending.
func (ds *DataStore) TreeRecordsByID(ids []uint) ([]TreeRecord, error) {
	var records []TreeRecord
	err := ds.DB.Where("id IN ?", ids).Order("id ASC").Find(&records).Error
	if err != nil {
		return nil, dbError(err, "tree_records_by_id")
	}
	return records, nil
}

// ApplyPlacements applies a batch of reconciliation outcomes in a single
// transaction: either all of the batch commits or none of it does.
func (ds *DataStore) ApplyPlacements(batch []Placement) error {
	if len(batch) == 0 {
		return nil
	}
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			p := &batch[i]
			updates := map[string]any{"system_comment": p.SystemComment}
			if p.NeighborhoodID != nil {
				updates["neighborhood_id"] = *p.NeighborhoodID
			}
			if err := tx.Model(&TreeRecord{}).Where("id = ?", p.TreeRecordID).Updates(updates).Error; err != nil {
				return fmt.Errorf("updating record %d: %w", p.TreeRecordID, err)
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "apply_placements")
	}
	return nil
}

// NeighborhoodsWithBoundary returns all neighborhoods carrying a boundary,
// excluding the sentinel, id ascending for deterministic tie-breaks.
func (ds *DataStore) NeighborhoodsWithBoundary(excludeID uint) ([]Neighborhood, error) {
	var neighborhoods []Neighborhood
	err := ds.DB.Where("boundary IS NOT NULL AND id <> ?", excludeID).
		Order("id ASC").
		Find(&neighborhoods).Error
	if err != nil {
		return nil, dbError(err, "neighborhoods_with_boundary")
	}
	return neighborhoods, nil
}

// LocalitiesWithBoundary returns all localities carrying a boundary, id
// ascending.
func (ds *DataStore) LocalitiesWithBoundary() ([]Locality, error) {
	var localities []Locality
	err := ds.DB.Where("boundary IS NOT NULL").Order("id ASC").Find(&localities).Error
	if err != nil {
		return nil, dbError(err, "localities_with_boundary")
	}
	return localities, nil
}

// requireParent verifies that the referenced parent entity exists, keeping
// the geography and taxonomy trees well-formed at creation time.
func (ds *DataStore) requireParent(model any, id uint, kind string) error {
	if id == 0 {
		return errors.Newf("missing %s reference", kind).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	err := ds.DB.First(model, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Newf("%s %d does not exist", kind, id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context(kind+"_id", id).
			Build()
	}
	if err != nil {
		return dbError(err, "require_parent")
	}
	return nil
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	err := db.AutoMigrate(
		&Family{}, &Genus{}, &Species{},
		&Country{}, &Department{}, &Municipality{}, &Locality{}, &Neighborhood{}, &Site{},
		&TreeRecord{}, &Measurement{}, &Observation{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}
	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() gormlogger.Interface {
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
			Colorful:      true,
		},
	)
}
