// model.go this code defines the data model for the census store
package datastore

import "time"

// Canonical codes shared by the vocabulary tables and entity fields. The
// "unknown"/"not reported" values are explicit codes, never guesses.
const (
	CodeUnknown      = "unknown"
	CodeOther        = "other"
	CodeNotReported  = "not_reported"
	CodeNotEvaluated = "not_evaluated"
)

// Family is the top level of the taxonomy tree.
type Family struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

// Genus belongs to exactly one Family.
type Genus struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"index:idx_genera_name_family,unique;not null"`
	FamilyID uint   `gorm:"index:idx_genera_name_family,unique;not null"`
}

// Species belongs to exactly one Genus. ScientificName is the accepted
// binomial and the natural key taxonomy rows are correlated by.
type Species struct {
	ID             uint   `gorm:"primaryKey"`
	GenusID        uint   `gorm:"index;not null"`
	Name           string // epithet without the genus prefix
	ScientificName string `gorm:"uniqueIndex;not null"`
	CommonName     string
	GbifID         *int64 // external GBIF identifier, nil when not identified
	Origin         string // origin code, see vocab tables
	IUCNStatus     string
	LifeForm       string
	IdentifiedBy   string
}

// Country, Department, Municipality, Locality, Neighborhood and Site form
// the administrative geography tree, parent-owns-child at every level.
type Country struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

type Department struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"index:idx_departments_name_country,unique;not null"`
	CountryID uint   `gorm:"index:idx_departments_name_country,unique;not null"`
}

type Municipality struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"index:idx_municipalities_name_department,unique;not null"`
	DepartmentID uint   `gorm:"index:idx_municipalities_name_department,unique;not null"`
}

// Locality optionally carries a GeoJSON Polygon/MultiPolygon boundary in
// WGS84 coordinates.
type Locality struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"index:idx_localities_name_municipality,unique;not null"`
	MunicipalityID uint   `gorm:"index:idx_localities_name_municipality,unique;not null"`
	Boundary       *string `gorm:"type:text"`
}

// Neighborhood optionally carries a boundary like Locality. The sentinel
// "unknown" neighborhood and the synthetic per-locality placeholders have no
// boundary.
type Neighborhood struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"index:idx_neighborhoods_name_locality,unique;not null"`
	LocalityID uint   `gorm:"index:idx_neighborhoods_name_locality,unique;not null"`
	Boundary   *string `gorm:"type:text"`
}

// Site is the finest place grain recorded by the census.
type Site struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"index:idx_sites_name_neighborhood,unique;not null"`
	NeighborhoodID uint   `gorm:"index:idx_sites_name_neighborhood,unique;not null"`
	Zone           *int
	Subzone        *int
}

// TreeRecord is one censused tree. Code is the free-form natural key as it
// appeared in the source; NormalizedCode and CodeSuffix are its canonical
// forms used for cross-file matching. SystemComment is the provenance note:
// empty means the record has not been touched by reconciliation.
type TreeRecord struct {
	ID             uint   `gorm:"primaryKey"`
	Code           string `gorm:"not null"`
	NormalizedCode string `gorm:"index;not null"`
	CodeSuffix     string `gorm:"index"`
	CommonName     string
	SpeciesID      uint `gorm:"index;not null"`
	NeighborhoodID uint `gorm:"index;not null"`
	SiteID         *uint
	Longitude      float64
	Latitude       float64
	ElevationM     *float64
	RecordedBy     string
	RecordedAt     *time.Time
	SystemComment  string `gorm:"type:text"`
}

// Measurement belongs to exactly one TreeRecord and is immutable after
// ingestion. The Other* fields carry the raw text when the mapped code is
// the explicit "other" code.
type Measurement struct {
	ID             uint `gorm:"primaryKey"`
	TreeRecordID   uint `gorm:"index;not null"`
	Attribute      string
	OtherAttribute string
	Value          float64
	Unit           string
	OtherUnit      string
	Method         string
	OtherMethod    string
	MeasuredAt     *time.Time
}

// Observation belongs to exactly one TreeRecord and is immutable after
// ingestion.
type Observation struct {
	ID                     uint `gorm:"primaryKey"`
	TreeRecordID           uint `gorm:"index;not null"`
	ReproductiveCondition  string
	PhytosanitaryStatus    string
	PhysicalCondition      string
	FoliageDensity         string
	AestheticValue         string
	GrowthPhase            string
	Standing               bool
	FieldNotes             string `gorm:"type:text"`
	AccompanyingCollectors string
	RecordedBy             string
	ObservedAt             *time.Time
}

// TreeRecordKey is the projection used to build the in-memory resolution
// index: record ID plus both canonical key forms.
type TreeRecordKey struct {
	ID             uint
	NormalizedCode string
	CodeSuffix     string
}

// Placement is one reconciliation outcome to apply to a TreeRecord. A nil
// NeighborhoodID updates only the provenance note (the no-match case).
type Placement struct {
	TreeRecordID   uint
	NeighborhoodID *uint
	SystemComment  string
}
