// model.go this code defines the data model for the application
package datastore

import "time"

// Token ACL identifiers. The API grants capabilities by attaching these to
// tokens; SystemAdmin implies every other ACL.
const (
	ACLUploadData        = "Upload data"
	ACLManageSources     = "Manage sources"
	ACLManageGroups      = "Manage groups"
	ACLManageAllocations = "Manage allocations"
	ACLRunAnalyses       = "Run analyses"
	ACLSystemAdmin       = "System admin"
)

// PublicGroupName is the group every deployment has. Requests targeting the
// group set "all" resolve to it.
const PublicGroupName = "Public"

// FollowupRequest status values. Facility rejections use the
// "rejected: {reason}" form, so the full status set is open ended.
const (
	FollowupStatusPending      = "pending submission"
	FollowupStatusSubmitted    = "submitted"
	FollowupStatusDeleted      = "deleted"
	FollowupStatusFailedSubmit = "failed to submit"
	FollowupStatusFailedDelete = "failed to delete"
)

// ObjAnalysis status values.
const (
	AnalysisStatusQueued    = "queued"
	AnalysisStatusPending   = "pending"
	AnalysisStatusCompleted = "completed"
	AnalysisStatusFailure   = "failure"
)

// AnalysisService authentication types.
const (
	AuthTypeNone        = "none"
	AuthTypeHeaderToken = "header_token"
	AuthTypeAPIKey      = "api_key"
	AuthTypeHTTPBasic   = "HTTPBasicAuth"
)

// Instrument types.
const (
	InstrumentTypeImager       = "imager"
	InstrumentTypeSpectrograph = "spectrograph"
)

// User represents an account that can hold API tokens and group memberships
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	FirstName    string
	LastName     string
	ContactEmail string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Token authenticates API calls. The ID is the UUIDv4 string presented in
// the Authorization header; ACLs scope what the holder may do.
type Token struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)"`
	Name      string
	UserID    uint       `gorm:"index;not null;constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID"` // Foreign key to associate with User
	User      User       `gorm:"foreignKey:UserID"`
	ACLs      StringList `gorm:"type:text"`
	CreatedAt time.Time
}

// Group is the access control unit. Objs, spectra, photometry and analyses
// are shared by linking them to groups.
type Group struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"uniqueIndex;not null"`
	Nickname        string
	SingleUserGroup bool `gorm:"index"` // every user owns exactly one
	CreatedAt       time.Time
}

// GroupUser represents a user's membership in a group
type GroupUser struct {
	ID      uint `gorm:"primaryKey"`
	GroupID uint `gorm:"not null;uniqueIndex:idx_group_users_group_user"`
	UserID  uint `gorm:"not null;uniqueIndex:idx_group_users_group_user"`
	Admin   bool // group admins may manage shared resources they can read
}

// Obj is an astronomical object. The ID is the external object identifier
// assigned upstream, not an autoincrement.
type Obj struct {
	ID               string `gorm:"primaryKey;type:varchar(64)"`
	RA               float64
	Dec              float64
	Redshift         *float64
	Summary          string     `gorm:"type:text"`
	SummaryIndexedAt *time.Time // when the summary vector was last upserted
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Source is the save association of an Obj to a Group. An obj counts as
// owned by a user iff at least one active Source row links it to one of the
// user's groups.
type Source struct {
	ID        uint   `gorm:"primaryKey"`
	ObjID     string `gorm:"type:varchar(64);not null;uniqueIndex:idx_sources_obj_group"`
	GroupID   uint   `gorm:"not null;uniqueIndex:idx_sources_obj_group"`
	Active    bool   `gorm:"index"`
	SavedByID *uint
	CreatedAt time.Time
}

// Telescope describes an observing facility site.
type Telescope struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Nickname  string
	Latitude  float64
	Longitude float64
	Elevation float64
	Diameter  float64
}

// Instrument is a camera or spectrograph mounted on a telescope. Status is
// an opaque JSON blob reported by the facility.
type Instrument struct {
	ID               uint   `gorm:"primaryKey"`
	Name             string `gorm:"uniqueIndex;not null"`
	Type             string `gorm:"not null"` // Values: "imager", "spectrograph"
	Band             string
	TelescopeID      uint      `gorm:"index;not null"`
	Telescope        Telescope `gorm:"foreignKey:TelescopeID"`
	Filters          string    // comma-separated filter list
	Status           string    `gorm:"type:text"` // JSON blob
	LastStatusUpdate *time.Time
}

// Allocation is observing time granted to a group on an instrument.
// Altdata holds the encrypted per-allocation facility credentials.
type Allocation struct {
	ID           uint   `gorm:"primaryKey"`
	ProposalID   string `gorm:"index"`
	PI           string
	StartDate    time.Time
	EndDate      time.Time
	InstrumentID uint       `gorm:"index;not null"`
	Instrument   Instrument `gorm:"foreignKey:InstrumentID"`
	GroupID      uint       `gorm:"index;not null"`
	Group        Group      `gorm:"foreignKey:GroupID"`
	Hours        float64
	Altdata      string `gorm:"type:text"` // encrypted JSON credential blob
}

// FollowupRequest asks a facility to observe an Obj under an Allocation.
// Payload carries the validated per-instrument observation form.
type FollowupRequest struct {
	ID             uint       `gorm:"primaryKey"`
	ObjID          string     `gorm:"type:varchar(64);index;not null"`
	Obj            Obj        `gorm:"foreignKey:ObjID"`
	AllocationID   uint       `gorm:"index;not null"`
	Allocation     Allocation `gorm:"foreignKey:AllocationID"`
	RequesterID    uint       `gorm:"index;not null"`
	Requester      User       `gorm:"foreignKey:RequesterID"`
	Status         string
	Payload        string                `gorm:"type:text"` // observation form JSON
	TargetGroupIDs IDList                `gorm:"type:text"`
	Transactions   []FacilityTransaction `gorm:"foreignKey:FollowupRequestID;constraint:OnDelete:CASCADE"` // One-to-many relationship with cascade delete
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FacilityTransaction is an append-only audit row of facility traffic, one
// row per document exchange in either direction.
type FacilityTransaction struct {
	ID                uint      `gorm:"primaryKey"`
	CreatedAt         time.Time `gorm:"index"`
	Request           string    `gorm:"type:text"` // outbound document
	Response          string    `gorm:"type:text"` // node agent reply
	FollowupRequestID uint      `gorm:"index;not null"`
	InitiatorID       uint      `gorm:"index"`
}

// Spectrum holds a wavelength-calibrated spectrum of an Obj.
type Spectrum struct {
	ID                 uint       `gorm:"primaryKey"`
	ObjID              string     `gorm:"type:varchar(64);index;not null"`
	Obj                Obj        `gorm:"foreignKey:ObjID"`
	InstrumentID       uint       `gorm:"index;not null"`
	Instrument         Instrument `gorm:"foreignKey:InstrumentID"`
	ObservedAt         time.Time  `gorm:"not null"`
	Origin             string
	Wavelengths        FloatArray `gorm:"type:text;not null"`
	Fluxes             FloatArray `gorm:"type:text;not null"`
	Errors             FloatArray `gorm:"type:text"`
	OriginalFileName   string
	OriginalFileString string `gorm:"type:text"`
	OwnerID            uint   `gorm:"index;not null"` // uploader
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SpectrumGroup links a spectrum to a group that may read it.
type SpectrumGroup struct {
	ID         uint `gorm:"primaryKey"`
	SpectrumID uint `gorm:"not null;uniqueIndex:idx_spectrum_groups"`
	GroupID    uint `gorm:"not null;uniqueIndex:idx_spectrum_groups"`
}

// SpectrumReducer credits a user for the data reduction.
type SpectrumReducer struct {
	ID         uint `gorm:"primaryKey"`
	SpectrumID uint `gorm:"not null;uniqueIndex:idx_spectrum_reducers"`
	UserID     uint `gorm:"not null;uniqueIndex:idx_spectrum_reducers"`
}

// SpectrumObserver credits a user for taking the observation.
type SpectrumObserver struct {
	ID         uint `gorm:"primaryKey"`
	SpectrumID uint `gorm:"not null;uniqueIndex:idx_spectrum_observers"`
	UserID     uint `gorm:"not null;uniqueIndex:idx_spectrum_observers"`
}

// Photometry is a single photometric data point of an Obj.
type Photometry struct {
	ID           uint    `gorm:"primaryKey"`
	ObjID        string  `gorm:"type:varchar(64);index;not null"`
	Obj          Obj     `gorm:"foreignKey:ObjID"`
	InstrumentID uint    `gorm:"index;not null"`
	MJD          float64 `gorm:"index"`
	Mag          *float64
	MagErr       *float64
	Filter       string
	OwnerID      uint `gorm:"index;not null"`
	CreatedAt    time.Time
}

// PhotometryGroup links a photometry point to a group that may read it.
type PhotometryGroup struct {
	ID           uint `gorm:"primaryKey"`
	PhotometryID uint `gorm:"not null;uniqueIndex:idx_photometry_groups"`
	GroupID      uint `gorm:"not null;uniqueIndex:idx_photometry_groups"`
}

// Annotation attaches origin-scoped JSON data to a photometry point.
// One annotation per (photometry, origin) pair.
type Annotation struct {
	ID           uint   `gorm:"primaryKey"`
	PhotometryID uint   `gorm:"not null;uniqueIndex:idx_annotations_photometry_origin"`
	Origin       string `gorm:"not null;uniqueIndex:idx_annotations_photometry_origin"`
	AuthorID     uint   `gorm:"index;not null"`
	Data         string `gorm:"type:text"` // JSON
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AnnotationGroup links an annotation to a group that may read it.
type AnnotationGroup struct {
	ID           uint `gorm:"primaryKey"`
	AnnotationID uint `gorm:"not null;uniqueIndex:idx_annotation_groups"`
	GroupID      uint `gorm:"not null;uniqueIndex:idx_annotation_groups"`
}

// Classification assigns a class name to an Obj, optionally produced by an
// ML pipeline.
type Classification struct {
	ID             uint   `gorm:"primaryKey"`
	ObjID          string `gorm:"type:varchar(64);index;not null"`
	Classification string `gorm:"not null"`
	Taxonomy       string
	Probability    *float64
	AuthorID       uint `gorm:"index;not null"`
	ML             bool `gorm:"index;default:false"` // machine generated
	CreatedAt      time.Time
}

// ClassificationGroup links a classification to a group that may read it.
type ClassificationGroup struct {
	ID               uint `gorm:"primaryKey"`
	ClassificationID uint `gorm:"not null;uniqueIndex:idx_classification_groups"`
	GroupID          uint `gorm:"not null;uniqueIndex:idx_classification_groups"`
}

// AnalysisService describes an external analysis webhook endpoint.
// AuthInfo is stored encrypted.
type AnalysisService struct {
	ID                         uint   `gorm:"primaryKey"`
	Name                       string `gorm:"uniqueIndex;not null"`
	DisplayName                string `gorm:"not null"`
	Description                string `gorm:"type:text"`
	Version                    string
	ContactName                string
	ContactEmail               string
	URL                        string `gorm:"not null"`
	OptionalAnalysisParameters string `gorm:"type:text"` // JSON
	AuthenticationType         string `gorm:"not null"`  // Values: "none", "header_token", "api_key", "HTTPBasicAuth"
	AuthInfo                   string `gorm:"type:text"` // encrypted JSON
	Enabled                    bool   `gorm:"default:true"`
	AnalysisType               string `gorm:"default:lightcurve_fitting"`
	InputDataTypes             StringList `gorm:"type:text"`
	Timeout                    float64    `gorm:"default:3600"` // seconds
	UploadOnly                 bool
	DisplayOnResource          bool `gorm:"default:true"`
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// GroupAnalysisService links an analysis service to a group that may use it.
type GroupAnalysisService struct {
	ID                uint `gorm:"primaryKey"`
	AnalysisServiceID uint `gorm:"not null;uniqueIndex:idx_group_analysis_services"`
	GroupID           uint `gorm:"not null;uniqueIndex:idx_group_analysis_services"`
}

// ObjAnalysis is one invocation of an analysis service against an Obj.
// Result files land in the archive under UniqueID as analysis_<id>.nc.
type ObjAnalysis struct {
	ID                 uint            `gorm:"primaryKey"`
	ObjID              string          `gorm:"type:varchar(64);index;not null"`
	Obj                Obj             `gorm:"foreignKey:ObjID"`
	AnalysisServiceID  uint            `gorm:"index;not null"`
	AnalysisService    AnalysisService `gorm:"foreignKey:AnalysisServiceID;constraint:OnDelete:CASCADE"`
	AuthorID           uint            `gorm:"index;not null"`
	Status             string          `gorm:"default:queued"` // Values: "queued", "pending", "completed", "failure"
	StatusMessage      string
	HandledAt          *time.Time
	InvalidAfter       *time.Time
	Token              string `gorm:"uniqueIndex;type:varchar(36)"` // results webhook token
	UniqueID           string `gorm:"uniqueIndex;type:varchar(36)"` // archive subfolder
	AnalysisParameters string `gorm:"type:text"`                    // JSON
	ShowParameters     bool
	ShowPlots          bool
	ShowCorner         bool
	Filename           string // archived data file path
	Hash               string `gorm:"index"` // md5 of the stored data file
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GroupObjAnalysis links an analysis run to a group that may see it.
type GroupObjAnalysis struct {
	ID            uint `gorm:"primaryKey"`
	ObjAnalysisID uint `gorm:"not null;uniqueIndex:idx_group_obj_analyses"`
	GroupID       uint `gorm:"not null;uniqueIndex:idx_group_obj_analyses"`
}
