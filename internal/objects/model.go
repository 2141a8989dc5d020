package objects

import "github.com/google/uuid"

// Kind is the discriminator stored with every base identity row.
type Kind string

const (
	KindTag         Kind = "tag"
	KindRawLocation Kind = "rawlocation"
	KindLocation    Kind = "location"
	KindEvent       Kind = "event"
	KindPhoto       Kind = "photo"
	KindUser        Kind = "user"
)

// Entity is any concrete variant resolved from the shared identity space.
type Entity interface {
	ObjectID() uuid.UUID
	Kind() Kind
}

// Object is the base identity row shared by every variant.
type Object struct {
	ID   uuid.UUID `gorm:"column:id;primaryKey"`
	Type Kind      `gorm:"column:type;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Object) TableName() string {
	return "uuidobjects"
}

// Tag is a free-form label attached to votables.
type Tag struct {
	ID   uuid.UUID `gorm:"column:id;primaryKey"`
	Name string    `gorm:"column:name;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

func (t Tag) ObjectID() uuid.UUID { return t.ID }
func (Tag) Kind() Kind            { return KindTag }

// RawLocation is a bare address. Without a curated Location it is ephemeral.
type RawLocation struct {
	ID      uuid.UUID `gorm:"column:id;primaryKey"`
	Address string    `gorm:"column:address;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RawLocation) TableName() string {
	return "rawlocations"
}

func (r RawLocation) ObjectID() uuid.UUID { return r.ID }
func (RawLocation) Kind() Kind            { return KindRawLocation }

// Photo is a unique image URL that votables link to.
type Photo struct {
	ID  uuid.UUID `gorm:"column:id;primaryKey"`
	URL string    `gorm:"column:photourl;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Photo) TableName() string {
	return "photos"
}

func (p Photo) ObjectID() uuid.UUID { return p.ID }
func (Photo) Kind() Kind            { return KindPhoto }

// Location is a curated, votable place. Address is loaded from its RawLocation.
type Location struct {
	ID            uuid.UUID
	Name          string
	RawLocationID uuid.UUID
	Address       string
	Tags          []uuid.UUID
	Photos        []string
}

func (l Location) ObjectID() uuid.UUID { return l.ID }
func (Location) Kind() Kind            { return KindLocation }

// Event is a votable happening at a RawLocation.
type Event struct {
	ID            uuid.UUID
	Name          string
	RawLocationID uuid.UUID
	Tags          []uuid.UUID
	Photos        []string
}

func (e Event) ObjectID() uuid.UUID { return e.ID }
func (Event) Kind() Kind            { return KindEvent }

type votableRecord struct {
	ID   uuid.UUID `gorm:"column:id;primaryKey"`
	Name string    `gorm:"column:name;not null"`
}

func (votableRecord) TableName() string {
	return "votables"
}

type locationRecord struct {
	ID            uuid.UUID `gorm:"column:id;primaryKey"`
	RawLocationID uuid.UUID `gorm:"column:rawlocation_id;not null"`
}

func (locationRecord) TableName() string {
	return "locations"
}

type eventRecord struct {
	ID            uuid.UUID `gorm:"column:id;primaryKey"`
	RawLocationID uuid.UUID `gorm:"column:rawlocation_id;not null"`
}

func (eventRecord) TableName() string {
	return "events"
}

// VotableTag is an association row linking a votable to a tag.
type VotableTag struct {
	VotableID uuid.UUID `gorm:"column:votable_id;primaryKey"`
	TagID     uuid.UUID `gorm:"column:tag_id;primaryKey"`
}

// TableName provides the explicit table binding for GORM.
func (VotableTag) TableName() string {
	return "votable_tags"
}

// VotablePhoto is an association row placing a photo in a votable's ordered photo list.
type VotablePhoto struct {
	VotableID uuid.UUID `gorm:"column:votable_id;primaryKey"`
	PhotoID   uuid.UUID `gorm:"column:photo_id;primaryKey"`
	Position  int       `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VotablePhoto) TableName() string {
	return "votable_photos"
}
