package objects

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// variant binds a discriminator to its loader and serializer.
type variant struct {
	load      func(tx *gorm.DB, id uuid.UUID) (Entity, error)
	serialize func(Entity) (Document, bool)
}

// variants is the closed set of publicly resolvable kinds. Users live in the
// same identity space but are never exposed through it.
var variants = map[Kind]variant{
	KindTag:         {load: loadTag, serialize: serializeTag},
	KindRawLocation: {load: loadRawLocation, serialize: serializeRawLocation},
	KindLocation:    {load: loadLocation, serialize: serializeLocation},
	KindEvent:       {load: loadEvent, serialize: serializeEvent},
	KindPhoto:       {load: loadPhoto, serialize: serializePhoto},
}

type votableRow struct {
	ID            uuid.UUID `gorm:"column:id"`
	Name          string    `gorm:"column:name"`
	RawLocationID uuid.UUID `gorm:"column:rawlocation_id"`
	Address       string    `gorm:"column:address"`
}

func resolveObject(tx *gorm.DB, id uuid.UUID) (Entity, error) {
	var object Object
	if err := tx.Take(&object, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, id)
	}
	v, ok := variants[object.Type]
	if !ok || v.load == nil {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotFound, id, object.Type)
	}
	return v.load(tx, id)
}

func loadTag(tx *gorm.DB, id uuid.UUID) (Entity, error) {
	var tag Tag
	if err := tx.Take(&tag, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, id)
	}
	return tag, nil
}

// loadRawLocation returns the curated Location built on the raw location when
// there is one, and the bare RawLocation otherwise.
func loadRawLocation(tx *gorm.DB, id uuid.UUID) (Entity, error) {
	var raw RawLocation
	if err := tx.Take(&raw, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, id)
	}
	curated, err := curatedLocations(tx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if location, ok := curated[id]; ok {
		return location, nil
	}
	return raw, nil
}

// curatedLocations maps raw location ids to the curated Location on each.
func curatedLocations(tx *gorm.DB, rawIDs []uuid.UUID) (map[uuid.UUID]Location, error) {
	curated := make(map[uuid.UUID]Location, len(rawIDs))
	if len(rawIDs) == 0 {
		return curated, nil
	}
	var rows []votableRow
	if err := locationQuery(tx).Where("locations.rawlocation_id IN ?", rawIDs).Scan(&rows).Error; err != nil {
		return nil, err
	}
	locations, err := attachLocationAssociations(tx, rows)
	if err != nil {
		return nil, err
	}
	for _, location := range locations {
		curated[location.RawLocationID] = location
	}
	return curated, nil
}

func loadPhoto(tx *gorm.DB, id uuid.UUID) (Entity, error) {
	var photo Photo
	if err := tx.Take(&photo, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, id)
	}
	return photo, nil
}

func loadLocation(tx *gorm.DB, id uuid.UUID) (Entity, error) {
	var rows []votableRow
	if err := locationQuery(tx).Where("locations.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	locations, err := attachLocationAssociations(tx, rows)
	if err != nil {
		return nil, err
	}
	return locations[0], nil
}

func loadEvent(tx *gorm.DB, id uuid.UUID) (Entity, error) {
	var rows []votableRow
	if err := eventQuery(tx).Where("events.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	events, err := attachEventAssociations(tx, rows)
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

func locationQuery(tx *gorm.DB) *gorm.DB {
	return tx.Table("locations").
		Select("locations.id AS id, votables.name AS name, locations.rawlocation_id AS rawlocation_id, rawlocations.address AS address").
		Joins("JOIN votables ON votables.id = locations.id").
		Joins("JOIN rawlocations ON rawlocations.id = locations.rawlocation_id")
}

func eventQuery(tx *gorm.DB) *gorm.DB {
	return tx.Table("events").
		Select("events.id AS id, votables.name AS name, events.rawlocation_id AS rawlocation_id").
		Joins("JOIN votables ON votables.id = events.id")
}

func attachLocationAssociations(tx *gorm.DB, rows []votableRow) ([]Location, error) {
	tags, photos, err := loadAssociations(tx, rowIDs(rows))
	if err != nil {
		return nil, err
	}
	locations := make([]Location, 0, len(rows))
	for _, row := range rows {
		locations = append(locations, Location{
			ID:            row.ID,
			Name:          row.Name,
			RawLocationID: row.RawLocationID,
			Address:       row.Address,
			Tags:          tags[row.ID],
			Photos:        photos[row.ID],
		})
	}
	return locations, nil
}

func attachEventAssociations(tx *gorm.DB, rows []votableRow) ([]Event, error) {
	tags, photos, err := loadAssociations(tx, rowIDs(rows))
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, Event{
			ID:            row.ID,
			Name:          row.Name,
			RawLocationID: row.RawLocationID,
			Tags:          tags[row.ID],
			Photos:        photos[row.ID],
		})
	}
	return events, nil
}

func rowIDs(rows []votableRow) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}

func notFoundOr(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
