package objects

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicate indicates the identifier or a unique value is already taken.
	ErrDuplicate = errors.New("objects: already exists")
	// ErrInvalidEntity indicates a create request is missing required fields.
	ErrInvalidEntity = errors.New("objects: invalid entity")

	noOpLogger = zap.NewNop()
)

const (
	opStoreNew          = "objects.store.new"
	opResolve           = "objects.resolve"
	opListLocations     = "objects.list_locations"
	opListEvents        = "objects.list_events"
	opListTags          = "objects.list_tags"
	opListVenues        = "objects.list_venues"
	opCreateTag         = "objects.create_tag"
	opCreateRawLocation = "objects.create_rawlocation"
	opCreateLocation    = "objects.create_location"
	opCreateEvent       = "objects.create_event"
	opCreatePhoto       = "objects.create_photo"
	opDelete            = "objects.delete"
	opDeleteAll         = "objects.delete_all"
)

// StoreConfig describes the dependencies of the entity store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store loads, creates, links, and deletes entities in the shared identity space.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, NewServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, NewServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// WithTx returns a Store whose operations run inside tx, as savepoints.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	scoped := *s
	scoped.db = tx
	return &scoped
}

// Resolve loads the entity named by raw, whatever its kind. A raw location
// upgraded to a curated Location resolves to that Location.
func (s *Store) Resolve(ctx context.Context, raw string) (Entity, error) {
	id, err := ParseID(raw)
	if err != nil {
		return nil, err
	}
	var entity Entity
	err = s.transact(ctx, opResolve, func(tx *gorm.DB) error {
		loaded, err := resolveObject(tx, id)
		if err != nil {
			return err
		}
		entity = loaded
		return nil
	}, zap.String("id", id.String()))
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// ResolveKind loads the entity named by raw and requires it to be one of kinds.
// An entity of any other kind is reported as ErrNotFound.
func (s *Store) ResolveKind(ctx context.Context, raw string, kinds ...Kind) (Entity, error) {
	entity, err := s.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(kinds, entity.Kind()) {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotFound, entity.ObjectID(), entity.Kind())
	}
	return entity, nil
}

// ListLocations returns up to limit curated locations ordered by identifier.
func (s *Store) ListLocations(ctx context.Context, limit int) ([]Location, error) {
	if limit <= 0 {
		return []Location{}, nil
	}
	var locations []Location
	err := s.transact(ctx, opListLocations, func(tx *gorm.DB) error {
		var rows []votableRow
		if err := locationQuery(tx).Order("locations.id").Limit(limit).Scan(&rows).Error; err != nil {
			return err
		}
		loaded, err := attachLocationAssociations(tx, rows)
		if err != nil {
			return err
		}
		locations = loaded
		return nil
	})
	return locations, err
}

// ListEvents returns up to limit events ordered by identifier.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return []Event{}, nil
	}
	var events []Event
	err := s.transact(ctx, opListEvents, func(tx *gorm.DB) error {
		var rows []votableRow
		if err := eventQuery(tx).Order("events.id").Limit(limit).Scan(&rows).Error; err != nil {
			return err
		}
		loaded, err := attachEventAssociations(tx, rows)
		if err != nil {
			return err
		}
		events = loaded
		return nil
	})
	return events, err
}

// Tags loads the tags with the given identifiers. Unknown identifiers are skipped.
func (s *Store) Tags(ctx context.Context, ids []uuid.UUID) ([]Tag, error) {
	tags := []Tag{}
	if len(ids) == 0 {
		return tags, nil
	}
	err := s.transact(ctx, opListTags, func(tx *gorm.DB) error {
		return tx.Where("id IN ?", ids).Order("id").Find(&tags).Error
	})
	return tags, err
}

// Venues loads the places behind the given raw location identifiers, keyed by
// raw location id. A raw location with a curated Location yields that Location.
// Unknown identifiers are skipped.
func (s *Store) Venues(ctx context.Context, rawIDs []uuid.UUID) (map[uuid.UUID]Entity, error) {
	venues := make(map[uuid.UUID]Entity, len(rawIDs))
	if len(rawIDs) == 0 {
		return venues, nil
	}
	err := s.transact(ctx, opListVenues, func(tx *gorm.DB) error {
		var raws []RawLocation
		if err := tx.Where("id IN ?", rawIDs).Find(&raws).Error; err != nil {
			return err
		}
		curated, err := curatedLocations(tx, rawIDs)
		if err != nil {
			return err
		}
		for _, raw := range raws {
			if location, ok := curated[raw.ID]; ok {
				venues[raw.ID] = location
				continue
			}
			venues[raw.ID] = raw
		}
		return nil
	})
	return venues, err
}

// CreateTag stores a tag, assigning an identifier when tag.ID is zero.
func (s *Store) CreateTag(ctx context.Context, tag Tag) (Tag, error) {
	if strings.TrimSpace(tag.Name) == "" {
		return Tag{}, fmt.Errorf("%w: tag name is required", ErrInvalidEntity)
	}
	id, err := s.assignID(tag.ID)
	if err != nil {
		return Tag{}, err
	}
	tag.ID = id
	err = s.transact(ctx, opCreateTag, func(tx *gorm.DB) error {
		if err := InsertObject(tx, tag.ID, KindTag); err != nil {
			return err
		}
		return tx.Create(&tag).Error
	}, zap.String("id", tag.ID.String()))
	if err != nil {
		return Tag{}, err
	}
	return tag, nil
}

// CreateRawLocation stores a bare address, assigning an identifier when raw.ID is zero.
func (s *Store) CreateRawLocation(ctx context.Context, raw RawLocation) (RawLocation, error) {
	if strings.TrimSpace(raw.Address) == "" {
		return RawLocation{}, fmt.Errorf("%w: address is required", ErrInvalidEntity)
	}
	id, err := s.assignID(raw.ID)
	if err != nil {
		return RawLocation{}, err
	}
	raw.ID = id
	err = s.transact(ctx, opCreateRawLocation, func(tx *gorm.DB) error {
		if err := InsertObject(tx, raw.ID, KindRawLocation); err != nil {
			return err
		}
		return tx.Create(&raw).Error
	}, zap.String("id", raw.ID.String()))
	if err != nil {
		return RawLocation{}, err
	}
	return raw, nil
}

// CreatePhoto registers a photo URL.
func (s *Store) CreatePhoto(ctx context.Context, url string) (Photo, error) {
	var photo Photo
	err := s.transact(ctx, opCreatePhoto, func(tx *gorm.DB) error {
		created, err := s.insertPhoto(tx, url)
		if err != nil {
			return err
		}
		photo = created
		return nil
	}, zap.String("photourl", url))
	return photo, err
}

// CreateLocation stores a curated location at an existing raw location,
// linking location.Tags and location.Photos (by URL) in the given order.
func (s *Store) CreateLocation(ctx context.Context, location Location) (Location, error) {
	if strings.TrimSpace(location.Name) == "" {
		return Location{}, fmt.Errorf("%w: location name is required", ErrInvalidEntity)
	}
	if location.RawLocationID == uuid.Nil {
		return Location{}, fmt.Errorf("%w: raw location is required", ErrInvalidEntity)
	}
	id, err := s.assignID(location.ID)
	if err != nil {
		return Location{}, err
	}
	var created Location
	err = s.transact(ctx, opCreateLocation, func(tx *gorm.DB) error {
		if err := s.insertVotable(tx, id, KindLocation, location.Name, location.Tags, location.Photos, func() error {
			if err := requireRow(tx, "rawlocations", location.RawLocationID); err != nil {
				return err
			}
			return tx.Create(&locationRecord{ID: id, RawLocationID: location.RawLocationID}).Error
		}); err != nil {
			return err
		}
		loaded, err := loadLocation(tx, id)
		if err != nil {
			return err
		}
		created = loaded.(Location)
		return nil
	}, zap.String("id", id.String()))
	return created, err
}

// CreateEvent stores an event at an existing raw location, linking
// event.Tags and event.Photos (by URL) in the given order.
func (s *Store) CreateEvent(ctx context.Context, event Event) (Event, error) {
	if strings.TrimSpace(event.Name) == "" {
		return Event{}, fmt.Errorf("%w: event name is required", ErrInvalidEntity)
	}
	if event.RawLocationID == uuid.Nil {
		return Event{}, fmt.Errorf("%w: raw location is required", ErrInvalidEntity)
	}
	id, err := s.assignID(event.ID)
	if err != nil {
		return Event{}, err
	}
	var created Event
	err = s.transact(ctx, opCreateEvent, func(tx *gorm.DB) error {
		if err := s.insertVotable(tx, id, KindEvent, event.Name, event.Tags, event.Photos, func() error {
			if err := requireRow(tx, "rawlocations", event.RawLocationID); err != nil {
				return err
			}
			return tx.Create(&eventRecord{ID: id, RawLocationID: event.RawLocationID}).Error
		}); err != nil {
			return err
		}
		loaded, err := loadEvent(tx, id)
		if err != nil {
			return err
		}
		created = loaded.(Event)
		return nil
	}, zap.String("id", id.String()))
	return created, err
}

// Delete physically removes the entity named by raw. Association rows and
// votes are removed by cascade. Deleting a raw location also deletes every
// location and event held there.
func (s *Store) Delete(ctx context.Context, raw string) error {
	id, err := ParseID(raw)
	if err != nil {
		return err
	}
	return s.transact(ctx, opDelete, func(tx *gorm.DB) error {
		if err := deleteVenueDependents(tx, id); err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&Object{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	}, zap.String("id", id.String()))
}

// DeleteAll removes every entity in the identity space and reports how many
// base rows were deleted.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.transact(ctx, opDeleteAll, func(tx *gorm.DB) error {
		result := tx.Exec("DELETE FROM uuidobjects")
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err == nil {
		s.loggerOrDefault().Info("all entities deleted", zap.Int64("count", deleted))
	}
	return deleted, err
}

// deleteVenueDependents deletes the base rows of the locations and events at
// rawID. A no-op for any other kind of identifier.
func deleteVenueDependents(tx *gorm.DB, rawID uuid.UUID) error {
	return tx.Exec(`DELETE FROM uuidobjects
		WHERE id IN (SELECT id FROM locations WHERE rawlocation_id = ?)
		OR id IN (SELECT id FROM events WHERE rawlocation_id = ?)`, rawID, rawID).Error
}

func (s *Store) insertVotable(tx *gorm.DB, id uuid.UUID, kind Kind, name string, tags []uuid.UUID, photoURLs []string, insertVariant func() error) error {
	if err := InsertObject(tx, id, kind); err != nil {
		return err
	}
	if err := tx.Create(&votableRecord{ID: id, Name: name}).Error; err != nil {
		return err
	}
	if err := insertVariant(); err != nil {
		return err
	}
	for _, tagID := range tags {
		if err := requireRow(tx, "tags", tagID); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&VotableTag{VotableID: id, TagID: tagID}).Error; err != nil {
			return err
		}
	}
	for _, url := range photoURLs {
		photo, err := s.findOrInsertPhoto(tx, url)
		if err != nil {
			return err
		}
		if err := addPhoto(tx, id, photo.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertPhoto(tx *gorm.DB, url string) (Photo, error) {
	if strings.TrimSpace(url) == "" {
		return Photo{}, fmt.Errorf("%w: photo url is required", ErrInvalidEntity)
	}
	id, err := s.assignID(uuid.Nil)
	if err != nil {
		return Photo{}, err
	}
	photo := Photo{ID: id, URL: url}
	if err := InsertObject(tx, id, KindPhoto); err != nil {
		return Photo{}, err
	}
	if err := tx.Create(&photo).Error; err != nil {
		return Photo{}, err
	}
	return photo, nil
}

func (s *Store) findOrInsertPhoto(tx *gorm.DB, url string) (Photo, error) {
	var photo Photo
	err := tx.Take(&photo, "photourl = ?", url).Error
	if err == nil {
		return photo, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Photo{}, err
	}
	return s.insertPhoto(tx, url)
}

func (s *Store) assignID(id uuid.UUID) (uuid.UUID, error) {
	if id != uuid.Nil {
		return id, nil
	}
	return s.idProvider.NewID()
}

// transact runs fn in a transaction (a savepoint when already inside one),
// passing expected failures through and wrapping the rest in a ServiceError.
func (s *Store) transact(ctx context.Context, operation string, fn func(tx *gorm.DB) error, fields ...zap.Field) error {
	if s == nil || s.db == nil {
		s.logError(operation, "missing_database", errMissingDatabase, fields...)
		return NewServiceError(operation, "missing_database", errMissingDatabase)
	}
	err := s.db.WithContext(ctx).Transaction(fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidIdentifier), errors.Is(err, ErrInvalidEntity), errors.Is(err, ErrUnsupportedKind):
		return err
	case database.IsDuplicateKey(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: referenced row vanished: %v", ErrNotFound, err)
	default:
		s.logError(operation, "query_failed", err, fields...)
		return NewServiceError(operation, "query_failed", err)
	}
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("objects store error", attrs...)
}
