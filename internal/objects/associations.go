package objects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAddTag     = "objects.add_tag"
	opRemoveTag  = "objects.remove_tag"
	opTagsFor    = "objects.tags_for"
	opAddPhoto   = "objects.add_photo"
	opPhotosFor  = "objects.photos_for"
	opPhotoByURL = "objects.photo_by_url"
)

type photoLink struct {
	VotableID uuid.UUID `gorm:"column:votable_id"`
	URL       string    `gorm:"column:photourl"`
}

// loadAssociations returns tag ids and ordered photo URLs for every votable in ids.
func loadAssociations(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID][]uuid.UUID, map[uuid.UUID][]string, error) {
	tags := make(map[uuid.UUID][]uuid.UUID, len(ids))
	photos := make(map[uuid.UUID][]string, len(ids))
	if len(ids) == 0 {
		return tags, photos, nil
	}

	var tagLinks []VotableTag
	if err := tx.Where("votable_id IN ?", ids).Order("votable_id, tag_id").Find(&tagLinks).Error; err != nil {
		return nil, nil, err
	}
	for _, link := range tagLinks {
		tags[link.VotableID] = append(tags[link.VotableID], link.TagID)
	}

	var photoLinks []photoLink
	if err := tx.Table("votable_photos").
		Select("votable_photos.votable_id AS votable_id, photos.photourl AS photourl").
		Joins("JOIN photos ON photos.id = votable_photos.photo_id").
		Where("votable_photos.votable_id IN ?", ids).
		Order("votable_photos.votable_id, votable_photos.position").
		Scan(&photoLinks).Error; err != nil {
		return nil, nil, err
	}
	for _, link := range photoLinks {
		photos[link.VotableID] = append(photos[link.VotableID], link.URL)
	}
	return tags, photos, nil
}

// AddTag links tagID to the votable. Linking an existing pair is a no-op.
func (s *Store) AddTag(ctx context.Context, votableID, tagID uuid.UUID) error {
	return s.transact(ctx, opAddTag, func(tx *gorm.DB) error {
		if err := requireRow(tx, "votables", votableID); err != nil {
			return err
		}
		if err := requireRow(tx, "tags", tagID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&VotableTag{VotableID: votableID, TagID: tagID}).Error
	}, zap.String("votable_id", votableID.String()), zap.String("tag_id", tagID.String()))
}

// RemoveTag deletes the association row between the votable and tagID.
func (s *Store) RemoveTag(ctx context.Context, votableID, tagID uuid.UUID) error {
	return s.transact(ctx, opRemoveTag, func(tx *gorm.DB) error {
		result := tx.Where("votable_id = ? AND tag_id = ?", votableID, tagID).Delete(&VotableTag{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: no tag %s on %s", ErrNotFound, tagID, votableID)
		}
		return nil
	}, zap.String("votable_id", votableID.String()), zap.String("tag_id", tagID.String()))
}

// TagsFor lists the tag ids linked to the votable.
func (s *Store) TagsFor(ctx context.Context, votableID uuid.UUID) ([]uuid.UUID, error) {
	var tags []uuid.UUID
	err := s.transact(ctx, opTagsFor, func(tx *gorm.DB) error {
		if err := requireRow(tx, "votables", votableID); err != nil {
			return err
		}
		loaded, _, err := loadAssociations(tx, []uuid.UUID{votableID})
		if err != nil {
			return err
		}
		tags = loaded[votableID]
		return nil
	}, zap.String("votable_id", votableID.String()))
	return tags, err
}

// AddPhoto appends photoID to the end of the votable's ordered photo list.
// Adding a photo already in the list is a no-op.
func (s *Store) AddPhoto(ctx context.Context, votableID, photoID uuid.UUID) error {
	return s.transact(ctx, opAddPhoto, func(tx *gorm.DB) error {
		return addPhoto(tx, votableID, photoID)
	}, zap.String("votable_id", votableID.String()), zap.String("photo_id", photoID.String()))
}

func addPhoto(tx *gorm.DB, votableID, photoID uuid.UUID) error {
	if err := requireRow(tx, "votables", votableID); err != nil {
		return err
	}
	if err := requireRow(tx, "photos", photoID); err != nil {
		return err
	}
	var existing int64
	if err := tx.Model(&VotablePhoto{}).
		Where("votable_id = ? AND photo_id = ?", votableID, photoID).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	var lastPosition sql.NullInt64
	if err := tx.Model(&VotablePhoto{}).
		Select("MAX(position)").
		Where("votable_id = ?", votableID).
		Row().
		Scan(&lastPosition); err != nil {
		return err
	}
	position := 0
	if lastPosition.Valid {
		position = int(lastPosition.Int64) + 1
	}
	return tx.Create(&VotablePhoto{VotableID: votableID, PhotoID: photoID, Position: position}).Error
}

// PhotosFor lists the votable's photo URLs in display order.
func (s *Store) PhotosFor(ctx context.Context, votableID uuid.UUID) ([]string, error) {
	var photos []string
	err := s.transact(ctx, opPhotosFor, func(tx *gorm.DB) error {
		if err := requireRow(tx, "votables", votableID); err != nil {
			return err
		}
		_, loaded, err := loadAssociations(tx, []uuid.UUID{votableID})
		if err != nil {
			return err
		}
		photos = loaded[votableID]
		return nil
	}, zap.String("votable_id", votableID.String()))
	return photos, err
}

// PhotoByURL returns the photo registered for url.
func (s *Store) PhotoByURL(ctx context.Context, url string) (Photo, error) {
	var photo Photo
	err := s.transact(ctx, opPhotoByURL, func(tx *gorm.DB) error {
		err := tx.Take(&photo, "photourl = ?", url).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no photo for %s", ErrNotFound, url)
		}
		return err
	}, zap.String("photourl", url))
	return photo, err
}

func requireRow(tx *gorm.DB, table string, id uuid.UUID) error {
	var count int64
	if err := tx.Table(table).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s has no %s row", ErrNotFound, id, table)
	}
	return nil
}
