package objects

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IDProvider issues fresh identifiers for new entities.
type IDProvider interface {
	NewID() (uuid.UUID, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (uuid.UUID, error) {
	return uuid.NewV7()
}

// ParseID validates raw input as a 128-bit identifier.
func ParseID(raw string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return uuid.Nil, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	id, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return id, nil
}

// InsertObject claims id in the shared identity space for the given kind.
// Callers run it inside the transaction that writes the variant row.
func InsertObject(tx *gorm.DB, id uuid.UUID, kind Kind) error {
	return tx.Create(&Object{ID: id, Type: kind}).Error
}
