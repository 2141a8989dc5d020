package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// SigningSecretName keys the token signing secret in the secrets table.
	SigningSecretName = "jwt-signing-key"
	// SigningSecretSize is the length in bytes of a generated signing secret.
	SigningSecretSize = 64
)

var errMissingDatabase = errors.New("database handle is required")

// Secret is a named opaque payload persisted across restarts.
type Secret struct {
	ID      string `gorm:"column:id;primaryKey;size:190"`
	Payload []byte `gorm:"column:payload;not null"`
}

// TableName exposes the table backing persisted secrets.
func (Secret) TableName() string {
	return "secrets"
}

// LoadOrCreateSigningSecret returns the persisted signing secret, generating
// and storing a random one on first use. Concurrent first starts agree on a
// single stored value.
func LoadOrCreateSigningSecret(ctx context.Context, db *gorm.DB, logger *zap.Logger) ([]byte, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var stored Secret
	err := db.WithContext(ctx).Take(&stored, "id = ?", SigningSecretName).Error
	if err == nil {
		logger.Debug("reusing stored signing secret")
		return stored.Payload, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load signing secret: %w", err)
	}

	payload := make([]byte, SigningSecretSize)
	if _, err := rand.Read(payload); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	candidate := Secret{ID: SigningSecretName, Payload: payload}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return nil, fmt.Errorf("store signing secret: %w", err)
	}
	if err := db.WithContext(ctx).Take(&stored, "id = ?", SigningSecretName).Error; err != nil {
		return nil, fmt.Errorf("reload signing secret: %w", err)
	}
	logger.Info("generated signing secret", zap.Int("bytes", len(stored.Payload)))
	return stored.Payload, nil
}
