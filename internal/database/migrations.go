package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, columnTypes) error
}

// columnTypes holds the dialect-specific spellings used by the schema DDL.
type columnTypes struct {
	identifier string
	binary     string
}

func columnTypesFor(db *gorm.DB) columnTypes {
	if db.Dialector.Name() == DriverPostgres {
		return columnTypes{identifier: "UUID", binary: "BYTEA"}
	}
	return columnTypes{identifier: "TEXT", binary: "BLOB"}
}

// schemaMigrations is append-only; every entry runs exactly once per database.
var schemaMigrations = []migrationDefinition{
	{name: "2018-04-17_create_uuidobjects_and_tags", apply: createIdentityTables},
	{name: "2018-04-30_create_votables_locations_events", apply: createVotableTables},
	{name: "2018-05-01_create_photos", apply: createPhotoTables},
	{name: "2018-05-01_create_users_and_votes", apply: createUserTables},
	{name: "2018-05-04_create_secrets", apply: createSecretTable},
	{name: "2018-05-06_unique_location_rawlocation", apply: createLocationRawLocationIndex},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}
	types := columnTypesFor(db)

	for _, migration := range schemaMigrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, types); err != nil {
				return fmt.Errorf("migration %s: %w", migration.name, err)
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func execAll(tx *gorm.DB, statements ...string) error {
	for _, statement := range statements {
		if err := tx.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

func createIdentityTables(tx *gorm.DB, types columnTypes) error {
	return execAll(tx,
		fmt.Sprintf(`CREATE TABLE uuidobjects (
			id %s NOT NULL PRIMARY KEY,
			type VARCHAR(32) NOT NULL
		)`, types.identifier),
		`CREATE INDEX idx_uuidobjects_type ON uuidobjects (type)`,
		fmt.Sprintf(`CREATE TABLE tags (
			id %s NOT NULL PRIMARY KEY REFERENCES uuidobjects (id) ON DELETE CASCADE,
			name TEXT NOT NULL
		)`, types.identifier),
	)
}

func createVotableTables(tx *gorm.DB, types columnTypes) error {
	return execAll(tx,
		fmt.Sprintf(`CREATE TABLE rawlocations (
			id %s NOT NULL PRIMARY KEY REFERENCES uuidobjects (id) ON DELETE CASCADE,
			address TEXT NOT NULL
		)`, types.identifier),
		fmt.Sprintf(`CREATE TABLE votables (
			id %s NOT NULL PRIMARY KEY REFERENCES uuidobjects (id) ON DELETE CASCADE,
			name TEXT NOT NULL
		)`, types.identifier),
		fmt.Sprintf(`CREATE TABLE locations (
			id %[1]s NOT NULL PRIMARY KEY REFERENCES votables (id) ON DELETE CASCADE,
			rawlocation_id %[1]s NOT NULL REFERENCES rawlocations (id) ON DELETE CASCADE
		)`, types.identifier),
		fmt.Sprintf(`CREATE TABLE events (
			id %[1]s NOT NULL PRIMARY KEY REFERENCES votables (id) ON DELETE CASCADE,
			rawlocation_id %[1]s NOT NULL REFERENCES rawlocations (id) ON DELETE CASCADE
		)`, types.identifier),
		`CREATE INDEX idx_events_rawlocation ON events (rawlocation_id)`,
		fmt.Sprintf(`CREATE TABLE votable_tags (
			votable_id %[1]s NOT NULL REFERENCES votables (id) ON DELETE CASCADE,
			tag_id %[1]s NOT NULL REFERENCES tags (id) ON DELETE CASCADE,
			PRIMARY KEY (votable_id, tag_id)
		)`, types.identifier),
		`CREATE INDEX idx_votable_tags_tag ON votable_tags (tag_id)`,
	)
}

func createPhotoTables(tx *gorm.DB, types columnTypes) error {
	return execAll(tx,
		fmt.Sprintf(`CREATE TABLE photos (
			id %s NOT NULL PRIMARY KEY REFERENCES uuidobjects (id) ON DELETE CASCADE,
			photourl TEXT NOT NULL UNIQUE
		)`, types.identifier),
		fmt.Sprintf(`CREATE TABLE votable_photos (
			votable_id %[1]s NOT NULL REFERENCES votables (id) ON DELETE CASCADE,
			photo_id %[1]s NOT NULL REFERENCES photos (id) ON DELETE CASCADE,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (votable_id, photo_id)
		)`, types.identifier),
	)
}

func createUserTables(tx *gorm.DB, types columnTypes) error {
	return execAll(tx,
		fmt.Sprintf(`CREATE TABLE users (
			id %s NOT NULL PRIMARY KEY REFERENCES uuidobjects (id) ON DELETE CASCADE,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			date_of_birth DATE NOT NULL,
			password_hash TEXT NOT NULL
		)`, types.identifier),
		fmt.Sprintf(`CREATE TABLE votes (
			votable_id %[1]s NOT NULL REFERENCES votables (id) ON DELETE CASCADE,
			user_id %[1]s NOT NULL REFERENCES users (id) ON DELETE CASCADE,
			numvotes BIGINT NOT NULL DEFAULT 0 CHECK (numvotes >= 0),
			PRIMARY KEY (votable_id, user_id)
		)`, types.identifier),
	)
}

func createSecretTable(tx *gorm.DB, types columnTypes) error {
	return execAll(tx,
		fmt.Sprintf(`CREATE TABLE secrets (
			id VARCHAR(190) NOT NULL PRIMARY KEY,
			payload %s NOT NULL
		)`, types.binary),
	)
}

// createLocationRawLocationIndex limits every raw location to one curated
// Location, which is what it resolves to once upgraded.
func createLocationRawLocationIndex(tx *gorm.DB, _ columnTypes) error {
	return execAll(tx,
		`CREATE UNIQUE INDEX idx_locations_rawlocation ON locations (rawlocation_id)`,
	)
}
