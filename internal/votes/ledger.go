// Package votes keeps the per-user vote counters for votable entities.
package votes

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/objects"
	"github.com/hapcat/hapcat-backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNoSuchUser indicates the voter does not resolve to a registered user.
	ErrNoSuchUser = errors.New("votes: no such user")
	// ErrNoSuchVotable indicates a well-formed identifier that names no location or event.
	ErrNoSuchVotable = errors.New("votes: no such votable")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opLedgerNew = "votes.ledger.new"
	opCast      = "votes.cast"
	opCount     = "votes.count"
)

// Vote is the counter row for one (votable, user) pair.
type Vote struct {
	VotableID uuid.UUID `gorm:"column:votable_id;primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;primaryKey"`
	NumVotes  int64     `gorm:"column:numvotes;not null"`
}

// TableName exposes the table backing vote counters.
func (Vote) TableName() string {
	return "votes"
}

// Tally is the outcome of a cast. Fields are filled as far as they were resolved,
// so failures still report the user and votable they concerned.
type Tally struct {
	VotableID string
	UserID    string
	Username  string
	NumVotes  int64
}

// LedgerConfig describes the dependencies of a Ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Ledger increments vote counters atomically.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, objects.NewServiceError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: cfg.Database, logger: logger}, nil
}

// Cast adds one vote from userID to the votable named by rawVotableID. The
// voter is checked first, then the identifier format, then the votable.
// The increment is a single upsert so concurrent casts never lose an update.
func (l *Ledger) Cast(ctx context.Context, rawVotableID string, userID string) (Tally, error) {
	tally := Tally{VotableID: rawVotableID, UserID: userID}
	if l == nil || l.db == nil {
		return tally, objects.NewServiceError(opCast, "missing_database", errMissingDatabase)
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		voter, err := lookupUser(tx, userID)
		if err != nil {
			return err
		}
		tally.Username = voter.Username

		votableID, err := objects.ParseID(rawVotableID)
		if err != nil {
			return err
		}
		// a votable exists only while its location or event row does
		var votables int64
		if err := tx.Raw(`SELECT
			(SELECT COUNT(*) FROM locations WHERE id = ?) +
			(SELECT COUNT(*) FROM events WHERE id = ?)`, votableID, votableID).
			Scan(&votables).Error; err != nil {
			return err
		}
		if votables == 0 {
			return fmt.Errorf("%w: %s", ErrNoSuchVotable, votableID)
		}

		vote := Vote{VotableID: votableID, UserID: voter.ID, NumVotes: 1}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "votable_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"numvotes": gorm.Expr("votes.numvotes + ?", 1),
			}),
		}).Create(&vote).Error; err != nil {
			return err
		}

		var stored Vote
		if err := tx.Where("votable_id = ? AND user_id = ?", votableID, voter.ID).Take(&stored).Error; err != nil {
			return err
		}
		tally.NumVotes = stored.NumVotes
		return nil
	})
	switch {
	case err == nil:
		l.logger.Debug("vote cast",
			zap.String("votable_id", tally.VotableID),
			zap.String("user_id", tally.UserID),
			zap.Int64("numvotes", tally.NumVotes),
		)
		return tally, nil
	case errors.Is(err, ErrNoSuchUser), errors.Is(err, ErrNoSuchVotable), errors.Is(err, objects.ErrInvalidIdentifier):
		return tally, err
	default:
		l.logger.Error("votes ledger error",
			zap.String("operation", opCast),
			zap.String("reason", "query_failed"),
			zap.String("votable_id", rawVotableID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return tally, objects.NewServiceError(opCast, "query_failed", err)
	}
}

// Count returns the votes userID has cast on votableID, zero when none.
func (l *Ledger) Count(ctx context.Context, votableID, userID uuid.UUID) (int64, error) {
	var stored Vote
	err := l.db.WithContext(ctx).Where("votable_id = ? AND user_id = ?", votableID, userID).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, objects.NewServiceError(opCount, "query_failed", err)
	}
	return stored.NumVotes, nil
}

func lookupUser(tx *gorm.DB, rawUserID string) (users.User, error) {
	id, err := uuid.Parse(rawUserID)
	if err != nil {
		return users.User{}, fmt.Errorf("%w: %q", ErrNoSuchUser, rawUserID)
	}
	var user users.User
	err = tx.Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return users.User{}, fmt.Errorf("%w: %s", ErrNoSuchUser, id)
	}
	return user, err
}
