package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/database"
	"github.com/hapcat/hapcat-backend/internal/objects"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateUsername indicates the username is already registered.
	ErrDuplicateUsername = errors.New("users: username already exists")
	// ErrInvalidCredentials indicates an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates no user carries the identifier.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidRegistration indicates required registration fields are missing.
	ErrInvalidRegistration = errors.New("users: invalid registration")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opServiceNew   = "users.service.new"
	opRegister     = "users.register"
	opAuthenticate = "users.authenticate"
	opFindByID     = "users.find_by_id"
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider objects.IDProvider
	Policy     PasswordPolicy
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Logger     *zap.Logger
}

// Service registers and authenticates users.
type Service struct {
	db         *gorm.DB
	idProvider objects.IDProvider
	policy     PasswordPolicy
	cost       int
	logger     *zap.Logger
	// decoy is compared against when the username is unknown so both
	// failure paths spend the same bcrypt work.
	decoy []byte
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, objects.NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = objects.NewUUIDProvider()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = NewStrengthPolicy(DefaultMinimumScore)
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	decoy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, objects.NewServiceError(opServiceNew, "decoy_hash", err)
	}
	return &Service{
		db:         cfg.Database,
		idProvider: idProvider,
		policy:     policy,
		cost:       cost,
		logger:     logger,
		decoy:      decoy,
	}, nil
}

// Register evaluates the password policy, then creates the user. A username
// taken by a concurrent registration surfaces as ErrDuplicateUsername from
// the unique constraint.
func (s *Service) Register(ctx context.Context, registration Registration) (User, error) {
	username := normalize(registration.Username)
	email := normalize(registration.Email)
	if username == "" || email == "" || registration.DateOfBirth.IsZero() {
		return User{}, fmt.Errorf("%w: username, email, and date of birth are required", ErrInvalidRegistration)
	}
	if err := s.policy.Check(registration.Password, []string{username, email}); err != nil {
		s.logger.Info("rejected weak password", zap.String("username", username))
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(registration.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return User{}, fmt.Errorf("%w: password longer than 72 bytes", ErrInvalidRegistration)
	}
	if err != nil {
		s.logError(opRegister, "hash_failed", err, zap.String("username", username))
		return User{}, objects.NewServiceError(opRegister, "hash_failed", err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_failed", err)
		return User{}, objects.NewServiceError(opRegister, "id_failed", err)
	}
	user := User{
		ID:           id,
		Username:     username,
		Email:        email,
		DateOfBirth:  registration.DateOfBirth,
		PasswordHash: string(hash),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := objects.InsertObject(tx, user.ID, objects.KindUser); err != nil {
			return err
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		if database.IsDuplicateKey(err) {
			s.logger.Info("failed to create duplicate user", zap.String("username", username), zap.String("email", email))
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
		}
		s.logError(opRegister, "insert_failed", err, zap.String("username", username))
		return User{}, objects.NewServiceError(opRegister, "insert_failed", err)
	}
	s.logger.Info("created user", zap.String("username", username), zap.String("email", email))
	return user, nil
}

// Authenticate returns the user whose username and password match.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Take(&user, "username = ?", normalize(username)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.decoy, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opAuthenticate, "query_failed", err, zap.String("username", username))
		return User{}, objects.NewServiceError(opAuthenticate, "query_failed", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// FindByID loads the user with the given identifier.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		s.logError(opFindByID, "query_failed", err, zap.String("user_id", id.String()))
		return User{}, objects.NewServiceError(opFindByID, "query_failed", err)
	}
	return user, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("users service error", attrs...)
}
