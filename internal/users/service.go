// Package users owns the canonical user documents, keyed by email.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/consistency"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	opServiceNew = "users.service.new"
	opCreate     = "users.create"
	opGet        = "users.get"
	opList       = "users.list"
	opUpdate     = "users.update"
	opDelete     = "users.delete"

	reasonNotFound         = "not_found"
	reasonAlreadyExists    = "already_exists"
	reasonValidationFailed = "validation_failed"
	reasonPatchFailed      = "patch_failed"
	reasonHashFailed       = "hash_failed"
	reasonQueryFailed      = "query_failed"
	reasonSaveFailed       = "save_failed"
	reasonDeleteFailed     = "delete_failed"
	reasonPropagation      = "propagation_incomplete"

	minPasswordLength = 8
	maxPasswordLength = 72
)

var (
	errMissingUsers      = errors.New("user store is required")
	errMissingValidator  = errors.New("validator is required")
	errMissingPropagator = errors.New("propagator is required")
)

// UserStore is the user collection.
type UserStore interface {
	FindByID(ctx context.Context, email string) (catalog.User, error)
	FindAll(ctx context.Context, filter documents.Filter) ([]catalog.User, error)
	Insert(ctx context.Context, user catalog.User) error
	Save(ctx context.Context, user catalog.User) error
	DeleteByID(ctx context.Context, email string) error
}

// Propagator rewrites or removes the documents that embed user fields.
type Propagator interface {
	UserUpdated(ctx context.Context, previous, current catalog.User) (consistency.Outcome, error)
	UserDeleted(ctx context.Context, user catalog.User) (consistency.Outcome, error)
}

// ServiceConfig describes the dependencies of the user service.
// PasswordCost defaults to bcrypt.DefaultCost.
type ServiceConfig struct {
	Users        UserStore
	Validator    *validation.Validator
	Propagator   Propagator
	Clock        func() time.Time
	PasswordCost int
	Logger       *zap.Logger
}

// Service runs the guard, patch, validate, persist, propagate pipeline for users.
// Every user it returns has its password hash stripped.
type Service struct {
	users        UserStore
	validator    *validation.Validator
	propagator   Propagator
	clock        func() time.Time
	passwordCost int
	logger       *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Users == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_users", errMissingUsers)
	case cfg.Validator == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_validator", errMissingValidator)
	case cfg.Propagator == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_propagator", errMissingPropagator)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:        cfg.Users,
		validator:    cfg.Validator,
		propagator:   cfg.Propagator,
		clock:        clock,
		passwordCost: cost,
		logger:       logger,
	}, nil
}

// Create registers a user with the default role and a hashed password.
func (s *Service) Create(ctx context.Context, user catalog.User) (catalog.User, error) {
	user.Email = strings.TrimSpace(user.Email)
	if err := s.validator.Check(user, validation.OnCreate); err != nil {
		return catalog.User{}, catalog.NewServiceError(opCreate, reasonValidationFailed, err)
	}
	if err := s.checkBirthday(user, validation.OnCreate); err != nil {
		return catalog.User{}, catalog.NewServiceError(opCreate, reasonValidationFailed, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), s.passwordCost)
	if err != nil {
		s.logError(opCreate, reasonHashFailed, err)
		return catalog.User{}, catalog.NewServiceError(opCreate, reasonHashFailed, err)
	}
	user.Password = string(hash)
	user.Roles = []string{catalog.DefaultUserRole}

	if err := s.users.Insert(ctx, user); err != nil {
		if errors.Is(err, documents.ErrDuplicate) {
			conflict := fmt.Errorf("%w: user %s already exists", catalog.ErrConflict, user.Email)
			return catalog.User{}, catalog.NewServiceError(opCreate, reasonAlreadyExists, conflict)
		}
		s.logError(opCreate, reasonSaveFailed, err, zap.String("user_email", user.Email))
		return catalog.User{}, catalog.NewServiceError(opCreate, reasonSaveFailed, err)
	}
	return user.Public(), nil
}

func (s *Service) Get(ctx context.Context, email string) (catalog.User, error) {
	user, err := s.load(ctx, opGet, email)
	if err != nil {
		return catalog.User{}, err
	}
	return user.Public(), nil
}

func (s *Service) List(ctx context.Context, filter documents.Filter) ([]catalog.User, error) {
	stored, err := s.users.FindAll(ctx, filter)
	if err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, catalog.NewServiceError(opList, reasonQueryFailed, err)
	}
	users := make([]catalog.User, 0, len(stored))
	for _, user := range stored {
		users = append(users, user.Public())
	}
	return users, nil
}

// VerifyPassword reports whether password matches the stored hash of the user.
func (s *Service) VerifyPassword(ctx context.Context, email, password string) (bool, error) {
	user, err := s.load(ctx, opGet, email)
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil, nil
}

// Update applies the operations to the stored user and propagates a name change.
// Operations on email, birthday, friends, or roles are dropped. A replaced password is hashed before saving.
func (s *Service) Update(ctx context.Context, email string, operations []patch.Operation) (catalog.User, error) {
	current, err := s.load(ctx, opUpdate, email)
	if err != nil {
		return catalog.User{}, err
	}

	allowed, dropped := catalog.UserPolicy.Filter(operations)
	if len(dropped) > 0 {
		s.logger.Debug("dropped guarded user paths", zap.String("user_email", current.Email), zap.Int("dropped", len(dropped)))
	}
	patched, err := patch.Apply(current, allowed)
	if err != nil {
		return catalog.User{}, catalog.NewServiceError(opUpdate, reasonPatchFailed, err)
	}

	patched.Email, patched.Birthday, patched.Roles = current.Email, current.Birthday, current.Roles
	// Friend relations are owned by the friendship coordinator; validate without them and restore the stored ones.
	patched.Friends = nil
	if err := s.validator.Check(patched, validation.OnUpdate); err != nil {
		return catalog.User{}, catalog.NewServiceError(opUpdate, reasonValidationFailed, err)
	}
	patched.Friends = current.Friends

	if patched.Password != current.Password {
		if length := len(patched.Password); length < minPasswordLength || length > maxPasswordLength {
			violation := validation.Violation{Field: "password", Rule: "length", Param: fmt.Sprintf("%d-%d", minPasswordLength, maxPasswordLength)}
			return catalog.User{}, catalog.NewServiceError(opUpdate, reasonValidationFailed, validation.NewError(validation.OnUpdate, violation))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(patched.Password), s.passwordCost)
		if err != nil {
			s.logError(opUpdate, reasonHashFailed, err)
			return catalog.User{}, catalog.NewServiceError(opUpdate, reasonHashFailed, err)
		}
		patched.Password = string(hash)
	}

	if err := s.users.Save(ctx, patched); err != nil {
		s.logError(opUpdate, reasonSaveFailed, err, zap.String("user_email", current.Email))
		return catalog.User{}, catalog.NewServiceError(opUpdate, reasonSaveFailed, err)
	}

	if _, err := s.propagator.UserUpdated(ctx, current, patched); err != nil {
		return patched.Public(), catalog.NewServiceError(opUpdate, reasonPropagation, err)
	}
	return patched.Public(), nil
}

// Delete dissolves the user's friendships, removes their assessments, and then deletes the user.
// The user is deleted even when some dependents could not be cleaned up.
func (s *Service) Delete(ctx context.Context, email string) error {
	user, err := s.load(ctx, opDelete, email)
	if err != nil {
		return err
	}
	_, propagationErr := s.propagator.UserDeleted(ctx, user)
	if err := s.users.DeleteByID(ctx, user.Email); err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return catalog.NewServiceError(opDelete, reasonNotFound, fmt.Errorf("%w: user %s", catalog.ErrNotFound, email))
		}
		s.logError(opDelete, reasonDeleteFailed, err, zap.String("user_email", user.Email))
		return catalog.NewServiceError(opDelete, reasonDeleteFailed, err)
	}
	if propagationErr != nil {
		return catalog.NewServiceError(opDelete, reasonPropagation, propagationErr)
	}
	return nil
}

func (s *Service) load(ctx context.Context, operation, email string) (catalog.User, error) {
	user, err := s.users.FindByID(ctx, strings.TrimSpace(email))
	if errors.Is(err, documents.ErrNotFound) {
		return catalog.User{}, catalog.NewServiceError(operation, reasonNotFound, fmt.Errorf("%w: user %s", catalog.ErrNotFound, email))
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("user_email", email))
		return catalog.User{}, catalog.NewServiceError(operation, reasonQueryFailed, err)
	}
	return user, nil
}

func (s *Service) checkBirthday(user catalog.User, ruleset validation.Ruleset) error {
	if user.Birthday != nil && user.Birthday.After(s.clock()) {
		return validation.NewError(ruleset, validation.Violation{Field: "birthday", Rule: "not_future"})
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
