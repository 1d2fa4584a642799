// Package friends keeps both halves of every friendship in step.
// Each operation writes the acting user's side first and then mirrors it onto the counterpart exactly once.
// The two writes are not atomic: when the mirrored write fails the first side stays persisted and a MirrorError is returned.
package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
	"go.uber.org/zap"
)

const (
	opCoordinatorNew = "friends.coordinator.new"
	opRequest        = "friends.request"
	opRespond        = "friends.respond"
	opRemove         = "friends.remove"
	opList           = "friends.list"

	reasonSelfRelation      = "self_relation"
	reasonUserNotFound      = "user_not_found"
	reasonFriendNotFound    = "friend_not_found"
	reasonStaleName         = "stale_name"
	reasonAlreadyRelated    = "already_related"
	reasonRelationNotFound  = "relation_not_found"
	reasonPatchFailed       = "patch_failed"
	reasonValidationFailed  = "validation_failed"
	reasonInvalidTransition = "invalid_transition"
	reasonLoadFailed        = "load_failed"
	reasonSaveFailed        = "save_failed"
	reasonMirrorFailed      = "mirror_failed"
)

var (
	// ErrSelfRelation indicates a user attempting to befriend themselves.
	ErrSelfRelation = fmt.Errorf("%w: a user cannot befriend themselves", catalog.ErrInvalidInput)
	// ErrInvalidTransition indicates a status change the friendship state machine does not allow.
	ErrInvalidTransition = fmt.Errorf("%w: invalid friendship status transition", catalog.ErrConflict)

	errMissingUsers     = errors.New("user store is required")
	errMissingValidator = errors.New("validator is required")
	noOpLogger          = zap.NewNop()
)

// UserStore is the subset of the user collection the coordinator reads and writes.
type UserStore interface {
	FindByID(ctx context.Context, email string) (catalog.User, error)
	Save(ctx context.Context, user catalog.User) error
}

// FriendRef names the counterpart of a friend request as the caller last saw it.
type FriendRef struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Config describes the dependencies of a Coordinator.
type Config struct {
	Users     UserStore
	Validator *validation.Validator
	Clock     func() time.Time
	Logger    *zap.Logger
	Notifier  Notifier
}

// Coordinator runs the friendship state machine over two user documents.
type Coordinator struct {
	users     UserStore
	validator *validation.Validator
	clock     func() time.Time
	logger    *zap.Logger
	notifier  Notifier
}

// mirrorMode bounds mirroring to one hop.
type mirrorMode bool

const (
	mirrorCounterpart mirrorMode = true
	suppressMirror    mirrorMode = false
)

// MirrorError reports that the acting side was persisted but the counterpart side was not.
type MirrorError struct {
	Operation   string
	UserEmail   string
	FriendEmail string
	Err         error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("%s: mirror onto %s failed after %s was saved: %v", e.Operation, e.FriendEmail, e.UserEmail, e.Err)
}

func (e *MirrorError) Unwrap() error {
	return e.Err
}

// Is reports every MirrorError as catalog.ErrPropagation.
func (e *MirrorError) Is(target error) bool {
	return target == catalog.ErrPropagation
}

// NewCoordinator validates the configuration and builds a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Users == nil {
		return nil, catalog.NewServiceError(opCoordinatorNew, "missing_users", errMissingUsers)
	}
	if cfg.Validator == nil {
		return nil, catalog.NewServiceError(opCoordinatorNew, "missing_validator", errMissingValidator)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &Coordinator{
		users:     cfg.Users,
		validator: cfg.Validator,
		clock:     clock,
		logger:    logger,
		notifier:  notifier,
	}, nil
}

// List returns the relations held by the user.
func (c *Coordinator) List(ctx context.Context, email string) ([]catalog.FriendRelation, error) {
	user, err := c.loadUser(ctx, opList, reasonUserNotFound, email)
	if err != nil {
		return nil, err
	}
	relations := append([]catalog.FriendRelation(nil), user.Friends...)
	return relations, nil
}

// Request creates a pending relation on the requesting user and its mirror on the counterpart.
// The counterpart name must match the stored name so that requests built from stale data are refused.
func (c *Coordinator) Request(ctx context.Context, email string, friend FriendRef) (catalog.FriendRelation, error) {
	email = strings.TrimSpace(email)
	friendEmail := strings.TrimSpace(friend.Email)
	if strings.EqualFold(email, friendEmail) {
		c.logError(opRequest, reasonSelfRelation, ErrSelfRelation, zap.String("user_email", email))
		return catalog.FriendRelation{}, catalog.NewServiceError(opRequest, reasonSelfRelation, ErrSelfRelation)
	}

	user, err := c.loadUser(ctx, opRequest, reasonUserNotFound, email)
	if err != nil {
		return catalog.FriendRelation{}, err
	}
	counterpart, err := c.loadUser(ctx, opRequest, reasonFriendNotFound, friendEmail)
	if err != nil {
		return catalog.FriendRelation{}, err
	}
	if counterpart.Name != friend.Name {
		staleErr := fmt.Errorf("%w: user %s is not named %q", catalog.ErrNotFound, counterpart.Email, friend.Name)
		c.logError(opRequest, reasonStaleName, staleErr, zap.String("user_email", email), zap.String("friend_email", friendEmail))
		return catalog.FriendRelation{}, catalog.NewServiceError(opRequest, reasonStaleName, staleErr)
	}
	if user.FriendIndex(counterpart.Email) >= 0 || counterpart.FriendIndex(user.Email) >= 0 {
		conflictErr := fmt.Errorf("%w: %s and %s are already related", catalog.ErrConflict, user.Email, counterpart.Email)
		return catalog.FriendRelation{}, catalog.NewServiceError(opRequest, reasonAlreadyRelated, conflictErr)
	}

	return c.request(ctx, user, counterpart, mirrorCounterpart)
}

func (c *Coordinator) request(ctx context.Context, user, counterpart catalog.User, mode mirrorMode) (catalog.FriendRelation, error) {
	requested := c.clock().UTC()
	relation := catalog.FriendRelation{
		FriendEmail: counterpart.Email,
		FriendName:  counterpart.Name,
		Status:      catalog.FriendStatusPending,
		Requested:   &requested,
	}
	if err := c.validator.Check(relation, validation.OnCreate); err != nil {
		c.logError(opRequest, reasonValidationFailed, err, zap.String("user_email", user.Email))
		return catalog.FriendRelation{}, catalog.NewServiceError(opRequest, reasonValidationFailed, err)
	}
	if user.FriendIndex(counterpart.Email) >= 0 {
		conflictErr := fmt.Errorf("%w: %s already holds a relation naming %s", catalog.ErrConflict, user.Email, counterpart.Email)
		return catalog.FriendRelation{}, catalog.NewServiceError(opRequest, reasonAlreadyRelated, conflictErr)
	}

	friends := make([]catalog.FriendRelation, 0, len(user.Friends)+1)
	friends = append(friends, user.Friends...)
	user.Friends = append(friends, relation)
	if err := c.users.Save(ctx, user); err != nil {
		c.logError(opRequest, reasonSaveFailed, err, zap.String("user_email", user.Email))
		return catalog.FriendRelation{}, catalog.NewServiceError(opRequest, reasonSaveFailed, err)
	}
	c.notify(EventRequested, user.Email, counterpart.Email, relation.Status, requested)

	if mode == mirrorCounterpart {
		if _, err := c.request(ctx, counterpart, user, suppressMirror); err != nil {
			return relation, c.mirrorFailed(opRequest, user.Email, counterpart.Email, err)
		}
	}
	return relation, nil
}

// Respond patches the user's relation naming friendEmail and mirrors the resulting status onto the counterpart.
// A DECLINED result dissolves the friendship on both sides instead of being stored.
func (c *Coordinator) Respond(ctx context.Context, email, friendEmail string, operations []patch.Operation) (catalog.FriendRelation, error) {
	user, err := c.loadUser(ctx, opRespond, reasonUserNotFound, email)
	if err != nil {
		return catalog.FriendRelation{}, err
	}
	index := user.FriendIndex(friendEmail)
	if index < 0 {
		return catalog.FriendRelation{}, c.relationNotFound(opRespond, user.Email, friendEmail)
	}
	current := user.Friends[index]

	allowed, dropped := catalog.FriendRelationPolicy.Filter(operations)
	if len(dropped) > 0 {
		c.logger.Debug("dropped guarded friend relation paths",
			zap.String("user_email", user.Email),
			zap.Int("dropped", len(dropped)),
		)
	}
	patched, err := patch.Apply(current, allowed)
	if err != nil {
		c.logError(opRespond, reasonPatchFailed, err, zap.String("user_email", user.Email))
		return catalog.FriendRelation{}, catalog.NewServiceError(opRespond, reasonPatchFailed, err)
	}
	patched.FriendEmail, patched.FriendName = current.FriendEmail, current.FriendName
	patched.Requested, patched.Accepted = current.Requested, current.Accepted
	if err := c.validator.Check(patched, validation.OnUpdate); err != nil {
		c.logError(opRespond, reasonValidationFailed, err, zap.String("user_email", user.Email))
		return catalog.FriendRelation{}, catalog.NewServiceError(opRespond, reasonValidationFailed, err)
	}

	if patched.Status == catalog.FriendStatusDeclined {
		if err := c.remove(ctx, opRespond, user, current.FriendEmail, mirrorCounterpart); err != nil {
			return catalog.FriendRelation{}, err
		}
		return patched, nil
	}
	if current.Status == catalog.FriendStatusAccepted && patched.Status != catalog.FriendStatusAccepted {
		transitionErr := fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, patched.Status)
		return catalog.FriendRelation{}, catalog.NewServiceError(opRespond, reasonInvalidTransition, transitionErr)
	}
	// Both halves of the response share one instant, which is also the acceptance time when newly accepted.
	respondedAt := c.clock().UTC()
	if patched.Status == catalog.FriendStatusAccepted && current.Accepted == nil {
		accepted := respondedAt
		patched.Accepted = &accepted
	}

	return patched, c.respond(ctx, user, index, patched, respondedAt, mirrorCounterpart)
}

func (c *Coordinator) respond(ctx context.Context, user catalog.User, index int, relation catalog.FriendRelation, at time.Time, mode mirrorMode) error {
	friends := append([]catalog.FriendRelation(nil), user.Friends...)
	friends[index] = relation
	user.Friends = friends
	if err := c.users.Save(ctx, user); err != nil {
		c.logError(opRespond, reasonSaveFailed, err, zap.String("user_email", user.Email))
		return catalog.NewServiceError(opRespond, reasonSaveFailed, err)
	}
	c.notify(EventResponded, user.Email, relation.FriendEmail, relation.Status, at)

	if mode == suppressMirror {
		return nil
	}
	counterpart, err := c.users.FindByID(ctx, relation.FriendEmail)
	if err != nil {
		return c.mirrorFailed(opRespond, user.Email, relation.FriendEmail, err)
	}
	counterpartIndex := counterpart.FriendIndex(user.Email)
	if counterpartIndex < 0 {
		missing := fmt.Errorf("%w: %s holds no relation naming %s", catalog.ErrNotFound, counterpart.Email, user.Email)
		return c.mirrorFailed(opRespond, user.Email, counterpart.Email, missing)
	}
	mirrored := counterpart.Friends[counterpartIndex]
	mirrored.Status = relation.Status
	mirrored.Accepted = relation.Accepted
	if err := c.respond(ctx, counterpart, counterpartIndex, mirrored, at, suppressMirror); err != nil {
		return c.mirrorFailed(opRespond, user.Email, counterpart.Email, err)
	}
	return nil
}

// Remove deletes the user's relation naming friendEmail and the counterpart's relation naming the user.
// Removing a relation that does not exist fails with catalog.ErrNotFound.
func (c *Coordinator) Remove(ctx context.Context, email, friendEmail string) error {
	user, err := c.loadUser(ctx, opRemove, reasonUserNotFound, email)
	if err != nil {
		return err
	}
	if _, err := c.loadUser(ctx, opRemove, reasonFriendNotFound, friendEmail); err != nil {
		return err
	}
	return c.remove(ctx, opRemove, user, friendEmail, mirrorCounterpart)
}

func (c *Coordinator) remove(ctx context.Context, operation string, user catalog.User, friendEmail string, mode mirrorMode) error {
	index := user.FriendIndex(friendEmail)
	if index < 0 {
		if mode == suppressMirror {
			return nil
		}
		return c.relationNotFound(operation, user.Email, friendEmail)
	}
	friendEmail = user.Friends[index].FriendEmail

	friends := make([]catalog.FriendRelation, 0, len(user.Friends)-1)
	friends = append(friends, user.Friends[:index]...)
	friends = append(friends, user.Friends[index+1:]...)
	user.Friends = friends
	if err := c.users.Save(ctx, user); err != nil {
		c.logError(operation, reasonSaveFailed, err, zap.String("user_email", user.Email))
		return catalog.NewServiceError(operation, reasonSaveFailed, err)
	}
	c.notify(EventRemoved, user.Email, friendEmail, "", c.clock().UTC())

	if mode == suppressMirror {
		return nil
	}
	counterpart, err := c.users.FindByID(ctx, friendEmail)
	if errors.Is(err, documents.ErrNotFound) {
		return nil
	}
	if err != nil {
		return c.mirrorFailed(operation, user.Email, friendEmail, err)
	}
	if err := c.remove(ctx, operation, counterpart, user.Email, suppressMirror); err != nil {
		return c.mirrorFailed(operation, user.Email, friendEmail, err)
	}
	return nil
}

func (c *Coordinator) loadUser(ctx context.Context, operation, missingReason, email string) (catalog.User, error) {
	user, err := c.users.FindByID(ctx, strings.TrimSpace(email))
	if errors.Is(err, documents.ErrNotFound) {
		notFound := fmt.Errorf("%w: user %s", catalog.ErrNotFound, email)
		return catalog.User{}, catalog.NewServiceError(operation, missingReason, notFound)
	}
	if err != nil {
		c.logError(operation, reasonLoadFailed, err, zap.String("user_email", email))
		return catalog.User{}, catalog.NewServiceError(operation, reasonLoadFailed, err)
	}
	return user, nil
}

func (c *Coordinator) relationNotFound(operation, email, friendEmail string) error {
	notFound := fmt.Errorf("%w: %s holds no relation naming %s", catalog.ErrNotFound, email, friendEmail)
	return catalog.NewServiceError(operation, reasonRelationNotFound, notFound)
}

func (c *Coordinator) mirrorFailed(operation, email, friendEmail string, err error) error {
	mirrorErr := &MirrorError{Operation: operation, UserEmail: email, FriendEmail: friendEmail, Err: err}
	c.logger.Warn("friend relation mirror failed",
		zap.String("operation", operation),
		zap.String("reason", reasonMirrorFailed),
		zap.String("user_email", email),
		zap.String("friend_email", friendEmail),
		zap.Error(err),
	)
	return catalog.NewServiceError(operation, reasonMirrorFailed, mirrorErr)
}

func (c *Coordinator) notify(eventType EventType, email, friendEmail string, status catalog.FriendStatus, at time.Time) {
	c.notifier.Notify(Event{
		Type:        eventType,
		UserEmail:   email,
		FriendEmail: friendEmail,
		Status:      status,
		OccurredAt:  at,
	})
}

func (c *Coordinator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("friends coordinator error", attrs...)
}
