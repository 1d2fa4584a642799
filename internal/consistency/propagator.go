// Package consistency rewrites denormalized copies of canonical movie and user fields after a committed write.
// Propagation is document-at-a-time and best effort: a failed dependent write is recorded and the rest continue.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"go.uber.org/zap"
)

const (
	opMovieUpdated = "consistency.movie_updated"
	opUserUpdated  = "consistency.user_updated"
	opMovieDeleted = "consistency.movie_deleted"
	opUserDeleted  = "consistency.user_deleted"

	collectionAssessments = "assessments"
	collectionUsers       = "users"

	filterMovieID   = "movie.id"
	filterUserEmail = "user.email"
)

// AssessmentStore is the subset of the assessment collection used for propagation.
type AssessmentStore interface {
	FindAll(ctx context.Context, filter documents.Filter) ([]catalog.Assessment, error)
	Save(ctx context.Context, assessment catalog.Assessment) error
	DeleteByID(ctx context.Context, id string) error
}

// UserStore is the subset of the user collection used for propagation.
type UserStore interface {
	FindByID(ctx context.Context, email string) (catalog.User, error)
	Save(ctx context.Context, user catalog.User) error
}

// FriendRemover deletes both halves of a friendship.
type FriendRemover interface {
	Remove(ctx context.Context, userEmail, friendEmail string) error
}

// Config describes the dependencies of a Propagator.
type Config struct {
	Assessments AssessmentStore
	Users       UserStore
	Friends     FriendRemover
	Logger      *zap.Logger
}

// Propagator keeps dependent documents in line with their canonical entities.
type Propagator struct {
	assessments AssessmentStore
	users       UserStore
	friends     FriendRemover
	logger      *zap.Logger
}

// NewPropagator validates the configuration and builds a Propagator.
// Friends may be nil, in which case user deletion leaves counterparts' relations in place.
func NewPropagator(cfg Config) (*Propagator, error) {
	if cfg.Assessments == nil {
		return nil, fmt.Errorf("consistency: assessment store required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("consistency: user store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		assessments: cfg.Assessments,
		users:       cfg.Users,
		friends:     cfg.Friends,
		logger:      logger,
	}, nil
}

// Outcome counts the dependent documents touched by one propagation.
type Outcome struct {
	Updated int
	Deleted int
}

// Failure names a dependent document that was left stale.
type Failure struct {
	Collection string
	DocumentID string
	Err        error
}

// PropagationError lists every dependent write that failed after the canonical write committed.
type PropagationError struct {
	Operation string
	Failures  []Failure
}

func (e *PropagationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		target := failure.Collection
		if failure.DocumentID != "" {
			target += "/" + failure.DocumentID
		}
		parts = append(parts, fmt.Sprintf("%s: %v", target, failure.Err))
	}
	return fmt.Sprintf("%s: %d dependent write(s) failed: %s", e.Operation, len(e.Failures), strings.Join(parts, "; "))
}

// Is reports every PropagationError as catalog.ErrPropagation.
func (e *PropagationError) Is(target error) bool {
	return target == catalog.ErrPropagation
}

func (e *PropagationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		errs = append(errs, failure.Err)
	}
	return errs
}

// run accumulates failures for one propagation.
type run struct {
	propagator *Propagator
	operation  string
	outcome    Outcome
	failures   []Failure
}

func (p *Propagator) begin(operation string) *run {
	return &run{propagator: p, operation: operation}
}

func (r *run) fail(collection, documentID string, err error) {
	r.failures = append(r.failures, Failure{Collection: collection, DocumentID: documentID, Err: err})
	r.propagator.logger.Warn(
		"dependent write failed",
		zap.String("operation", r.operation),
		zap.String("collection", collection),
		zap.String("document_id", documentID),
		zap.Error(err),
	)
}

func (r *run) finish() (Outcome, error) {
	if len(r.failures) == 0 {
		return r.outcome, nil
	}
	return r.outcome, &PropagationError{Operation: r.operation, Failures: r.failures}
}

// MovieUpdated rewrites the embedded movie title of every assessment when the title changed.
func (p *Propagator) MovieUpdated(ctx context.Context, previous, current catalog.Movie) (Outcome, error) {
	if previous.Title == current.Title {
		return Outcome{}, nil
	}
	r := p.begin(opMovieUpdated)
	ref := current.Ref()
	r.rewriteAssessments(ctx, documents.Filter{filterMovieID: previous.ID}, func(assessment *catalog.Assessment) bool {
		if assessment.Movie == ref {
			return false
		}
		assessment.Movie = ref
		return true
	})
	return r.finish()
}

// UserUpdated rewrites the embedded user name in assessments and in every counterpart's friend relation
// when the name changed.
func (p *Propagator) UserUpdated(ctx context.Context, previous, current catalog.User) (Outcome, error) {
	if previous.Name == current.Name {
		return Outcome{}, nil
	}
	r := p.begin(opUserUpdated)
	ref := current.Ref()
	r.rewriteAssessments(ctx, documents.Filter{filterUserEmail: previous.Email}, func(assessment *catalog.Assessment) bool {
		if assessment.User == ref {
			return false
		}
		assessment.User = ref
		return true
	})

	for _, relation := range current.Friends {
		counterpart, err := p.users.FindByID(ctx, relation.FriendEmail)
		if err != nil {
			if errors.Is(err, documents.ErrNotFound) {
				continue
			}
			r.fail(collectionUsers, relation.FriendEmail, err)
			continue
		}
		index := counterpart.FriendIndex(current.Email)
		if index < 0 || counterpart.Friends[index].FriendName == current.Name {
			continue
		}
		friends := append([]catalog.FriendRelation(nil), counterpart.Friends...)
		friends[index].FriendEmail = current.Email
		friends[index].FriendName = current.Name
		counterpart.Friends = friends
		if err := p.users.Save(ctx, counterpart); err != nil {
			r.fail(collectionUsers, counterpart.Email, err)
			continue
		}
		r.outcome.Updated++
	}
	return r.finish()
}

// MovieDeleted removes every assessment of the movie.
func (p *Propagator) MovieDeleted(ctx context.Context, movie catalog.Movie) (Outcome, error) {
	r := p.begin(opMovieDeleted)
	r.deleteAssessments(ctx, documents.Filter{filterMovieID: movie.ID})
	return r.finish()
}

// UserDeleted dissolves every friendship of the user and removes the user's assessments.
// It runs before the user document itself is deleted.
func (p *Propagator) UserDeleted(ctx context.Context, user catalog.User) (Outcome, error) {
	r := p.begin(opUserDeleted)
	if p.friends != nil {
		for _, relation := range user.Friends {
			err := p.friends.Remove(ctx, user.Email, relation.FriendEmail)
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				r.fail(collectionUsers, relation.FriendEmail, err)
				continue
			}
			if err == nil {
				r.outcome.Updated++
			}
		}
	}
	r.deleteAssessments(ctx, documents.Filter{filterUserEmail: user.Email})
	return r.finish()
}

func (r *run) rewriteAssessments(ctx context.Context, filter documents.Filter, rewrite func(*catalog.Assessment) bool) {
	assessments, err := r.propagator.assessments.FindAll(ctx, filter)
	if err != nil {
		r.fail(collectionAssessments, "", err)
		return
	}
	for _, assessment := range assessments {
		if !rewrite(&assessment) {
			continue
		}
		if err := r.propagator.assessments.Save(ctx, assessment); err != nil {
			r.fail(collectionAssessments, assessment.ID, err)
			continue
		}
		r.outcome.Updated++
	}
}

func (r *run) deleteAssessments(ctx context.Context, filter documents.Filter) {
	assessments, err := r.propagator.assessments.FindAll(ctx, filter)
	if err != nil {
		r.fail(collectionAssessments, "", err)
		return
	}
	for _, assessment := range assessments {
		err := r.propagator.assessments.DeleteByID(ctx, assessment.ID)
		if err != nil && !errors.Is(err, documents.ErrNotFound) {
			r.fail(collectionAssessments, assessment.ID, err)
			continue
		}
		r.outcome.Deleted++
	}
}
