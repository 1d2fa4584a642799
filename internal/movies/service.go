// Package movies owns the canonical movie documents and their embedded cast and crew.
package movies

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
)

const (
	opServiceNew = "movies.service.new"
	opCreate     = "movies.create"
	opGet        = "movies.get"
	opList       = "movies.list"
	opUpdate     = "movies.update"
	opDelete     = "movies.delete"

	reasonNotFound         = "not_found"
	reasonDuplicateTitle   = "duplicate_title"
	reasonValidationFailed = "validation_failed"
	reasonPatchFailed      = "patch_failed"
	reasonIDFailed         = "id_failed"
	reasonQueryFailed      = "query_failed"
	reasonSaveFailed       = "save_failed"
	reasonDeleteFailed     = "delete_failed"
	reasonPropagation      = "propagation_incomplete"

	filterTitle = "title"
)

var (
	errMissingMovies     = errors.New("movie store is required")
	errMissingPeople     = errors.New("person store is required")
	errMissingValidator  = errors.New("validator is required")
	errMissingPropagator = errors.New("propagator is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// MovieStore is the movie collection.
type MovieStore interface {
	FindByID(ctx context.Context, id string) (catalog.Movie, error)
	FindAll(ctx context.Context, filter documents.Filter) ([]catalog.Movie, error)
	Insert(ctx context.Context, movie catalog.Movie) error
	Save(ctx context.Context, movie catalog.Movie) error
	DeleteByID(ctx context.Context, id string) error
}

// PersonStore resolves the people cast and crew entries point at.
type PersonStore interface {
	FindByID(ctx context.Context, id string) (catalog.Person, error)
}

// Propagator rewrites or removes the documents that embed movie fields.
type Propagator interface {
	MovieUpdated(ctx context.Context, previous, current catalog.Movie) (consistency.Outcome, error)
	MovieDeleted(ctx context.Context, movie catalog.Movie) (consistency.Outcome, error)
}

// ServiceConfig describes the dependencies of the movie service.
type ServiceConfig struct {
	Movies     MovieStore
	People     PersonStore
	Validator  *validation.Validator
	Propagator Propagator
	IDProvider catalog.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service runs the guard, patch, validate, persist, propagate pipeline for movies.
type Service struct {
	movies     MovieStore
	people     PersonStore
	validator  *validation.Validator
	propagator Propagator
	idProvider catalog.IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and builds the movie service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Movies == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_movies", errMissingMovies)
	case cfg.People == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_people", errMissingPeople)
	case cfg.Validator == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_validator", errMissingValidator)
	case cfg.Propagator == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_propagator", errMissingPropagator)
	case cfg.IDProvider == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		movies:     cfg.Movies,
		people:     cfg.People,
		validator:  cfg.Validator,
		propagator: cfg.Propagator,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create stores a new movie under a generated identifier. Titles are unique.
func (s *Service) Create(ctx context.Context, movie catalog.Movie) (catalog.Movie, error) {
	if err := s.validator.Check(movie, validation.OnCreate); err != nil {
		return catalog.Movie{}, catalog.NewServiceError(opCreate, reasonValidationFailed, err)
	}
	if err := s.checkReleaseDate(movie, validation.OnCreate); err != nil {
		return catalog.Movie{}, catalog.NewServiceError(opCreate, reasonValidationFailed, err)
	}
	if err := s.ensureTitleAvailable(ctx, opCreate, movie.Title, ""); err != nil {
		return catalog.Movie{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDFailed, err)
		return catalog.Movie{}, catalog.NewServiceError(opCreate, reasonIDFailed, err)
	}
	movie.ID = id
	if err := s.movies.Insert(ctx, movie); err != nil {
		s.logError(opCreate, reasonSaveFailed, err, zap.String("movie_id", id))
		return catalog.Movie{}, catalog.NewServiceError(opCreate, reasonSaveFailed, err)
	}
	return movie, nil
}

// Get loads one movie.
func (s *Service) Get(ctx context.Context, id string) (catalog.Movie, error) {
	return s.load(ctx, opGet, id)
}

// List returns the movies matching the filter.
func (s *Service) List(ctx context.Context, filter documents.Filter) ([]catalog.Movie, error) {
	movies, err := s.movies.FindAll(ctx, filter)
	if err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, catalog.NewServiceError(opList, reasonQueryFailed, err)
	}
	return movies, nil
}

// Update applies the operations to the stored movie and propagates a title change to assessments.
// Operations on the identifier, cast, or crew are dropped. When propagation is incomplete the updated
// movie is returned together with an error classified as catalog.ErrPropagation.
func (s *Service) Update(ctx context.Context, id string, operations []patch.Operation) (catalog.Movie, error) {
	current, err := s.load(ctx, opUpdate, id)
	if err != nil {
		return catalog.Movie{}, err
	}

	allowed, dropped := catalog.MoviePolicy.Filter(operations)
	if len(dropped) > 0 {
		s.logger.Debug("dropped guarded movie paths", zap.String("movie_id", id), zap.Int("dropped", len(dropped)))
	}
	patched, err := patch.Apply(current, allowed)
	if err != nil {
		return catalog.Movie{}, catalog.NewServiceError(opUpdate, reasonPatchFailed, err)
	}

	patched.ID = current.ID
	// Relations carry their own ruleset; validate the movie without them and restore the stored ones.
	patched.Crew, patched.Cast = nil, nil
	if err := s.validator.Check(patched, validation.OnUpdate); err != nil {
		return catalog.Movie{}, catalog.NewServiceError(opUpdate, reasonValidationFailed, err)
	}
	patched.Crew, patched.Cast = current.Crew, current.Cast
	if err := s.checkReleaseDate(patched, validation.OnUpdate); err != nil {
		return catalog.Movie{}, catalog.NewServiceError(opUpdate, reasonValidationFailed, err)
	}
	if patched.Title != current.Title {
		if err := s.ensureTitleAvailable(ctx, opUpdate, patched.Title, current.ID); err != nil {
			return catalog.Movie{}, err
		}
	}

	if err := s.movies.Save(ctx, patched); err != nil {
		s.logError(opUpdate, reasonSaveFailed, err, zap.String("movie_id", id))
		return catalog.Movie{}, catalog.NewServiceError(opUpdate, reasonSaveFailed, err)
	}

	if _, err := s.propagator.MovieUpdated(ctx, current, patched); err != nil {
		return patched, catalog.NewServiceError(opUpdate, reasonPropagation, err)
	}
	return patched, nil
}

// Delete removes the movie's assessments and then the movie.
// The movie is deleted even when some assessments could not be removed.
func (s *Service) Delete(ctx context.Context, id string) error {
	movie, err := s.load(ctx, opDelete, id)
	if err != nil {
		return err
	}
	_, propagationErr := s.propagator.MovieDeleted(ctx, movie)
	if err := s.movies.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return catalog.NewServiceError(opDelete, reasonNotFound, fmt.Errorf("%w: movie %s", catalog.ErrNotFound, id))
		}
		s.logError(opDelete, reasonDeleteFailed, err, zap.String("movie_id", id))
		return catalog.NewServiceError(opDelete, reasonDeleteFailed, err)
	}
	if propagationErr != nil {
		return catalog.NewServiceError(opDelete, reasonPropagation, propagationErr)
	}
	return nil
}

func (s *Service) load(ctx context.Context, operation, id string) (catalog.Movie, error) {
	movie, err := s.movies.FindByID(ctx, strings.TrimSpace(id))
	if errors.Is(err, documents.ErrNotFound) {
		return catalog.Movie{}, catalog.NewServiceError(operation, reasonNotFound, fmt.Errorf("%w: movie %s", catalog.ErrNotFound, id))
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("movie_id", id))
		return catalog.Movie{}, catalog.NewServiceError(operation, reasonQueryFailed, err)
	}
	return movie, nil
}

func (s *Service) ensureTitleAvailable(ctx context.Context, operation, title, ownID string) error {
	existing, err := s.movies.FindAll(ctx, documents.Filter{filterTitle: title})
	if err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return catalog.NewServiceError(operation, reasonQueryFailed, err)
	}
	for _, movie := range existing {
		if movie.ID != ownID {
			conflict := fmt.Errorf("%w: movie titled %q already exists", catalog.ErrConflict, title)
			return catalog.NewServiceError(operation, reasonDuplicateTitle, conflict)
		}
	}
	return nil
}

func (s *Service) checkReleaseDate(movie catalog.Movie, ruleset validation.Ruleset) error {
	if movie.ReleaseDate != nil && movie.ReleaseDate.After(s.clock()) {
		return validation.NewError(ruleset, validation.Violation{Field: "releaseDate", Rule: "not_future"})
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
	s.logger.Error("movies service error", attrs...)
}
