// Package assessments owns user ratings of movies. Each assessment embeds a copy of its movie title and user name.
package assessments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
	"go.uber.org/zap"
)

const (
	opServiceNew = "assessments.service.new"
	opCreate     = "assessments.create"
	opGet        = "assessments.get"
	opList       = "assessments.list"
	opUpdate     = "assessments.update"
	opDelete     = "assessments.delete"

	reasonNotFound         = "not_found"
	reasonMovieNotFound    = "movie_not_found"
	reasonUserNotFound     = "user_not_found"
	reasonAlreadyAssessed  = "already_assessed"
	reasonValidationFailed = "validation_failed"
	reasonPatchFailed      = "patch_failed"
	reasonIDFailed         = "id_failed"
	reasonQueryFailed      = "query_failed"
	reasonSaveFailed       = "save_failed"
	reasonDeleteFailed     = "delete_failed"

	filterMovieID   = "movie.id"
	filterUserEmail = "user.email"
)

var (
	errMissingAssessments = errors.New("assessment store is required")
	errMissingMovies      = errors.New("movie store is required")
	errMissingUsers       = errors.New("user store is required")
	errMissingValidator   = errors.New("validator is required")
	errMissingIDProvider  = errors.New("id provider is required")
)

// AssessmentStore is the assessment collection.
type AssessmentStore interface {
	FindByID(ctx context.Context, id string) (catalog.Assessment, error)
	FindAll(ctx context.Context, filter documents.Filter) ([]catalog.Assessment, error)
	Insert(ctx context.Context, assessment catalog.Assessment) error
	Save(ctx context.Context, assessment catalog.Assessment) error
	DeleteByID(ctx context.Context, id string) error
}

// MovieStore resolves the assessed movie.
type MovieStore interface {
	FindByID(ctx context.Context, id string) (catalog.Movie, error)
}

// UserStore resolves the assessing user.
type UserStore interface {
	FindByID(ctx context.Context, email string) (catalog.User, error)
}

// Scope restricts an operation to the assessments of one movie, one user, or both.
type Scope struct {
	MovieID   string
	UserEmail string
}

// MovieScope addresses the assessments of a movie.
func MovieScope(movieID string) Scope {
	return Scope{MovieID: movieID}
}

// UserScope addresses the assessments written by a user.
func UserScope(email string) Scope {
	return Scope{UserEmail: email}
}

func (s Scope) filter() documents.Filter {
	filter := documents.Filter{}
	if s.MovieID != "" {
		filter[filterMovieID] = s.MovieID
	}
	if s.UserEmail != "" {
		filter[filterUserEmail] = s.UserEmail
	}
	return filter
}

func (s Scope) contains(assessment catalog.Assessment) bool {
	if s.MovieID != "" && assessment.Movie.ID != s.MovieID {
		return false
	}
	if s.UserEmail != "" && !strings.EqualFold(assessment.User.Email, s.UserEmail) {
		return false
	}
	return true
}

// ServiceConfig describes the dependencies of the assessment service.
type ServiceConfig struct {
	Assessments AssessmentStore
	Movies      MovieStore
	Users       UserStore
	Validator   *validation.Validator
	IDProvider  catalog.IDProvider
	Logger      *zap.Logger
}

// Service manages assessments. Their movie and user references are set on creation and maintained by propagation only.
type Service struct {
	assessments AssessmentStore
	movies      MovieStore
	users       UserStore
	validator   *validation.Validator
	idProvider  catalog.IDProvider
	logger      *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Assessments == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_assessments", errMissingAssessments)
	case cfg.Movies == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_movies", errMissingMovies)
	case cfg.Users == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_users", errMissingUsers)
	case cfg.Validator == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_validator", errMissingValidator)
	case cfg.IDProvider == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		assessments: cfg.Assessments,
		movies:      cfg.Movies,
		users:       cfg.Users,
		validator:   cfg.Validator,
		idProvider:  cfg.IDProvider,
		logger:      logger,
	}, nil
}

// Create records the user's assessment of the movie. A user assesses a movie at most once.
func (s *Service) Create(ctx context.Context, movieID, userEmail string, draft catalog.Assessment) (catalog.Assessment, error) {
	if err := s.validator.Check(draft, validation.OnCreate); err != nil {
		return catalog.Assessment{}, catalog.NewServiceError(opCreate, reasonValidationFailed, err)
	}
	movie, err := s.movies.FindByID(ctx, strings.TrimSpace(movieID))
	if err != nil {
		return catalog.Assessment{}, s.lookupFailed(opCreate, reasonMovieNotFound, "movie", movieID, err)
	}
	user, err := s.users.FindByID(ctx, strings.TrimSpace(userEmail))
	if err != nil {
		return catalog.Assessment{}, s.lookupFailed(opCreate, reasonUserNotFound, "user", userEmail, err)
	}

	existing, err := s.assessments.FindAll(ctx, Scope{MovieID: movie.ID, UserEmail: user.Email}.filter())
	if err != nil {
		s.logError(opCreate, reasonQueryFailed, err)
		return catalog.Assessment{}, catalog.NewServiceError(opCreate, reasonQueryFailed, err)
	}
	if len(existing) > 0 {
		conflict := fmt.Errorf("%w: %s already assessed movie %s", catalog.ErrConflict, user.Email, movie.ID)
		return catalog.Assessment{}, catalog.NewServiceError(opCreate, reasonAlreadyAssessed, conflict)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDFailed, err)
		return catalog.Assessment{}, catalog.NewServiceError(opCreate, reasonIDFailed, err)
	}
	assessment := catalog.Assessment{
		ID:      id,
		Rating:  draft.Rating,
		Comment: draft.Comment,
		Movie:   movie.Ref(),
		User:    user.Ref(),
	}
	if err := s.assessments.Insert(ctx, assessment); err != nil {
		s.logError(opCreate, reasonSaveFailed, err, zap.String("assessment_id", id))
		return catalog.Assessment{}, catalog.NewServiceError(opCreate, reasonSaveFailed, err)
	}
	return assessment, nil
}

// Get loads one assessment within the scope.
func (s *Service) Get(ctx context.Context, scope Scope, id string) (catalog.Assessment, error) {
	return s.load(ctx, opGet, scope, id)
}

// List returns every assessment within the scope.
func (s *Service) List(ctx context.Context, scope Scope) ([]catalog.Assessment, error) {
	assessments, err := s.assessments.FindAll(ctx, scope.filter())
	if err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, catalog.NewServiceError(opList, reasonQueryFailed, err)
	}
	return assessments, nil
}

// Update applies the operations to an assessment within the scope. Operations on the identifier or the references are dropped.
func (s *Service) Update(ctx context.Context, scope Scope, id string, operations []patch.Operation) (catalog.Assessment, error) {
	current, err := s.load(ctx, opUpdate, scope, id)
	if err != nil {
		return catalog.Assessment{}, err
	}
	allowed, _ := catalog.AssessmentPolicy.Filter(operations)
	patched, err := patch.Apply(current, allowed)
	if err != nil {
		return catalog.Assessment{}, catalog.NewServiceError(opUpdate, reasonPatchFailed, err)
	}
	patched.ID, patched.Movie, patched.User = current.ID, current.Movie, current.User
	if err := s.validator.Check(patched, validation.OnUpdate); err != nil {
		return catalog.Assessment{}, catalog.NewServiceError(opUpdate, reasonValidationFailed, err)
	}
	if err := s.assessments.Save(ctx, patched); err != nil {
		s.logError(opUpdate, reasonSaveFailed, err, zap.String("assessment_id", id))
		return catalog.Assessment{}, catalog.NewServiceError(opUpdate, reasonSaveFailed, err)
	}
	return patched, nil
}

// Delete removes an assessment within the scope.
func (s *Service) Delete(ctx context.Context, scope Scope, id string) error {
	assessment, err := s.load(ctx, opDelete, scope, id)
	if err != nil {
		return err
	}
	if err := s.assessments.DeleteByID(ctx, assessment.ID); err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return catalog.NewServiceError(opDelete, reasonNotFound, fmt.Errorf("%w: assessment %s", catalog.ErrNotFound, id))
		}
		s.logError(opDelete, reasonDeleteFailed, err, zap.String("assessment_id", id))
		return catalog.NewServiceError(opDelete, reasonDeleteFailed, err)
	}
	return nil
}

// load finds the assessment and hides assessments outside the scope as not found.
func (s *Service) load(ctx context.Context, operation string, scope Scope, id string) (catalog.Assessment, error) {
	assessment, err := s.assessments.FindByID(ctx, strings.TrimSpace(id))
	if err == nil && !scope.contains(assessment) {
		err = documents.ErrNotFound
	}
	if err != nil {
		return catalog.Assessment{}, s.lookupFailed(operation, reasonNotFound, "assessment", id, err)
	}
	return assessment, nil
}

func (s *Service) lookupFailed(operation, missingReason, kind, id string, err error) error {
	if errors.Is(err, documents.ErrNotFound) {
		return catalog.NewServiceError(operation, missingReason, fmt.Errorf("%w: %s %s", catalog.ErrNotFound, kind, id))
	}
	s.logError(operation, reasonQueryFailed, err, zap.String(kind+"_id", id))
	return catalog.NewServiceError(operation, reasonQueryFailed, err)
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
	s.logger.Error("assessments service error", attrs...)
}
