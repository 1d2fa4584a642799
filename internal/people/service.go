// Package people owns the canonical person documents that cast and crew entries point at.
package people

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
	opServiceNew = "people.service.new"
	opCreate     = "people.create"
	opGet        = "people.get"
	opList       = "people.list"
	opUpdate     = "people.update"
	opDelete     = "people.delete"

	reasonNotFound         = "not_found"
	reasonValidationFailed = "validation_failed"
	reasonPatchFailed      = "patch_failed"
	reasonIDFailed         = "id_failed"
	reasonQueryFailed      = "query_failed"
	reasonSaveFailed       = "save_failed"
	reasonDeleteFailed     = "delete_failed"
)

var (
	errMissingPeople     = errors.New("person store is required")
	errMissingValidator  = errors.New("validator is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// PersonStore is the person collection.
type PersonStore interface {
	FindByID(ctx context.Context, id string) (catalog.Person, error)
	FindAll(ctx context.Context, filter documents.Filter) ([]catalog.Person, error)
	Insert(ctx context.Context, person catalog.Person) error
	Save(ctx context.Context, person catalog.Person) error
	DeleteByID(ctx context.Context, id string) error
}

// ServiceConfig describes the dependencies of the person service.
type ServiceConfig struct {
	People     PersonStore
	Validator  *validation.Validator
	IDProvider catalog.IDProvider
	Logger     *zap.Logger
}

// Service manages person documents. Name edits are not copied into existing cast or crew entries.
type Service struct {
	people     PersonStore
	validator  *validation.Validator
	idProvider catalog.IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.People == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_people", errMissingPeople)
	case cfg.Validator == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_validator", errMissingValidator)
	case cfg.IDProvider == nil:
		return nil, catalog.NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{people: cfg.People, validator: cfg.Validator, idProvider: cfg.IDProvider, logger: logger}, nil
}

func (s *Service) Create(ctx context.Context, person catalog.Person) (catalog.Person, error) {
	if err := s.validator.Check(person, validation.OnCreate); err != nil {
		return catalog.Person{}, catalog.NewServiceError(opCreate, reasonValidationFailed, err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDFailed, err)
		return catalog.Person{}, catalog.NewServiceError(opCreate, reasonIDFailed, err)
	}
	person.ID = id
	if err := s.people.Insert(ctx, person); err != nil {
		s.logError(opCreate, reasonSaveFailed, err, zap.String("person_id", id))
		return catalog.Person{}, catalog.NewServiceError(opCreate, reasonSaveFailed, err)
	}
	return person, nil
}

func (s *Service) Get(ctx context.Context, id string) (catalog.Person, error) {
	return s.load(ctx, opGet, id)
}

func (s *Service) List(ctx context.Context, filter documents.Filter) ([]catalog.Person, error) {
	people, err := s.people.FindAll(ctx, filter)
	if err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, catalog.NewServiceError(opList, reasonQueryFailed, err)
	}
	return people, nil
}

// Update applies the operations to the stored person. Operations on the identifier are dropped.
func (s *Service) Update(ctx context.Context, id string, operations []patch.Operation) (catalog.Person, error) {
	current, err := s.load(ctx, opUpdate, id)
	if err != nil {
		return catalog.Person{}, err
	}
	allowed, _ := catalog.PersonPolicy.Filter(operations)
	patched, err := patch.Apply(current, allowed)
	if err != nil {
		return catalog.Person{}, catalog.NewServiceError(opUpdate, reasonPatchFailed, err)
	}
	patched.ID = current.ID
	if err := s.validator.Check(patched, validation.OnUpdate); err != nil {
		return catalog.Person{}, catalog.NewServiceError(opUpdate, reasonValidationFailed, err)
	}
	if err := s.people.Save(ctx, patched); err != nil {
		s.logError(opUpdate, reasonSaveFailed, err, zap.String("person_id", id))
		return catalog.Person{}, catalog.NewServiceError(opUpdate, reasonSaveFailed, err)
	}
	return patched, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.people.DeleteByID(ctx, strings.TrimSpace(id))
	if errors.Is(err, documents.ErrNotFound) {
		return catalog.NewServiceError(opDelete, reasonNotFound, fmt.Errorf("%w: person %s", catalog.ErrNotFound, id))
	}
	if err != nil {
		s.logError(opDelete, reasonDeleteFailed, err, zap.String("person_id", id))
		return catalog.NewServiceError(opDelete, reasonDeleteFailed, err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, operation, id string) (catalog.Person, error) {
	person, err := s.people.FindByID(ctx, strings.TrimSpace(id))
	if errors.Is(err, documents.ErrNotFound) {
		return catalog.Person{}, catalog.NewServiceError(operation, reasonNotFound, fmt.Errorf("%w: person %s", catalog.ErrNotFound, id))
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("person_id", id))
		return catalog.Person{}, catalog.NewServiceError(operation, reasonQueryFailed, err)
	}
	return person, nil
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
	s.logger.Error("people service error", attrs...)
}
