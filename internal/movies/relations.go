package movies

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
	"go.uber.org/zap"
)

const (
	reasonPersonNotFound   = "person_not_found"
	reasonStalePersonName  = "stale_person_name"
	reasonRelationNotFound = "relation_not_found"
	reasonRelationConflict = "relation_conflict"
)

// relationField binds one embedded relation collection of a movie.
type relationField[T catalog.Relation[T]] struct {
	name   string
	policy patch.Policy
	get    func(catalog.Movie) []T
	set    func(*catalog.Movie, []T)
	person func(T) catalog.Person
	// keep copies the guarded person identity of the stored entry onto a patched one.
	keep func(patched, stored T) T
}

var (
	castField = relationField[catalog.Cast]{
		name:   "cast",
		policy: catalog.CastPolicy,
		get:    func(movie catalog.Movie) []catalog.Cast { return movie.Cast },
		set:    func(movie *catalog.Movie, entries []catalog.Cast) { movie.Cast = entries },
		person: func(entry catalog.Cast) catalog.Person { return entry.Person },
		keep: func(patched, stored catalog.Cast) catalog.Cast {
			patched.ID, patched.Name, patched.RelationID = stored.ID, stored.Name, stored.RelationID
			return patched
		},
	}
	crewField = relationField[catalog.Crew]{
		name:   "crew",
		policy: catalog.CrewPolicy,
		get:    func(movie catalog.Movie) []catalog.Crew { return movie.Crew },
		set:    func(movie *catalog.Movie, entries []catalog.Crew) { movie.Crew = entries },
		person: func(entry catalog.Crew) catalog.Person { return entry.Person },
		keep: func(patched, stored catalog.Crew) catalog.Crew {
			patched.ID, patched.Name, patched.RelationID = stored.ID, stored.Name, stored.RelationID
			return patched
		},
	}
)

// ListCast returns the movie's cast entries.
func (s *Service) ListCast(ctx context.Context, movieID string) ([]catalog.Cast, error) {
	return listRelations(ctx, s, castField, movieID)
}

// AddCast appends a cast entry for an existing person. An entry with the same person and character conflicts.
func (s *Service) AddCast(ctx context.Context, movieID string, entry catalog.Cast) (catalog.Cast, error) {
	return addRelation(ctx, s, castField, movieID, entry)
}

// UpdateCast patches the cast entry stored under relationID and re-derives its identity.
func (s *Service) UpdateCast(ctx context.Context, movieID string, relationID int64, operations []patch.Operation) (catalog.Cast, error) {
	return updateRelation(ctx, s, castField, movieID, relationID, operations)
}

// RemoveCast deletes the cast entry stored under relationID.
func (s *Service) RemoveCast(ctx context.Context, movieID string, relationID int64) error {
	return removeRelation(ctx, s, castField, movieID, relationID)
}

// ListCrew returns the movie's crew entries.
func (s *Service) ListCrew(ctx context.Context, movieID string) ([]catalog.Crew, error) {
	return listRelations(ctx, s, crewField, movieID)
}

// AddCrew appends a crew entry for an existing person. An entry with the same person and job conflicts.
func (s *Service) AddCrew(ctx context.Context, movieID string, entry catalog.Crew) (catalog.Crew, error) {
	return addRelation(ctx, s, crewField, movieID, entry)
}

// UpdateCrew patches the crew entry stored under relationID and re-derives its identity.
func (s *Service) UpdateCrew(ctx context.Context, movieID string, relationID int64, operations []patch.Operation) (catalog.Crew, error) {
	return updateRelation(ctx, s, crewField, movieID, relationID, operations)
}

// RemoveCrew deletes the crew entry stored under relationID.
func (s *Service) RemoveCrew(ctx context.Context, movieID string, relationID int64) error {
	return removeRelation(ctx, s, crewField, movieID, relationID)
}

func listRelations[T catalog.Relation[T]](ctx context.Context, s *Service, field relationField[T], movieID string) ([]T, error) {
	movie, err := s.load(ctx, operationName(field, "list"), movieID)
	if err != nil {
		return nil, err
	}
	return append([]T(nil), field.get(movie)...), nil
}

func addRelation[T catalog.Relation[T]](ctx context.Context, s *Service, field relationField[T], movieID string, entry T) (T, error) {
	var zero T
	operation := operationName(field, "add")
	movie, err := s.load(ctx, operation, movieID)
	if err != nil {
		return zero, err
	}
	if err := s.ensurePerson(ctx, operation, field.person(entry)); err != nil {
		return zero, err
	}

	entries, stamped, err := catalog.AddRelation(field.get(movie), entry)
	if err != nil {
		return zero, catalog.NewServiceError(operation, reasonRelationConflict, err)
	}
	if err := s.validator.Check(stamped, validation.OnRelation); err != nil {
		return zero, catalog.NewServiceError(operation, reasonValidationFailed, err)
	}
	field.set(&movie, entries)
	if err := s.movies.Save(ctx, movie); err != nil {
		s.logError(operation, reasonSaveFailed, err, zap.String("movie_id", movie.ID))
		return zero, catalog.NewServiceError(operation, reasonSaveFailed, err)
	}
	return stamped, nil
}

func updateRelation[T catalog.Relation[T]](ctx context.Context, s *Service, field relationField[T], movieID string, relationID int64, operations []patch.Operation) (T, error) {
	var zero T
	operation := operationName(field, "update")
	movie, err := s.load(ctx, operation, movieID)
	if err != nil {
		return zero, err
	}
	current := field.get(movie)
	position := catalog.FindRelation(current, relationID)
	if position < 0 {
		notFound := fmt.Errorf("%w: %s relation %d on movie %s", catalog.ErrNotFound, field.name, relationID, movie.ID)
		return zero, catalog.NewServiceError(operation, reasonRelationNotFound, notFound)
	}

	allowed, dropped := field.policy.Filter(operations)
	if len(dropped) > 0 {
		s.logger.Debug("dropped guarded relation paths", zap.String("movie_id", movie.ID), zap.Int("dropped", len(dropped)))
	}
	patched, err := patch.Apply(current[position], allowed)
	if err != nil {
		return zero, catalog.NewServiceError(operation, reasonPatchFailed, err)
	}
	patched = field.keep(patched, current[position])
	entries, stamped, err := catalog.ReplaceRelation(current, relationID, patched)
	if err != nil {
		return zero, catalog.NewServiceError(operation, reasonRelationConflict, err)
	}
	if err := s.validator.Check(stamped, validation.OnRelation); err != nil {
		return zero, catalog.NewServiceError(operation, reasonValidationFailed, err)
	}
	field.set(&movie, entries)
	if err := s.movies.Save(ctx, movie); err != nil {
		s.logError(operation, reasonSaveFailed, err, zap.String("movie_id", movie.ID))
		return zero, catalog.NewServiceError(operation, reasonSaveFailed, err)
	}
	return stamped, nil
}

func removeRelation[T catalog.Relation[T]](ctx context.Context, s *Service, field relationField[T], movieID string, relationID int64) error {
	operation := operationName(field, "remove")
	movie, err := s.load(ctx, operation, movieID)
	if err != nil {
		return err
	}
	entries, _, err := catalog.RemoveRelation(field.get(movie), relationID)
	if err != nil {
		return catalog.NewServiceError(operation, reasonRelationNotFound, err)
	}
	field.set(&movie, entries)
	if err := s.movies.Save(ctx, movie); err != nil {
		s.logError(operation, reasonSaveFailed, err, zap.String("movie_id", movie.ID))
		return catalog.NewServiceError(operation, reasonSaveFailed, err)
	}
	return nil
}

// ensurePerson checks that the entry points at a stored person under the name the caller supplied.
func (s *Service) ensurePerson(ctx context.Context, operation string, person catalog.Person) error {
	stored, err := s.people.FindByID(ctx, person.ID)
	if errors.Is(err, documents.ErrNotFound) {
		return catalog.NewServiceError(operation, reasonPersonNotFound, fmt.Errorf("%w: person %s", catalog.ErrNotFound, person.ID))
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("person_id", person.ID))
		return catalog.NewServiceError(operation, reasonQueryFailed, err)
	}
	if stored.Name != person.Name {
		stale := fmt.Errorf("%w: person %s is not named %q", catalog.ErrNotFound, person.ID, person.Name)
		return catalog.NewServiceError(operation, reasonStalePersonName, stale)
	}
	return nil
}

func operationName[T catalog.Relation[T]](field relationField[T], action string) string {
	return fmt.Sprintf("movies.%s.%s", field.name, action)
}
