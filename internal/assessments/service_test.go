package assessments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents/documentstest"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	db := documentstest.Open(t, "assessments", "movies", "users")
	assessments, err := documents.NewCollection[catalog.Assessment](db, "assessments", time.Now)
	if err != nil {
		t.Fatalf("assessments collection: %v", err)
	}
	movies, err := documents.NewCollection[catalog.Movie](db, "movies", time.Now)
	if err != nil {
		t.Fatalf("movies collection: %v", err)
	}
	users, err := documents.NewCollection[catalog.User](db, "users", time.Now)
	if err != nil {
		t.Fatalf("users collection: %v", err)
	}
	for _, movie := range []catalog.Movie{{ID: "m-1", Title: "Alien"}, {ID: "m-2", Title: "Aliens"}} {
		if err := movies.Insert(ctx, movie); err != nil {
			t.Fatalf("seed movie: %v", err)
		}
	}
	for _, user := range []catalog.User{{Email: "ripley@example.com", Name: "Ellen"}, {Email: "hicks@example.com", Name: "Hicks"}} {
		if err := users.Insert(ctx, user); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	service, err := NewService(ServiceConfig{
		Assessments: assessments,
		Movies:      movies,
		Users:       users,
		Validator:   validation.New(),
		IDProvider:  &catalog.SequenceProvider{Prefix: "assessment-"},
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return service
}

func TestCreateEmbedsReferencesAndAllowsOnePerUserAndMovie(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)

	created, err := service.Create(ctx, "m-1", "ripley@example.com", catalog.Assessment{Rating: 9, Comment: "Tense"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.Movie != (catalog.MovieRef{ID: "m-1", Title: "Alien"}) || created.User != (catalog.UserRef{Email: "ripley@example.com", Name: "Ellen"}) {
		t.Fatalf("unexpected references: %#v", created)
	}

	_, err = service.Create(ctx, "m-1", "ripley@example.com", catalog.Assessment{Rating: 4})
	if !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := service.Create(ctx, "m-2", "ripley@example.com", catalog.Assessment{Rating: 7}); err != nil {
		t.Fatalf("unexpected create error for another movie: %v", err)
	}
}

func TestCreateRequiresExistingMovieAndUser(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)

	if _, err := service.Create(ctx, "m-404", "ripley@example.com", catalog.Assessment{Rating: 5}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected missing movie, got %v", err)
	}
	if _, err := service.Create(ctx, "m-1", "bishop@example.com", catalog.Assessment{Rating: 5}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected missing user, got %v", err)
	}
	if _, err := service.Create(ctx, "m-1", "ripley@example.com", catalog.Assessment{Rating: 11}); !errors.Is(err, validation.ErrInvalid) {
		t.Fatalf("expected rating validation error, got %v", err)
	}
}

func TestUpdateIsScopedAndGuarded(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created, err := service.Create(ctx, "m-1", "ripley@example.com", catalog.Assessment{Rating: 9})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	_, err = service.Update(ctx, MovieScope("m-2"), created.ID, []patch.Operation{patch.Replace("/rating", 3)})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected assessment outside scope to be hidden, got %v", err)
	}

	updated, err := service.Update(ctx, UserScope("ripley@example.com"), created.ID, []patch.Operation{
		patch.Replace("/rating", 3),
		patch.Replace("/movie/title", "Forged"),
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Rating != 3 || updated.Movie.Title != "Alien" {
		t.Fatalf("unexpected updated assessment: %#v", updated)
	}
}

func TestUpdateIgnoresRootAndCaseVariantOperations(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created, err := service.Create(ctx, "m-1", "ripley@example.com", catalog.Assessment{Rating: 9})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	updated, err := service.Update(ctx, UserScope("ripley@example.com"), created.ID, []patch.Operation{
		patch.Replace("", map[string]any{
			"id":     "forged",
			"rating": 1,
			"movie":  map[string]string{"id": "m-9", "title": "Forged"},
			"user":   map[string]string{"email": "mallory@example.com", "name": "Mallory"},
		}),
		patch.Replace("/User/email", "mallory@example.com"),
		patch.Replace("/MOVIE", map[string]string{"id": "m-9", "title": "Forged"}),
		patch.Replace("/rating", 4),
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.ID != created.ID || updated.Rating != 4 {
		t.Fatalf("unexpected updated assessment: %#v", updated)
	}
	if updated.Movie != created.Movie || updated.User != created.User {
		t.Fatalf("expected references to be unchanged, got %#v", updated)
	}
	if _, err := service.Get(ctx, UserScope("ripley@example.com"), created.ID); err != nil {
		t.Fatalf("expected assessment to stay in its owner's scope, got %v", err)
	}
}

func TestListAndDeleteByScope(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	first, err := service.Create(ctx, "m-1", "ripley@example.com", catalog.Assessment{Rating: 9})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(ctx, "m-1", "hicks@example.com", catalog.Assessment{Rating: 6}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	byMovie, err := service.List(ctx, MovieScope("m-1"))
	if err != nil || len(byMovie) != 2 {
		t.Fatalf("expected two assessments for movie, got %d (%v)", len(byMovie), err)
	}
	byUser, err := service.List(ctx, UserScope("hicks@example.com"))
	if err != nil || len(byUser) != 1 {
		t.Fatalf("expected one assessment for user, got %d (%v)", len(byUser), err)
	}

	if err := service.Delete(ctx, UserScope("hicks@example.com"), first.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected delete outside scope to fail, got %v", err)
	}
	if err := service.Delete(ctx, MovieScope("m-1"), first.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := service.Get(ctx, MovieScope("m-1"), first.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected deleted assessment to be gone, got %v", err)
	}
}
