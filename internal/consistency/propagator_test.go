package consistency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents/documentstest"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	assessments *documents.Collection[catalog.Assessment]
	users       *documents.Collection[catalog.User]
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := documentstest.Open(t, "assessments", "users")
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	assessments, err := documents.NewCollection[catalog.Assessment](db, "assessments", clock)
	require.NoError(t, err)
	users, err := documents.NewCollection[catalog.User](db, "users", clock)
	require.NoError(t, err)
	return fixture{assessments: assessments, users: users}
}

type failingSaves struct {
	AssessmentStore
	failIDs map[string]bool
}

func (s failingSaves) Save(ctx context.Context, assessment catalog.Assessment) error {
	if s.failIDs[assessment.ID] {
		return errors.New("disk full")
	}
	return s.AssessmentStore.Save(ctx, assessment)
}

type recordingRemover struct {
	mu    sync.Mutex
	pairs [][2]string
	err   error
}

func (r *recordingRemover) Remove(_ context.Context, userEmail, friendEmail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, [2]string{userEmail, friendEmail})
	return r.err
}

func seedAssessments(t *testing.T, store *documents.Collection[catalog.Assessment], assessments ...catalog.Assessment) {
	t.Helper()
	for _, assessment := range assessments {
		require.NoError(t, store.Insert(context.Background(), assessment))
	}
}

func TestMovieTitleChangeRewritesEveryAssessment(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	seedAssessments(t, fx.assessments,
		catalog.Assessment{ID: "a-1", Rating: 8, Movie: catalog.MovieRef{ID: "m-1", Title: "Old Title"}, User: catalog.UserRef{Email: "a@example.com", Name: "Alice"}},
		catalog.Assessment{ID: "a-2", Rating: 6, Movie: catalog.MovieRef{ID: "m-1", Title: "Old Title"}, User: catalog.UserRef{Email: "b@example.com", Name: "Bob"}},
		catalog.Assessment{ID: "a-3", Rating: 5, Movie: catalog.MovieRef{ID: "m-2", Title: "Other"}, User: catalog.UserRef{Email: "a@example.com", Name: "Alice"}},
	)
	propagator, err := NewPropagator(Config{Assessments: fx.assessments, Users: fx.users})
	require.NoError(t, err)

	outcome, err := propagator.MovieUpdated(ctx,
		catalog.Movie{ID: "m-1", Title: "Old Title"},
		catalog.Movie{ID: "m-1", Title: "New Title"},
	)
	require.NoError(t, err)
	require.Equal(t, Outcome{Updated: 2}, outcome)

	dependents, err := fx.assessments.FindAll(ctx, documents.Filter{"movie.id": "m-1"})
	require.NoError(t, err)
	require.Len(t, dependents, 2)
	for _, assessment := range dependents {
		require.Equal(t, catalog.MovieRef{ID: "m-1", Title: "New Title"}, assessment.Movie)
	}
	untouched, err := fx.assessments.FindByID(ctx, "a-3")
	require.NoError(t, err)
	require.Equal(t, "Other", untouched.Movie.Title)
}

func TestUnchangedDisplayFieldSkipsPropagation(t *testing.T) {
	fx := newFixture(t)
	seedAssessments(t, fx.assessments,
		catalog.Assessment{ID: "a-1", Rating: 8, Movie: catalog.MovieRef{ID: "m-1", Title: "Stale"}},
	)
	propagator, err := NewPropagator(Config{Assessments: fx.assessments, Users: fx.users})
	require.NoError(t, err)

	outcome, err := propagator.MovieUpdated(context.Background(),
		catalog.Movie{ID: "m-1", Title: "Alien", Budget: 1},
		catalog.Movie{ID: "m-1", Title: "Alien", Budget: 2},
	)
	require.NoError(t, err)
	require.Equal(t, Outcome{}, outcome)
}

func TestFailedDependentWriteDoesNotStopTheRest(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	seedAssessments(t, fx.assessments,
		catalog.Assessment{ID: "a-1", Rating: 8, Movie: catalog.MovieRef{ID: "m-1", Title: "Old"}},
		catalog.Assessment{ID: "a-2", Rating: 7, Movie: catalog.MovieRef{ID: "m-1", Title: "Old"}},
		catalog.Assessment{ID: "a-3", Rating: 6, Movie: catalog.MovieRef{ID: "m-1", Title: "Old"}},
	)
	store := failingSaves{AssessmentStore: fx.assessments, failIDs: map[string]bool{"a-2": true}}
	propagator, err := NewPropagator(Config{Assessments: store, Users: fx.users})
	require.NoError(t, err)

	outcome, err := propagator.MovieUpdated(ctx,
		catalog.Movie{ID: "m-1", Title: "Old"},
		catalog.Movie{ID: "m-1", Title: "New"},
	)
	require.ErrorIs(t, err, catalog.ErrPropagation)
	require.Equal(t, 2, outcome.Updated)

	var propagationErr *PropagationError
	require.ErrorAs(t, err, &propagationErr)
	require.Len(t, propagationErr.Failures, 1)
	require.Equal(t, "a-2", propagationErr.Failures[0].DocumentID)

	third, err := fx.assessments.FindByID(ctx, "a-3")
	require.NoError(t, err)
	require.Equal(t, "New", third.Movie.Title)
	second, err := fx.assessments.FindByID(ctx, "a-2")
	require.NoError(t, err)
	require.Equal(t, "Old", second.Movie.Title)
}

func TestUserNameChangeRewritesAssessmentsAndCounterparts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	requested := time.Unix(1690000000, 0).UTC()
	alice := catalog.User{
		Email: "alice@example.com", Name: "Alice Cooper",
		Friends: []catalog.FriendRelation{{FriendEmail: "bob@example.com", FriendName: "Bob", Status: catalog.FriendStatusAccepted, Requested: &requested}},
	}
	bob := catalog.User{
		Email: "bob@example.com", Name: "Bob",
		Friends: []catalog.FriendRelation{{FriendEmail: "alice@example.com", FriendName: "Alice", Status: catalog.FriendStatusAccepted, Requested: &requested}},
	}
	require.NoError(t, fx.users.Insert(ctx, bob))
	seedAssessments(t, fx.assessments,
		catalog.Assessment{ID: "a-1", Rating: 9, Movie: catalog.MovieRef{ID: "m-1", Title: "Alien"}, User: catalog.UserRef{Email: "alice@example.com", Name: "Alice"}},
	)
	propagator, err := NewPropagator(Config{Assessments: fx.assessments, Users: fx.users})
	require.NoError(t, err)

	previous := alice
	previous.Name = "Alice"
	outcome, err := propagator.UserUpdated(ctx, previous, alice)
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Updated)

	assessment, err := fx.assessments.FindByID(ctx, "a-1")
	require.NoError(t, err)
	require.Equal(t, "Alice Cooper", assessment.User.Name)

	storedBob, err := fx.users.FindByID(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, storedBob.Friends, 1)
	require.Equal(t, "Alice Cooper", storedBob.Friends[0].FriendName)
	require.Equal(t, catalog.FriendStatusAccepted, storedBob.Friends[0].Status)
}

func TestMovieDeletionRemovesDependents(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	seedAssessments(t, fx.assessments,
		catalog.Assessment{ID: "a-1", Rating: 8, Movie: catalog.MovieRef{ID: "m-1", Title: "Alien"}},
		catalog.Assessment{ID: "a-2", Rating: 6, Movie: catalog.MovieRef{ID: "m-2", Title: "Aliens"}},
	)
	propagator, err := NewPropagator(Config{Assessments: fx.assessments, Users: fx.users})
	require.NoError(t, err)

	outcome, err := propagator.MovieDeleted(ctx, catalog.Movie{ID: "m-1", Title: "Alien"})
	require.NoError(t, err)
	require.Equal(t, Outcome{Deleted: 1}, outcome)

	remaining, err := fx.assessments.FindAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "a-2", remaining[0].ID)
}

func TestUserDeletionRemovesFriendshipsThenAssessments(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	seedAssessments(t, fx.assessments,
		catalog.Assessment{ID: "a-1", Rating: 8, User: catalog.UserRef{Email: "alice@example.com", Name: "Alice"}},
	)
	remover := &recordingRemover{}
	propagator, err := NewPropagator(Config{Assessments: fx.assessments, Users: fx.users, Friends: remover})
	require.NoError(t, err)

	user := catalog.User{
		Email: "alice@example.com", Name: "Alice",
		Friends: []catalog.FriendRelation{
			{FriendEmail: "bob@example.com", FriendName: "Bob", Status: catalog.FriendStatusAccepted},
			{FriendEmail: "carol@example.com", FriendName: "Carol", Status: catalog.FriendStatusPending},
		},
	}
	outcome, err := propagator.UserDeleted(ctx, user)
	require.NoError(t, err)
	require.Equal(t, Outcome{Updated: 2, Deleted: 1}, outcome)
	require.Equal(t, [][2]string{
		{"alice@example.com", "bob@example.com"},
		{"alice@example.com", "carol@example.com"},
	}, remover.pairs)

	remaining, err := fx.assessments.FindAll(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestUserDeletionReportsRemoverFailures(t *testing.T) {
	fx := newFixture(t)
	remover := &recordingRemover{err: errors.New("store offline")}
	propagator, err := NewPropagator(Config{Assessments: fx.assessments, Users: fx.users, Friends: remover})
	require.NoError(t, err)

	user := catalog.User{
		Email:   "alice@example.com",
		Friends: []catalog.FriendRelation{{FriendEmail: "bob@example.com"}},
	}
	_, err = propagator.UserDeleted(context.Background(), user)
	require.ErrorIs(t, err, catalog.ErrPropagation)
}

func TestNewPropagatorRequiresStores(t *testing.T) {
	_, err := NewPropagator(Config{})
	require.Error(t, err)
}
