package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/assessments"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/consistency"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents/documentstest"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/friends"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/movies"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/people"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/users"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "marquee-test"
	testCookieName    = "app_session"
	ripleyEmail       = "ripley@example.com"
	hicksEmail        = "hicks@example.com"
)

type testServer struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := documentstest.Open(t, "movies", "people", "users", "assessments")
	movieStore := mustCollection[catalog.Movie](t, db, "movies")
	personStore := mustCollection[catalog.Person](t, db, "people")
	userStore := mustCollection[catalog.User](t, db, "users")
	assessmentStore := mustCollection[catalog.Assessment](t, db, "assessments")
	validator := validation.New()
	dispatcher := NewRealtimeDispatcher()
	ids := catalog.NewUUIDProvider()

	coordinator, err := friends.NewCoordinator(friends.Config{Users: userStore, Validator: validator, Notifier: dispatcher})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	propagator, err := consistency.NewPropagator(consistency.Config{Assessments: assessmentStore, Users: userStore, Friends: coordinator})
	if err != nil {
		t.Fatalf("propagator: %v", err)
	}
	movieService, err := movies.NewService(movies.ServiceConfig{Movies: movieStore, People: personStore, Validator: validator, Propagator: propagator, IDProvider: ids})
	if err != nil {
		t.Fatalf("movies: %v", err)
	}
	peopleService, err := people.NewService(people.ServiceConfig{People: personStore, Validator: validator, IDProvider: ids})
	if err != nil {
		t.Fatalf("people: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Users: userStore, Validator: validator, Propagator: propagator, PasswordCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	assessmentService, err := assessments.NewService(assessments.ServiceConfig{Assessments: assessmentStore, Movies: movieStore, Users: userStore, Validator: validator, IDProvider: ids})
	if err != nil {
		t.Fatalf("assessments: %v", err)
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("session validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          sessions,
		Movies:            movieService,
		People:            peopleService,
		Users:             userService,
		Assessments:       assessmentService,
		Friends:           coordinator,
		Realtime:          dispatcher,
		HeartbeatInterval: time.Second,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testServer{handler: handler, issuer: issuer}
}

func mustCollection[T documents.Document](t *testing.T, db *gorm.DB, table string) *documents.Collection[T] {
	t.Helper()
	collection, err := documents.NewCollection[T](db, table, time.Now)
	if err != nil {
		t.Fatalf("collection %s: %v", table, err)
	}
	return collection
}

func (s testServer) token(t *testing.T, email string) string {
	t.Helper()
	token, _, err := s.issuer.IssueSessionToken(email, "", []string{catalog.DefaultUserRole})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s testServer) do(t *testing.T, method, path, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Content-Type", "application/json")
	if email != "" {
		request.Header.Set("Authorization", "Bearer "+s.token(t, email))
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s testServer) seedUser(t *testing.T, email, name string) {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/users", "", map[string]any{
		"email":    email,
		"name":     name,
		"password": "correct-horse",
		"birthday": map[string]int{"day": 1, "month": 2, "year": 1980},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("failed to create user %s: %d %s", email, recorder.Code, recorder.Body.String())
	}
	if strings.Contains(recorder.Body.String(), "correct-horse") || strings.Contains(recorder.Body.String(), `"password"`) {
		t.Fatalf("expected password to be withheld, got %s", recorder.Body.String())
	}
}

func (s testServer) seedMovie(t *testing.T, title string) catalog.Movie {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/movies", ripleyEmail, map[string]any{"title": title})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("failed to create movie: %d %s", recorder.Code, recorder.Body.String())
	}
	var movie catalog.Movie
	decode(t, recorder, &movie)
	return movie
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode %s: %v", recorder.Body.String(), err)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodGet, "/movies", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

func TestMovieTitlePatchPropagatesOverHTTP(t *testing.T) {
	server := newTestServer(t)
	server.seedUser(t, ripleyEmail, "Ellen Ripley")
	movie := server.seedMovie(t, "Alien")

	created := server.do(t, http.MethodPost, "/movies/"+movie.ID+"/assessments", ripleyEmail, map[string]any{"rating": 9})
	if created.Code != http.StatusCreated {
		t.Fatalf("failed to create assessment: %d %s", created.Code, created.Body.String())
	}

	patched := server.do(t, http.MethodPatch, "/movies/"+movie.ID, ripleyEmail, []map[string]any{
		{"op": "replace", "path": "/title", "value": "Alien: Director's Cut"},
	})
	if patched.Code != http.StatusOK {
		t.Fatalf("unexpected patch status: %d %s", patched.Code, patched.Body.String())
	}

	listed := server.do(t, http.MethodGet, "/users/"+ripleyEmail+"/assessments", ripleyEmail, nil)
	var stored []catalog.Assessment
	decode(t, listed, &stored)
	if len(stored) != 1 || stored[0].Movie.Title != "Alien: Director's Cut" {
		t.Fatalf("expected propagated title, got %#v", stored)
	}
}

func TestPatchFailuresMapToStatusCodes(t *testing.T) {
	server := newTestServer(t)
	movie := server.seedMovie(t, "Aliens")

	structural := server.do(t, http.MethodPatch, "/movies/"+movie.ID, ripleyEmail, []map[string]any{
		{"op": "replace", "path": "/collection/name", "value": "Saga"},
	})
	if structural.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d %s", structural.Code, structural.Body.String())
	}
	var structuralBody errorResponse
	decode(t, structural, &structuralBody)
	if structuralBody.Error != "movies.update.patch_failed" || structuralBody.Operation == nil {
		t.Fatalf("unexpected structural error body: %s", structural.Body.String())
	}

	invalid := server.do(t, http.MethodPatch, "/movies/"+movie.ID, ripleyEmail, []map[string]any{
		{"op": "replace", "path": "/title", "value": "A"},
	})
	if invalid.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected unprocessable entity, got %d %s", invalid.Code, invalid.Body.String())
	}
	var invalidBody errorResponse
	decode(t, invalid, &invalidBody)
	if invalidBody.Error != "movies.update.validation_failed" || len(invalidBody.Violations) != 1 || invalidBody.Violations[0].Field != "title" {
		t.Fatalf("unexpected validation error body: %s", invalid.Body.String())
	}

	missing := server.do(t, http.MethodPatch, "/movies/unknown", ripleyEmail, []map[string]any{
		{"op": "replace", "path": "/title", "value": "Anything"},
	})
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", missing.Code)
	}

	malformed := server.do(t, http.MethodPatch, "/movies/"+movie.ID, ripleyEmail, map[string]any{"op": "replace"})
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for non-array patch, got %d", malformed.Code)
	}
}

func TestDuplicateCastEntryConflictsOverHTTP(t *testing.T) {
	server := newTestServer(t)
	movie := server.seedMovie(t, "Alien 3")

	personRecorder := server.do(t, http.MethodPost, "/people", ripleyEmail, map[string]any{"name": "Sigourney Weaver"})
	if personRecorder.Code != http.StatusCreated {
		t.Fatalf("failed to create person: %d %s", personRecorder.Code, personRecorder.Body.String())
	}
	var person catalog.Person
	decode(t, personRecorder, &person)

	entry := map[string]any{"id": person.ID, "name": person.Name, "character": "Ripley"}
	first := server.do(t, http.MethodPost, "/movies/"+movie.ID+"/cast", ripleyEmail, entry)
	if first.Code != http.StatusCreated {
		t.Fatalf("failed to add cast: %d %s", first.Code, first.Body.String())
	}
	var cast catalog.Cast
	decode(t, first, &cast)
	if cast.RelationID == 0 {
		t.Fatalf("expected derived relation id")
	}

	second := server.do(t, http.MethodPost, "/movies/"+movie.ID+"/cast", ripleyEmail, entry)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", second.Code, second.Body.String())
	}

	badID := server.do(t, http.MethodDelete, "/movies/"+movie.ID+"/cast/not-a-number", ripleyEmail, nil)
	if badID.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for relation id, got %d", badID.Code)
	}
}

func TestUserMutationsAreRestrictedToSelf(t *testing.T) {
	server := newTestServer(t)
	server.seedUser(t, ripleyEmail, "Ellen Ripley")
	server.seedUser(t, hicksEmail, "Dwayne Hicks")

	forbidden := server.do(t, http.MethodPatch, "/users/"+hicksEmail, ripleyEmail, []map[string]any{
		{"op": "replace", "path": "/name", "value": "Corporal Hicks"},
	})
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", forbidden.Code)
	}

	own := server.do(t, http.MethodPatch, "/users/"+ripleyEmail, ripleyEmail, []map[string]any{
		{"op": "replace", "path": "/email", "value": "someone@example.com"},
		{"op": "replace", "path": "/name", "value": "Ellen L. Ripley"},
	})
	if own.Code != http.StatusOK {
		t.Fatalf("unexpected self patch status: %d %s", own.Code, own.Body.String())
	}
	var updated catalog.User
	decode(t, own, &updated)
	if updated.Email != ripleyEmail || updated.Name != "Ellen L. Ripley" {
		t.Fatalf("unexpected updated user: %#v", updated)
	}
}

func TestFriendRequestStreamsEventToCounterpart(t *testing.T) {
	server := newTestServer(t)
	server.seedUser(t, ripleyEmail, "Ellen Ripley")
	server.seedUser(t, hicksEmail, "Dwayne Hicks")

	httpServer := httptest.NewServer(server.handler)
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/users/"+hicksEmail+"/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.AddCookie(&http.Cookie{Name: testCookieName, Value: server.token(t, hicksEmail)})
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	requested := server.do(t, http.MethodPost, "/users/"+ripleyEmail+"/friends", ripleyEmail, map[string]any{
		"email": hicksEmail,
		"name":  "Dwayne Hicks",
	})
	if requested.Code != http.StatusCreated {
		t.Fatalf("unexpected request status: %d %s", requested.Code, requested.Body.String())
	}

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult)
	go func() {
		reader := bufio.NewReader(streamResp.Body)
		for {
			line, err := reader.ReadString('\n')
			select {
			case lines <- readResult{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for friend event")
		case res := <-lines:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != string(friends.EventRequested) {
				continue
			}
			var event friends.Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.UserEmail != hicksEmail || event.FriendEmail != ripleyEmail || event.Status != catalog.FriendStatusPending {
				t.Fatalf("unexpected event: %#v", event)
			}
			return
		}
	}
}
