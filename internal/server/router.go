package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/assessments"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/friends"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/movies"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/people"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionClaimsContextKey  = "marquee_session_claims"
	roleAdmin                = "ROLE_ADMIN"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessions    = errors.New("session validator dependency required")
	errMissingMovies      = errors.New("movies service dependency required")
	errMissingPeople      = errors.New("people service dependency required")
	errMissingUsers       = errors.New("users service dependency required")
	errMissingAssessments = errors.New("assessments service dependency required")
	errMissingFriends     = errors.New("friends coordinator dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Sessions          SessionValidator
	Movies            *movies.Service
	People            *people.Service
	Users             *users.Service
	Assessments       *assessments.Service
	Friends           *friends.Coordinator
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Movies == nil:
		return nil, errMissingMovies
	case deps.People == nil:
		return nil, errMissingPeople
	case deps.Users == nil:
		return nil, errMissingUsers
	case deps.Assessments == nil:
		return nil, errMissingAssessments
	case deps.Friends == nil:
		return nil, errMissingFriends
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions:          deps.Sessions,
		movies:            deps.Movies,
		people:            deps.People,
		users:             deps.Users,
		assessments:       deps.Assessments,
		friends:           deps.Friends,
		realtime:          deps.Realtime,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.POST("/users", handler.handleCreateUser)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/movies", handler.handleListMovies)
	protected.POST("/movies", handler.handleCreateMovie)
	protected.GET("/movies/:movieId", handler.handleGetMovie)
	protected.PATCH("/movies/:movieId", handler.handleUpdateMovie)
	protected.DELETE("/movies/:movieId", handler.handleDeleteMovie)

	protected.GET("/movies/:movieId/cast", handler.handleListCast)
	protected.POST("/movies/:movieId/cast", handler.handleAddCast)
	protected.PATCH("/movies/:movieId/cast/:relationId", handler.handleUpdateCast)
	protected.DELETE("/movies/:movieId/cast/:relationId", handler.handleRemoveCast)
	protected.GET("/movies/:movieId/crew", handler.handleListCrew)
	protected.POST("/movies/:movieId/crew", handler.handleAddCrew)
	protected.PATCH("/movies/:movieId/crew/:relationId", handler.handleUpdateCrew)
	protected.DELETE("/movies/:movieId/crew/:relationId", handler.handleRemoveCrew)

	protected.GET("/movies/:movieId/assessments", handler.handleListMovieAssessments)
	protected.POST("/movies/:movieId/assessments", handler.handleCreateMovieAssessment)
	protected.GET("/movies/:movieId/assessments/:assessmentId", handler.handleGetMovieAssessment)
	protected.PATCH("/movies/:movieId/assessments/:assessmentId", handler.handleUpdateMovieAssessment)
	protected.DELETE("/movies/:movieId/assessments/:assessmentId", handler.handleDeleteMovieAssessment)

	protected.GET("/people", handler.handleListPeople)
	protected.POST("/people", handler.handleCreatePerson)
	protected.GET("/people/:personId", handler.handleGetPerson)
	protected.PATCH("/people/:personId", handler.handleUpdatePerson)
	protected.DELETE("/people/:personId", handler.handleDeletePerson)

	protected.GET("/users", handler.handleListUsers)
	protected.GET("/users/:email", handler.handleGetUser)
	protected.GET("/users/:email/assessments", handler.handleListUserAssessments)
	protected.GET("/users/:email/assessments/:assessmentId", handler.handleGetUserAssessment)

	self := protected.Group("/users/:email")
	self.Use(handler.requireSelf)
	self.PATCH("", handler.handleUpdateUser)
	self.DELETE("", handler.handleDeleteUser)
	self.POST("/assessments", handler.handleCreateUserAssessment)
	self.PATCH("/assessments/:assessmentId", handler.handleUpdateUserAssessment)
	self.DELETE("/assessments/:assessmentId", handler.handleDeleteUserAssessment)
	self.GET("/friends", handler.handleListFriends)
	self.POST("/friends", handler.handleRequestFriend)
	self.PATCH("/friends/:friendEmail", handler.handleRespondFriend)
	self.DELETE("/friends/:friendEmail", handler.handleRemoveFriend)
	if deps.Realtime != nil {
		self.GET("/events", handler.handleFriendEvents)
	}

	return router, nil
}

type httpHandler struct {
	sessions          SessionValidator
	movies            *movies.Service
	people            *people.Service
	users             *users.Service
	assessments       *assessments.Service
	friends           *friends.Coordinator
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	anyOrigin := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			anyOrigin = true
			break
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if anyOrigin || len(origins) == 0 {
		// Credentialed requests need the caller's origin echoed back rather than "*".
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	c.Set(sessionClaimsContextKey, claims)
	c.Next()
}

// requireSelf restricts routes under /users/:email to that user or an administrator.
func (h *httpHandler) requireSelf(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	if !strings.EqualFold(claims.UserEmail, c.Param("email")) && !claims.HasRole(roleAdmin) {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}
	c.Next()
}

func sessionClaims(c *gin.Context) (auth.SessionClaims, bool) {
	value, ok := c.Get(sessionClaimsContextKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

func callerEmail(c *gin.Context) string {
	claims, _ := sessionClaims(c)
	return claims.UserEmail
}
