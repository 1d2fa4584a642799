package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/assessments"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"
	"github.com/gin-gonic/gin"
)

const (
	codeInvalidRequest    = "invalid_request"
	codeInvalidPatch      = "invalid_patch"
	codeInvalidRelationID = "invalid_relation_id"
)

func (h *httpHandler) handleListMovies(c *gin.Context) {
	result, err := h.movies.List(c.Request.Context(), queryFilter(c))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleCreateMovie(c *gin.Context) {
	var movie catalog.Movie
	if !bindBody(c, &movie) {
		return
	}
	result, err := h.movies.Create(c.Request.Context(), movie)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleGetMovie(c *gin.Context) {
	result, err := h.movies.Get(c.Request.Context(), c.Param("movieId"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleUpdateMovie(c *gin.Context) {
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.movies.Update(c.Request.Context(), c.Param("movieId"), operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleDeleteMovie(c *gin.Context) {
	err := h.movies.Delete(c.Request.Context(), c.Param("movieId"))
	h.respond(c, http.StatusNoContent, nil, err)
}

func (h *httpHandler) handleListCast(c *gin.Context) {
	result, err := h.movies.ListCast(c.Request.Context(), c.Param("movieId"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleAddCast(c *gin.Context) {
	var entry catalog.Cast
	if !bindBody(c, &entry) {
		return
	}
	result, err := h.movies.AddCast(c.Request.Context(), c.Param("movieId"), entry)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleUpdateCast(c *gin.Context) {
	relationID, ok := relationIDParam(c)
	if !ok {
		return
	}
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.movies.UpdateCast(c.Request.Context(), c.Param("movieId"), relationID, operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleRemoveCast(c *gin.Context) {
	relationID, ok := relationIDParam(c)
	if !ok {
		return
	}
	err := h.movies.RemoveCast(c.Request.Context(), c.Param("movieId"), relationID)
	h.respond(c, http.StatusNoContent, nil, err)
}

func (h *httpHandler) handleListCrew(c *gin.Context) {
	result, err := h.movies.ListCrew(c.Request.Context(), c.Param("movieId"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleAddCrew(c *gin.Context) {
	var entry catalog.Crew
	if !bindBody(c, &entry) {
		return
	}
	result, err := h.movies.AddCrew(c.Request.Context(), c.Param("movieId"), entry)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleUpdateCrew(c *gin.Context) {
	relationID, ok := relationIDParam(c)
	if !ok {
		return
	}
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.movies.UpdateCrew(c.Request.Context(), c.Param("movieId"), relationID, operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleRemoveCrew(c *gin.Context) {
	relationID, ok := relationIDParam(c)
	if !ok {
		return
	}
	err := h.movies.RemoveCrew(c.Request.Context(), c.Param("movieId"), relationID)
	h.respond(c, http.StatusNoContent, nil, err)
}

func (h *httpHandler) handleListMovieAssessments(c *gin.Context) {
	result, err := h.assessments.List(c.Request.Context(), assessments.MovieScope(c.Param("movieId")))
	h.respond(c, http.StatusOK, result, err)
}

// Assessments created through a movie belong to the caller.
func (h *httpHandler) handleCreateMovieAssessment(c *gin.Context) {
	var draft catalog.Assessment
	if !bindBody(c, &draft) {
		return
	}
	result, err := h.assessments.Create(c.Request.Context(), c.Param("movieId"), callerEmail(c), draft)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleGetMovieAssessment(c *gin.Context) {
	result, err := h.assessments.Get(c.Request.Context(), assessments.MovieScope(c.Param("movieId")), c.Param("assessmentId"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleUpdateMovieAssessment(c *gin.Context) {
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.assessments.Update(c.Request.Context(), h.callerMovieScope(c), c.Param("assessmentId"), operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleDeleteMovieAssessment(c *gin.Context) {
	err := h.assessments.Delete(c.Request.Context(), h.callerMovieScope(c), c.Param("assessmentId"))
	h.respond(c, http.StatusNoContent, nil, err)
}

// callerMovieScope narrows movie-scoped mutations to the caller's own assessments unless the caller is an administrator.
func (h *httpHandler) callerMovieScope(c *gin.Context) assessments.Scope {
	scope := assessments.MovieScope(c.Param("movieId"))
	if claims, ok := sessionClaims(c); ok && !claims.HasRole(roleAdmin) {
		scope.UserEmail = claims.UserEmail
	}
	return scope
}

func bindBody(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: codeInvalidRequest})
		return false
	}
	return true
}

func bindPatch(c *gin.Context) ([]patch.Operation, bool) {
	var operations []patch.Operation
	if err := c.ShouldBindJSON(&operations); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: codeInvalidPatch})
		return nil, false
	}
	return operations, true
}

func relationIDParam(c *gin.Context) (int64, bool) {
	relationID, err := strconv.ParseInt(c.Param("relationId"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: codeInvalidRelationID})
		return 0, false
	}
	return relationID, true
}

// queryFilter turns query parameters into a query-by-example filter over string fields; keys are dotted JSON paths.
func queryFilter(c *gin.Context) documents.Filter {
	query := c.Request.URL.Query()
	if len(query) == 0 {
		return nil
	}
	filter := make(documents.Filter, len(query))
	for key, values := range query {
		if len(values) == 0 {
			continue
		}
		filter[key] = values[0]
	}
	return filter
}
