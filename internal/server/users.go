package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/assessments"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/gin-gonic/gin"
)

type userAssessmentPayload struct {
	MovieID string `json:"movieId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	var user catalog.User
	if !bindBody(c, &user) {
		return
	}
	result, err := h.users.Create(c.Request.Context(), user)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	result, err := h.users.List(c.Request.Context(), queryFilter(c))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	result, err := h.users.Get(c.Request.Context(), c.Param("email"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.users.Update(c.Request.Context(), c.Param("email"), operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	err := h.users.Delete(c.Request.Context(), c.Param("email"))
	h.respond(c, http.StatusNoContent, nil, err)
}

func (h *httpHandler) handleListUserAssessments(c *gin.Context) {
	result, err := h.assessments.List(c.Request.Context(), assessments.UserScope(c.Param("email")))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleCreateUserAssessment(c *gin.Context) {
	var payload userAssessmentPayload
	if !bindBody(c, &payload) {
		return
	}
	draft := catalog.Assessment{Rating: payload.Rating, Comment: payload.Comment}
	result, err := h.assessments.Create(c.Request.Context(), payload.MovieID, c.Param("email"), draft)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleGetUserAssessment(c *gin.Context) {
	result, err := h.assessments.Get(c.Request.Context(), assessments.UserScope(c.Param("email")), c.Param("assessmentId"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleUpdateUserAssessment(c *gin.Context) {
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.assessments.Update(c.Request.Context(), assessments.UserScope(c.Param("email")), c.Param("assessmentId"), operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleDeleteUserAssessment(c *gin.Context) {
	err := h.assessments.Delete(c.Request.Context(), assessments.UserScope(c.Param("email")), c.Param("assessmentId"))
	h.respond(c, http.StatusNoContent, nil, err)
}
