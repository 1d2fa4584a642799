package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListPeople(c *gin.Context) {
	result, err := h.people.List(c.Request.Context(), queryFilter(c))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleCreatePerson(c *gin.Context) {
	var person catalog.Person
	if !bindBody(c, &person) {
		return
	}
	result, err := h.people.Create(c.Request.Context(), person)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleGetPerson(c *gin.Context) {
	result, err := h.people.Get(c.Request.Context(), c.Param("personId"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleUpdatePerson(c *gin.Context) {
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.people.Update(c.Request.Context(), c.Param("personId"), operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleDeletePerson(c *gin.Context) {
	err := h.people.Delete(c.Request.Context(), c.Param("personId"))
	h.respond(c, http.StatusNoContent, nil, err)
}
