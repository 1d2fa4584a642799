package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/friends"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleListFriends(c *gin.Context) {
	result, err := h.friends.List(c.Request.Context(), c.Param("email"))
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleRequestFriend(c *gin.Context) {
	var friend friends.FriendRef
	if !bindBody(c, &friend) {
		return
	}
	result, err := h.friends.Request(c.Request.Context(), c.Param("email"), friend)
	h.respond(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleRespondFriend(c *gin.Context) {
	operations, ok := bindPatch(c)
	if !ok {
		return
	}
	result, err := h.friends.Respond(c.Request.Context(), c.Param("email"), c.Param("friendEmail"), operations)
	h.respond(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleRemoveFriend(c *gin.Context) {
	err := h.friends.Remove(c.Request.Context(), c.Param("email"), c.Param("friendEmail"))
	h.respond(c, http.StatusNoContent, nil, err)
}

// handleFriendEvents streams the user's friend events as server-sent events.
func (h *httpHandler) handleFriendEvents(c *gin.Context) {
	email := c.Param("email")
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, email)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("friend event stream opened", zap.String("user_email", email))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"at": time.Now().UTC()})
			return true
		}
	})
	h.logger.Debug("friend event stream closed", zap.String("user_email", email))
}
