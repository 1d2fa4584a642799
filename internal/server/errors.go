package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const codeInternal = "internal_error"

type errorResponse struct {
	Error      string                 `json:"error"`
	Violations []validation.Violation `json:"violations,omitempty"`
	Operation  *failedOperation       `json:"operation,omitempty"`
}

type failedOperation struct {
	Index int    `json:"index"`
	Op    string `json:"op"`
	Path  string `json:"path"`
}

// warningResponse carries a committed result whose dependent documents could not all be updated.
type warningResponse struct {
	Result  any    `json:"result,omitempty"`
	Warning string `json:"warning"`
}

// respond writes result with status, or maps err. A propagation failure follows a committed write,
// so the result is still returned together with a warning.
func (h *httpHandler) respond(c *gin.Context, status int, result any, err error) {
	if err == nil {
		if result == nil {
			c.Status(status)
			return
		}
		c.JSON(status, result)
		return
	}
	if errors.Is(err, catalog.ErrPropagation) {
		h.logger.Warn("request committed with stale dependents", zap.String("code", errorCode(err)), zap.Error(err))
		if status == http.StatusNoContent {
			status = http.StatusOK
		}
		c.JSON(status, warningResponse{Result: result, Warning: errorCode(err)})
		return
	}
	h.respondError(c, err)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	response := errorResponse{Error: errorCode(err)}

	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		response.Violations = validationErr.Violations
	}
	var patchErr *patch.Error
	if errors.As(err, &patchErr) {
		response.Operation = &failedOperation{Index: patchErr.Index, Op: string(patchErr.Op), Path: patchErr.Path}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, response)
}

// statusFor maps an error class onto an HTTP status. Propagation is checked first because a
// mirror failure can also carry a not-found cause.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrPropagation):
		return http.StatusOK
	case errors.Is(err, patch.ErrStructural), errors.Is(err, catalog.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var serviceErr *catalog.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return codeInternal
}
