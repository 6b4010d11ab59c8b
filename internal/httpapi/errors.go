package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trustvault/trustvault/internal/apperr"
)

// errorBody is the uniform JSON shape for every error response, per the
// shared error taxonomy.
type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Details []apperr.FieldError `json:"details,omitempty"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindUnauthorized:  http.StatusUnauthorized,
	apperr.KindForbidden:     http.StatusForbidden,
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindConflict:      http.StatusConflict,
	apperr.KindPayloadTooBig: http.StatusRequestEntityTooLarge,
	apperr.KindRateLimited:   http.StatusTooManyRequests,
	apperr.KindInternal:      http.StatusInternalServerError,
	apperr.KindUnavailable:   http.StatusServiceUnavailable,
}

// writeError maps a service-layer error to the correct status code and
// uniform body. Every handler funnels its failures through here instead of
// repeating errors.Is/errors.As chains, since the taxonomy is small and
// closed.
func writeError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody{Error: string(apperr.KindInternal), Message: "internal error"})
		return
	}

	status, ok := statusByKind[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	c.JSON(status, errorBody{Error: string(appErr.Kind), Message: appErr.Message, Details: appErr.Details})
}

// abortWithError writes the error response and stops further handler chain
// execution.
func abortWithError(c *gin.Context, err error) {
	writeError(c, err)
	c.Abort()
}
