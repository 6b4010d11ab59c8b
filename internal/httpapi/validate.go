package httpapi

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/trustvault/trustvault/internal/apperr"
)

// bindJSON decodes the request body into dst, writing a validation_failed
// response and returning false on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, apperr.Validation("invalid request body", apperr.FieldError{Field: "body", Message: err.Error()}))
		return false
	}
	return true
}

// bindJSONBytes decodes an already-read request body into dst, used by
// handlers that must inspect the raw bytes first (signature verification)
// before binding.
func bindJSONBytes(c *gin.Context, body []byte, dst any) error {
	return json.Unmarshal(body, dst)
}

// requireParam reads a required URL path parameter, writing a
// validation_failed response and returning false if it is empty.
func requireParam(c *gin.Context, name string) (string, bool) {
	v := c.Param(name)
	if v == "" {
		writeError(c, apperr.Validation("missing path parameter", apperr.FieldError{Field: name, Message: "required"}))
		return "", false
	}
	return v, true
}
