package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// pagination reads limit/offset query params with spec defaults (50, 0); a
// limit outside 1..500 falls back to 50.
func pagination(c *gin.Context) (limit, offset int) {
	limit = queryInt(c, "limit", 50)
	offset = queryInt(c, "offset", 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
