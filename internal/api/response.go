package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvSync/internal/api/middleware"
	"cvSync/internal/cv"
	"cvSync/internal/cvstore"
	"cvSync/internal/editing"
	"cvSync/internal/view"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func BadRequest(c *gin.Context, msg string)         { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)          { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)           { Error(c, http.StatusNotFound, msg) }
func Internal(c *gin.Context, msg string)           { Error(c, http.StatusInternalServerError, msg) }
func ServiceUnavailable(c *gin.Context, msg string) { Error(c, http.StatusServiceUnavailable, msg) }

// respondError 把领域错误映射为 HTTP 状态码。
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cvstore.ErrNotFound):
		NotFound(c, "cv not found")
	case errors.Is(err, editing.ErrForbidden), errors.Is(err, view.ErrForbidden):
		Forbidden(c, "forbidden")
	case errors.Is(err, cv.ErrShapeMismatch), errors.Is(err, editing.ErrInvalidStep), errors.Is(err, cv.ErrInvalidGroup):
		BadRequest(c, err.Error())
	case errors.Is(err, cvstore.ErrStoreUnavailable):
		middleware.LoggerFromContext(c).Error("store unavailable", "error", err)
		ServiceUnavailable(c, "storage temporarily unavailable")
	default:
		middleware.LoggerFromContext(c).Error("request failed", "error", err)
		Internal(c, "internal error")
	}
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok && id > 0
}
