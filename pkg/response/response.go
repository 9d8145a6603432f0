package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope. Error helpers abort the gin
// chain, so middleware can return right after calling them.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Accepted sends 202 for work handed to the worker.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error envelope with status and stops the handler chain.
func Error(c *gin.Context, status int, err string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: err})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) { Error(c, http.StatusBadRequest, err) }

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) { Error(c, http.StatusUnauthorized, err) }

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) { Error(c, http.StatusForbidden, err) }

// NotFound sends 404.
func NotFound(c *gin.Context, err string) { Error(c, http.StatusNotFound, err) }

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) { Error(c, http.StatusServiceUnavailable, err) }

// Internal sends 500.
func Internal(c *gin.Context, err string) { Error(c, http.StatusInternalServerError, err) }
