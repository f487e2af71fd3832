package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/comigor/triage-go/internal/apperr"
	"github.com/comigor/triage-go/internal/logger"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
}

// errorResponse writes err using the status carried by an AppError. Other
// errors become a 500 without leaking their text.
func errorResponse(c *gin.Context, err error) {
	if appErr := apperr.GetAppError(err); appErr != nil {
		c.JSON(appErr.Code, ErrorBody{
			Error:   appErr.Message,
			Type:    string(appErr.Type),
			Details: appErr.Details,
		})
		return
	}

	logger.L.Error("request failed",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"error", err)
	c.JSON(http.StatusInternalServerError, ErrorBody{
		Error: "Internal server error occurred",
		Type:  string(apperr.ErrorTypeInternal),
	})
}
