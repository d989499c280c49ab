package xero

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xerolink/xerolink/internal/linking"
	xeroclient "github.com/xerolink/xerolink/internal/xero"
)

// writeError maps the linking error taxonomy onto HTTP statuses
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, linking.ErrConfiguration):
		status, msg = http.StatusServiceUnavailable, "Xero integration is not configured"
	case errors.Is(err, linking.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, linking.ErrVerification):
		status, msg = http.StatusBadRequest, "Xero did not accept the authorization"
	case errors.Is(err, linking.ErrCorruptState):
		status, msg = http.StatusConflict, "Stored Xero credentials are unreadable; link again"
	case errors.Is(err, linking.ErrMissingEmail):
		status, msg = http.StatusUnprocessableEntity, "User has no email address"
	case errors.Is(err, linking.ErrProvider):
		writeProviderError(c, err)
		return
	}
	if status >= 500 {
		slog.Error("xero request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// writeProviderError reports a failed call to Xero as 502, passing through the
// upstream status when there was one
func writeProviderError(c *gin.Context, err error) {
	body := gin.H{"error": "Xero request failed"}
	var apiErr *xeroclient.APIError
	if errors.As(err, &apiErr) {
		body["xero_status"] = apiErr.StatusCode
		if apiErr.Problem != "" {
			body["xero_problem"] = apiErr.Problem
		}
	}
	slog.Error("xero provider call failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadGateway, body)
}
