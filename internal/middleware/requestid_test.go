package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// newRequestIDRouter echoes the context request id back in a second header
func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Header("X-Context-Request-ID", c.GetString(RequestIDKey))
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestIDMiddleware_GeneratesUUID(t *testing.T) {
	w := httptest.NewRecorder()
	newRequestIDRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("X-Request-ID %q is not a UUID: %v", id, err)
	}
	if got := w.Header().Get("X-Context-Request-ID"); got != id {
		t.Errorf("context id = %q, header id = %q", got, id)
	}
}

func TestRequestIDMiddleware_Inbound(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"well formed", "edge-7f3a9c", true},
		{"contains space", "bad id", false},
		{"contains newline", "bad\nid", false},
		{"too long", strings.Repeat("a", 129), false},
		{"max length", strings.Repeat("a", 128), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.inbound)
			w := httptest.NewRecorder()
			newRequestIDRouter().ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if tt.reuse && got != tt.inbound {
				t.Errorf("X-Request-ID = %q, want inbound %q", got, tt.inbound)
			}
			if !tt.reuse && got == tt.inbound {
				t.Errorf("X-Request-ID reused invalid inbound %q", tt.inbound)
			}
		})
	}
}
