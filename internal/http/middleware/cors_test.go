package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(r *gin.Engine, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/generation/start", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCORSOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name    string
		allowed []string
		origin  string
		allow   bool
	}{
		{"dev default", nil, "http://localhost:5173", true},
		{"configured", []string{"https://studio.example.com"}, "https://studio.example.com", true},
		{"configured rejects dev", []string{"https://studio.example.com"}, "http://localhost:5173", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tc.allowed))
			r.POST("/api/generation/start", func(c *gin.Context) { c.Status(http.StatusOK) })

			rec := preflight(r, tc.origin)
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tc.allow && got != tc.origin {
				t.Fatalf("allow-origin: got=%q want=%q (status %d)", got, tc.origin, rec.Code)
			}
			if !tc.allow && got != "" {
				t.Fatalf("origin should be rejected, got allow-origin %q", got)
			}
		})
	}
}
