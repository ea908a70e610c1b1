package core

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, requestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Body.String())
	require.NoError(t, err)
	assert.Equal(t, w.Body.String(), w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "upstream-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-42", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, strings.Repeat("x", maxRequestIDLength+1), w.Body.String())
}

func TestRequestLogger_OmitsQueryAndAuthorization(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestIDMiddleware(), RequestLogger(NewLogger(&buf, "json", "info"), nil))
	r.GET("/users", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/users?token=secret-value", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"path":"/users"`)
	assert.Contains(t, out, `"status":200`)
	assert.NotContains(t, out, "secret-value")
	assert.NotContains(t, out, "secret-token")
}

func TestOriginMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(OriginMiddleware(Config{AllowedOrigins: []string{"https://App.example.com"}}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name    string
		origin  string
		referer string
		want    int
	}{
		{"no origin", "", "", http.StatusOK},
		{"allowed", "https://app.example.com", "", http.StatusOK},
		{"denied", "https://evil.example.com", "", http.StatusForbidden},
		{"referer denied", "", "https://evil.example.com/page", http.StatusForbidden},
		{"referer allowed", "", "https://app.example.com/page", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestParseSkipLimit(t *testing.T) {
	skip, limit, err := parseSkipLimit("", "")
	require.NoError(t, err)
	assert.Equal(t, 0, skip)
	assert.Equal(t, 100, limit)

	skip, limit, err = parseSkipLimit("20", "500")
	require.NoError(t, err)
	assert.Equal(t, 20, skip)
	assert.Equal(t, maxLimit, limit)

	for _, in := range [][2]string{{"-1", ""}, {"x", ""}, {"", "0"}, {"", "ten"}} {
		_, _, err := parseSkipLimit(in[0], in[1])
		assert.Error(t, err, "%v", in)
	}
}
