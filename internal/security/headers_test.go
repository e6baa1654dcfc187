package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/orders", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(method, "/v1/orders", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(t, HeadersMiddleware(HeadersOptions{}), http.MethodGet, "")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddleware_HSTS(t *testing.T) {
	w := serve(t, HeadersMiddleware(HeadersOptions{HSTS: true}), http.MethodGet, "")
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  string
		credentials bool
	}{
		{"allowed origin", []string{"https://shop.example"}, "https://shop.example", "https://shop.example", true},
		{"other origin", []string{"https://shop.example"}, "https://evil.example", "", false},
		{"wildcard", []string{"*"}, "https://any.example", "https://any.example", false},
		{"disabled", nil, "https://shop.example", "", false},
		{"no origin header", []string{"*"}, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, CORSMiddleware(tt.allowed), http.MethodGet, tt.origin)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve(t, CORSMiddleware([]string{"https://shop.example"}), http.MethodOptions, "https://shop.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
