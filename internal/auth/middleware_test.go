package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-test-secret-test-secret"

func newTestRouter(m *Manager) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(m))
	h := NewHandler(m)

	protected := r.Group("/")
	protected.Use(RequireAuth())
	h.RegisterProtectedRoutes(protected)

	admin := r.Group("/")
	admin.Use(RequireAdmin())
	h.RegisterAdminRoutes(admin)
	return r
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManager_IssueAndValidate(t *testing.T) {
	m := NewManager(testSecret, []string{"admin_1"})

	tok, err := m.Issue("usr_1", "a@b.c", time.Hour)
	require.NoError(t, err)

	p, err := m.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", p.UserID)
	assert.Equal(t, "a@b.c", p.Email)
	assert.False(t, p.Admin)

	adminTok, _ := m.Issue("admin_1", "", 0)
	p, err = m.Validate(adminTok)
	require.NoError(t, err)
	assert.True(t, p.Admin)
}

func TestManager_RejectsBadTokens(t *testing.T) {
	m := NewManager(testSecret, nil)
	other := NewManager("another-secret", nil)

	foreign, _ := other.Issue("usr_1", "", time.Hour)
	_, err := m.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := m.Issue("usr_1", "", time.Hour)
	m.now = time.Now
	_, err = m.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "usr_1"})
	raw, _ := noExp.SignedString([]byte(testSecret))
	_, err = m.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAuth(t *testing.T) {
	m := NewManager(testSecret, nil)
	r := newTestRouter(m)

	w := do(r, http.MethodGet, "/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/auth/me", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, _ := m.Issue("usr_1", "", time.Hour)
	w = do(r, http.MethodGet, "/auth/me", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"usr_1"`)
}

func TestRequireAdmin(t *testing.T) {
	m := NewManager(testSecret, []string{"admin_1"})
	r := newTestRouter(m)

	userTok, _ := m.Issue("usr_1", "", time.Hour)
	w := do(r, http.MethodPost, "/admin/tokens", userTok, `{"user_id":"svc_mcp"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminTok, _ := m.Issue("admin_1", "", time.Hour)
	w = do(r, http.MethodPost, "/admin/tokens", adminTok, `{"user_id":"svc_mcp","ttl":"1h"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"token"`)

	w = do(r, http.MethodPost, "/admin/tokens", adminTok, `{"user_id":"svc_mcp","ttl":"-1h"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Equal(t, "", bearerToken("abc"))
	assert.Equal(t, "", bearerToken("Basic abc"))
}
