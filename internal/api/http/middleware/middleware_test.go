package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const secret = "middleware-secret"

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger())
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"worker_id": c.GetString(WorkerIDKey)})
	})
	r.GET("/protected", handlers...)
	return r
}

func get(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", "/protected", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, _, err := auth.GenerateToken(auth.Config{JWTSecret: secret, TokenTTL: time.Hour}, "scraper-1", role)
	require.NoError(t, err)
	return tok
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(JWTAuth(secret))

	w := get(r, "Authorization", "Bearer "+token(t, auth.RoleWorker))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"worker_id":"scraper-1"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestJWTAuthRejects(t *testing.T) {
	r := newRouter(JWTAuth(secret))

	assert.Equal(t, http.StatusUnauthorized, get(r, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Authorization", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Authorization", "Bearer not-a-jwt").Code)
}

func TestRequireRole(t *testing.T) {
	r := newRouter(JWTAuth(secret), RequireRole(auth.RoleAdmin))

	assert.Equal(t, http.StatusForbidden, get(r, "Authorization", "Bearer "+token(t, auth.RoleWorker)).Code)
	assert.Equal(t, http.StatusOK, get(r, "Authorization", "Bearer "+token(t, auth.RoleAdmin)).Code)
}

func TestAPIKeyAuth(t *testing.T) {
	r := newRouter(APIKeyAuth("admin-key"))

	assert.Equal(t, http.StatusOK, get(r, "X-API-Key", "admin-key").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "", "").Code)
}

func TestAPIKeyAuthNotConfigured(t *testing.T) {
	r := newRouter(APIKeyAuth(""))

	assert.Equal(t, http.StatusServiceUnavailable, get(r, "X-API-Key", "anything").Code)
}

func TestRequestLoggerKeepsIncomingID(t *testing.T) {
	r := newRouter()

	w := get(r, "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
