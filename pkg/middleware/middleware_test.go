package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *int32) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var calls int32
	r := gin.New()
	r.Use(Logger(logger.NewNop()), RequireUser())
	r.POST("/register", Idempotency(&IdempotencyConfig{Redis: rdb}), func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"call": n})
	})
	admin := r.Group("/admin", RequireAdmin([]string{"root"}))
	admin.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	return r, &calls
}

func do(r http.Handler, method, path, user, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireUser(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodPost, "/register", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	r, _ := newRouter(t)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin/ping", "alice", "", "").Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/admin/ping", "root", "", "").Code)
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	r, calls := newRouter(t)

	first := do(r, http.MethodPost, "/register", "alice", "k1", `{}`)
	second := do(r, http.MethodPost, "/register", "alice", "k1", `{}`)

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestIdempotency_KeyReusedWithDifferentRequest(t *testing.T) {
	r, calls := newRouter(t)

	do(r, http.MethodPost, "/register", "alice", "k1", `{}`)
	w := do(r, http.MethodPost, "/register", "alice", "k1", `{"as_waitlist":true}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "IDEMPOTENCY_KEY_REUSED")
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestIdempotency_SameKeyDifferentUsers(t *testing.T) {
	r, calls := newRouter(t)

	alice := do(r, http.MethodPost, "/register", "alice", "retry-1", `{}`)
	bob := do(r, http.MethodPost, "/register", "bob", "retry-1", `{}`)

	assert.Equal(t, http.StatusCreated, alice.Code)
	assert.Equal(t, http.StatusCreated, bob.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	again := do(r, http.MethodPost, "/register", "bob", "retry-1", `{}`)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.JSONEq(t, bob.Body.String(), again.Body.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	r, calls := newRouter(t)

	do(r, http.MethodPost, "/register", "alice", "", "")
	do(r, http.MethodPost, "/register", "alice", "", "")

	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func signToken(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestRequireToken(t *testing.T) {
	secret := []byte("test-secret")
	r := gin.New()
	r.GET("/me", RequireToken(secret), func(c *gin.Context) {
		userID, _ := GetUserID(c)
		c.String(http.StatusOK, userID)
	})

	call := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	now := time.Now()
	valid := signToken(t, secret, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	w := call("Bearer " + valid)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	tests := []struct {
		name string
		auth string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"wrong secret", "Bearer " + signToken(t, []byte("other"), jwt.RegisteredClaims{Subject: "alice"})},
		{"expired", "Bearer " + signToken(t, secret, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))})},
		{"no subject", "Bearer " + signToken(t, secret, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, call(tt.auth).Code)
		})
	}
}
