package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/pkg/auth"
	apperrors "github.com/jwalitptl/account-security/pkg/errors"
	"github.com/jwalitptl/account-security/pkg/httputil"
	"github.com/jwalitptl/account-security/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTokens struct {
	claims *auth.Claims
	err    error
}

func (f *fakeTokens) GenerateAccessToken(*model.Account) (string, time.Time, error) {
	return "token", time.Now(), nil
}

func (f *fakeTokens) ValidateToken(string) (*auth.Claims, error) {
	return f.claims, f.err
}

type sessionSpy struct {
	actors []model.Actor
}

func (s *sessionSpy) SessionExpired(_ context.Context, actor model.Actor) error {
	s.actors = append(s.actors, actor)
	return nil
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(logger.Nop()), Validation(DefaultValidationConfig()))
	r.Use(handlers...)
	return r
}

func serve(r http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func aliceClaims() *auth.Claims {
	c := &auth.Claims{AccountID: 7, Username: "alice", Role: model.RoleUser}
	c.ID = "jti-1"
	return c
}

func TestAuthenticateRejectsMissingAndMalformedHeaders(t *testing.T) {
	m := NewAuthMiddleware(&fakeTokens{claims: aliceClaims()}, nil)
	r := newEngine(m.Authenticate())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int(apperrors.ErrUnauthorized), decode(t, w).Error.Code)

	w = serve(r, http.MethodGet, "/me", "", http.Header{"Authorization": []string{"Token abc"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateSetsAccount(t *testing.T) {
	m := NewAuthMiddleware(&fakeTokens{claims: aliceClaims()}, nil)
	r := newEngine(m.Authenticate())

	var got *model.Account
	var actor model.Actor
	r.GET("/me", func(c *gin.Context) {
		got, _ = CurrentAccount(c)
		actor = CurrentActor(c)
		assert.Equal(t, "jti-1", c.GetString(ContextTokenID))
		c.Status(http.StatusOK)
	})

	w := serve(r, http.MethodGet, "/me", "", bearer("good"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice", actor.Username)
	require.NotNil(t, actor.ID)
	assert.Equal(t, int64(7), *actor.ID)
}

func TestExpiredTokenRecordsSessionExpiry(t *testing.T) {
	spy := &sessionSpy{}
	tokens := &fakeTokens{claims: aliceClaims(), err: auth.ErrTokenExpired}
	m := NewAuthMiddleware(tokens, spy)
	r := newEngine(m.Authenticate())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/me", "", bearer("old"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, spy.actors, 1)
	assert.Equal(t, "alice", spy.actors[0].Username)

	// retries with the same token are not recorded again
	for i := 0; i < 3; i++ {
		w = serve(r, http.MethodGet, "/me", "", bearer("old"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	assert.Len(t, spy.actors, 1)

	tokens.claims = aliceClaims()
	tokens.claims.ID = "jti-2"
	serve(r, http.MethodGet, "/me", "", bearer("older"))
	require.Len(t, spy.actors, 2)

	// a forged token says nothing about whose session ended
	m = NewAuthMiddleware(&fakeTokens{err: auth.ErrInvalidToken}, spy)
	r = newEngine(m.Authenticate())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = serve(r, http.MethodGet, "/me", "", bearer("forged"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Len(t, spy.actors, 2)
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(&fakeTokens{claims: aliceClaims()}, nil)
	r := newEngine(m.Authenticate())
	r.GET("/admin", m.RequireRole(model.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/admin", "", bearer("good"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := aliceClaims()
	admin.Role = model.RoleAdmin
	m = NewAuthMiddleware(&fakeTokens{claims: admin}, nil)
	r = newEngine(m.Authenticate())
	r.GET("/admin", m.RequireRole(model.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	w = serve(r, http.MethodGet, "/admin", "", bearer("good"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorHandlerRendersAppErrors(t *testing.T) {
	r := newEngine()
	r.GET("/reused", func(c *gin.Context) { _ = c.Error(apperrors.NewPasswordReused()) })
	r.GET("/down", func(c *gin.Context) {
		_ = c.Error(apperrors.NewStorageUnavailable(context.DeadlineExceeded))
	})

	w := serve(r, http.MethodGet, "/reused", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, int(apperrors.ErrPasswordReused), decode(t, w).Error.Code)

	w = serve(r, http.MethodGet, "/down", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "deadline")
}

type bindTarget struct {
	Role     string `json:"role" binding:"required,role"`
	Severity string `json:"severity" binding:"omitempty,severity"`
}

func TestBindingErrors(t *testing.T) {
	r := newEngine()
	r.POST("/bind", func(c *gin.Context) {
		var req bindTarget
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind)
			return
		}
		c.Status(http.StatusNoContent)
	})

	w := serve(r, http.MethodPost, "/bind", `{"role":"superuser","severity":"LOUD"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"role"`)
	assert.Contains(t, w.Body.String(), `"field":"severity"`)
	assert.Contains(t, w.Body.String(), "Unknown role")

	w = serve(r, http.MethodPost, "/bind", `{"role":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPost, "/bind", `{"role":"admin","severity":"CRITICAL"}`, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	r := newEngine()
	r.GET("/id", func(c *gin.Context) {
		rid, _ := c.Request.Context().Value(logger.RequestIDKey{}).(string)
		c.String(http.StatusOK, rid)
	})

	w := serve(r, http.MethodGet, "/id", "", http.Header{HeaderXRequestID: []string{"req-123"}})
	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get(HeaderXRequestID))

	w = serve(r, http.MethodGet, "/id", "", nil)
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(HeaderXRequestID))
}

func TestRateLimitPerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 2})
	r := newEngine(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2"))
}

func TestRecoveryReturnsGenericError(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(logger.Nop()))
	r.GET("/panic", func(c *gin.Context) { panic("secret detail") })

	w := serve(r, http.MethodGet, "/panic", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
}

func TestSizeLimit(t *testing.T) {
	r := newEngine(SizeLimit(16))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodPost, "/", strings.Repeat("x", 64), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(r, http.MethodPost, "/", "{}", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
