package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/pkg/auth"
	apperrors "github.com/jwalitptl/account-security/pkg/errors"
)

// Context keys set by Authenticate.
const (
	ContextAccountID = "account_id"
	ContextUsername  = "username"
	ContextRole      = "role"
	ContextTokenID   = "token_id"
)

// SessionRecorder is told about sessions that ended because their token expired.
type SessionRecorder interface {
	SessionExpired(ctx context.Context, actor model.Actor) error
}

// expiredSessionTTL is how long an expired token id is remembered, so a
// client retrying with it is reported once.
const expiredSessionTTL = 24 * time.Hour

type AuthMiddleware struct {
	tokens   auth.JWTService
	sessions SessionRecorder
	expired  *cache.Cache
}

func NewAuthMiddleware(tokens auth.JWTService, sessions SessionRecorder) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		sessions: sessions,
		expired:  cache.New(expiredSessionTTL, time.Hour),
	}
}

// Authenticate verifies the bearer token and sets the account in context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, apperrors.Unauthorized(errors.New("missing authorization header")))
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, apperrors.Unauthorized(errors.New("invalid authorization format")))
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if errors.Is(err, auth.ErrTokenExpired) {
			if m.sessions != nil && claims != nil && m.firstExpiry(claims) {
				_ = m.sessions.SessionExpired(c.Request.Context(), model.AccountActor(claimsAccount(claims), c.ClientIP()))
			}
			AbortWithError(c, apperrors.Unauthorized(err))
			return
		}
		if err != nil {
			AbortWithError(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(ContextAccountID, claims.AccountID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextTokenID, claims.ID)
		c.Next()
	}
}

// firstExpiry reports whether this expired token has not been seen before.
func (m *AuthMiddleware) firstExpiry(claims *auth.Claims) bool {
	key := claims.ID
	if key == "" {
		key = strconv.FormatInt(claims.AccountID, 10)
		if claims.ExpiresAt != nil {
			key += ":" + strconv.FormatInt(claims.ExpiresAt.Unix(), 10)
		}
	}
	return m.expired.Add(key, struct{}{}, cache.DefaultExpiration) == nil
}

// RequireRole rejects authenticated callers without the given role.
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			AbortWithError(c, apperrors.Forbidden(errors.New("insufficient role")))
			return
		}
		c.Next()
	}
}

// CurrentActor is the authenticated caller as an audit actor.
func CurrentActor(c *gin.Context) model.Actor {
	account, ok := CurrentAccount(c)
	if !ok {
		return model.Actor{Username: "anonymous", Origin: c.ClientIP()}
	}
	return model.AccountActor(account, c.ClientIP())
}

// CurrentAccount returns the authenticated account as set by Authenticate.
func CurrentAccount(c *gin.Context) (*model.Account, bool) {
	id, ok := c.Get(ContextAccountID)
	if !ok {
		return nil, false
	}
	accountID, ok := id.(int64)
	if !ok {
		return nil, false
	}
	return &model.Account{
		ID:       accountID,
		Username: c.GetString(ContextUsername),
		Role:     c.GetString(ContextRole),
	}, true
}

func claimsAccount(claims *auth.Claims) *model.Account {
	return &model.Account{
		ID:       claims.AccountID,
		Username: claims.Username,
		Role:     claims.Role,
	}
}
