package auth

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-security/internal/middleware"
	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/service/account"
	"github.com/jwalitptl/account-security/pkg/auth"
	apperrors "github.com/jwalitptl/account-security/pkg/errors"
	"github.com/jwalitptl/account-security/pkg/httputil"
)

type Handler struct {
	accounts account.AccountServicer
	tokens   auth.JWTService
}

func NewHandler(accounts account.AccountServicer, tokens auth.JWTService) *Handler {
	return &Handler{accounts: accounts, tokens: tokens}
}

// RegisterRoutes registers login on the public group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
}

// RegisterProtectedRoutes registers routes that need an authenticated caller.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auth/logout", h.Logout)
}

type loginRequest struct {
	Username string `json:"username" binding:"required,max=128"`
	Password string `json:"password" binding:"required,max=1024"`
}

type loginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Account     *model.Account `json:"account"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	acc, err := h.accounts.Login(c.Request.Context(), account.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		Origin:   c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	token, expires, err := h.tokens.GenerateAccessToken(acc)
	if err != nil {
		_ = c.Error(apperrors.NewInternal(err))
		return
	}

	httputil.RespondWithSuccess(c, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		Account:     acc,
	})
}

// Logout records the event. Tokens are stateless and simply expire.
func (h *Handler) Logout(c *gin.Context) {
	_ = h.accounts.Logout(c.Request.Context(), middleware.CurrentActor(c))
	httputil.RespondWithSuccess(c, gin.H{"logged_out": true})
}
