package account

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-security/internal/middleware"
	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/service/account"
	apperrors "github.com/jwalitptl/account-security/pkg/errors"
	"github.com/jwalitptl/account-security/pkg/httputil"
)

type Handler struct {
	service account.AccountServicer
	auth    *middleware.AuthMiddleware
}

func NewHandler(service account.AccountServicer, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{service: service, auth: auth}
}

// RegisterRoutes registers self-service registration on the public group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.CreateAccount)
}

// RegisterProtectedRoutes expects r to be behind Authenticate.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts")
	{
		accounts.GET("/me", h.GetCurrentAccount)
		accounts.PUT("/me/password", h.ChangePassword)

		admin := accounts.Group("", h.auth.RequireRole(model.RoleAdmin))
		admin.POST("/admin", h.CreateAccountAsAdmin)
		admin.GET("/:id", h.GetAccount)
		admin.PUT("/:id/password", h.ResetPassword)
		admin.PUT("/:id/role", h.ChangeRole)
	}
}

type createAccountRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"omitempty,role"`
}

func (h *Handler) CreateAccount(c *gin.Context) {
	h.createAccount(c, false)
}

func (h *Handler) CreateAccountAsAdmin(c *gin.Context) {
	h.createAccount(c, true)
}

// createAccount ignores a requested role unless the caller is an admin.
func (h *Handler) createAccount(c *gin.Context, allowRole bool) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	if !allowRole {
		req.Role = model.RoleUser
	}

	acc, err := h.service.CreateAccount(c.Request.Context(), account.CreateAccountRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Origin:   c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithStatus(c, http.StatusCreated, acc)
}

func (h *Handler) GetCurrentAccount(c *gin.Context) {
	current, ok := middleware.CurrentAccount(c)
	if !ok {
		_ = c.Error(apperrors.Unauthorized(errors.New("no authenticated account")))
		return
	}

	acc, err := h.service.GetAccount(c.Request.Context(), current.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, acc)
}

func (h *Handler) GetAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	acc, err := h.service.GetAccount(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, acc)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	current, ok := middleware.CurrentAccount(c)
	if !ok {
		_ = c.Error(apperrors.Unauthorized(errors.New("no authenticated account")))
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	err := h.service.ChangePassword(c.Request.Context(), account.ChangePasswordRequest{
		AccountID:       current.ID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Origin:          c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"password_changed": true})
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

// ResetPassword sets a password without knowing the current one.
func (h *Handler) ResetPassword(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	acc, err := h.service.GetAccount(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	err = h.service.SetPassword(c.Request.Context(), account.SetPasswordRequest{
		AccountID:   acc.ID,
		Username:    acc.Username,
		Email:       acc.Email,
		NewPassword: req.NewPassword,
		Origin:      c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"password_changed": true})
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required,role"`
}

func (h *Handler) ChangeRole(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	acc, err := h.service.ChangeRole(c.Request.Context(), account.ChangeRoleRequest{
		AccountID: id,
		Role:      req.Role,
		ChangedBy: c.GetString(middleware.ContextUsername),
		Origin:    c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, acc)
}

func accountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.NewBadRequest("invalid account ID", err))
		return 0, false
	}
	return id, true
}
