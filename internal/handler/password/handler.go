package password

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/pkg/httputil"
)

// Validator is the facade's policy check.
type Validator interface {
	ValidatePassword(candidate model.PasswordCandidate) model.ValidationResult
}

// Policy exposes the read-only parts of the policy engine.
type Policy interface {
	Strength(password string) model.Strength
	Requirements() []string
	Policy() model.PasswordPolicy
}

type Handler struct {
	validator Validator
	policy    Policy
}

func NewHandler(validator Validator, policy Policy) *Handler {
	return &Handler{validator: validator, policy: policy}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	passwords := r.Group("/passwords")
	{
		passwords.POST("/validate", h.Validate)
		passwords.POST("/strength", h.Strength)
		passwords.GET("/requirements", h.Requirements)
	}
}

type validateRequest struct {
	Password string `json:"password"`
	Username string `json:"username" binding:"max=128"`
	Email    string `json:"email" binding:"omitempty,email"`
}

type validateResponse struct {
	model.ValidationResult
	Strength model.Strength `json:"strength"`
}

// Validate always answers 200; an invalid password is a result, not an error.
func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	result := h.validator.ValidatePassword(model.PasswordCandidate{
		Password: req.Password,
		Username: req.Username,
		Email:    req.Email,
	})
	if result.Violations == nil {
		result.Violations = []model.Violation{}
	}

	httputil.RespondWithSuccess(c, validateResponse{
		ValidationResult: result,
		Strength:         h.policy.Strength(req.Password),
	})
}

type strengthRequest struct {
	Password string `json:"password"`
}

func (h *Handler) Strength(c *gin.Context) {
	var req strengthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	httputil.RespondWithSuccess(c, h.policy.Strength(req.Password))
}

type requirementsResponse struct {
	Requirements []string `json:"requirements"`
	MinLength    int      `json:"min_length"`
	MaxLength    int      `json:"max_length"`
	SpecialChars string   `json:"special_chars,omitempty"`
	HistoryCount int      `json:"history_count"`
}

func (h *Handler) Requirements(c *gin.Context) {
	p := h.policy.Policy()
	resp := requirementsResponse{
		Requirements: h.policy.Requirements(),
		MinLength:    p.MinLength,
		MaxLength:    p.MaxLength,
		HistoryCount: p.HistoryCount,
	}
	if p.RequireSpecialChars {
		resp.SpecialChars = p.AllowedSpecialChars
	}
	httputil.RespondWithSuccess(c, resp)
}
