package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-security/internal/middleware"
	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/service/audit"
	apperrors "github.com/jwalitptl/account-security/pkg/errors"
	"github.com/jwalitptl/account-security/pkg/httputil"
)

// Recorder is the part of the audit logger the handler writes through.
type Recorder interface {
	SecurityEvent(ctx context.Context, label string, actor model.Actor, severity model.Severity, attrs ...model.Attr) error
}

// Reader lists persisted events. It is nil when the audit sink does not
// persist to a queryable store.
type Reader interface {
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEvent, error)
}

type Handler struct {
	recorder Recorder
	reader   Reader
	auth     *middleware.AuthMiddleware
}

func NewHandler(recorder Recorder, reader Reader, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{recorder: recorder, reader: reader, auth: auth}
}

// RegisterRoutes expects r to be behind Authenticate.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/audit")
	{
		group.POST("/security-events", h.RecordSecurityEvent)
		group.GET("/events", h.auth.RequireRole(model.RoleAdmin), h.ListEvents)
	}
}

type securityEventRequest struct {
	Type     string            `json:"type" binding:"required,max=64"`
	Severity string            `json:"severity" binding:"required,severity"`
	Details  map[string]string `json:"details" binding:"max=32"`
}

// RecordSecurityEvent accepts client-reported security events. Details are
// written in key order so identical reports produce identical lines.
func (h *Handler) RecordSecurityEvent(c *gin.Context) {
	var req securityEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	severity, err := model.ParseSeverity(req.Severity)
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest(err.Error(), err))
		return
	}

	keys := make([]string, 0, len(req.Details))
	for k := range req.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]model.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, model.Attr{Key: k, Value: req.Details[k]})
	}

	err = h.recorder.SecurityEvent(c.Request.Context(), req.Type, middleware.CurrentActor(c), severity, attrs...)
	switch {
	case err == nil:
		httputil.RespondWithStatus(c, http.StatusAccepted, gin.H{"recorded": true})
	case errors.Is(err, audit.ErrSinkUnavailable):
		// buffered, will be written once the sink recovers
		httputil.RespondWithStatus(c, http.StatusAccepted, gin.H{"recorded": true, "buffered": true})
	default:
		_ = c.Error(apperrors.NewBadRequest(fmt.Sprintf("invalid security event: %v", err), err))
	}
}

type listEventsQuery struct {
	Actor  string `form:"actor" binding:"max=128"`
	Kind   string `form:"kind"`
	Limit  int    `form:"limit" binding:"min=0,max=500"`
	Offset int    `form:"offset" binding:"min=0"`
	model.TimeRange
}

func (h *Handler) ListEvents(c *gin.Context) {
	if h.reader == nil {
		_ = c.Error(apperrors.NewNotFound("audit store", nil))
		return
	}

	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	kind := model.EventKind(q.Kind)
	if kind != "" && !kind.Valid() {
		_ = c.Error(apperrors.NewBadRequest(fmt.Sprintf("unknown event kind %q", q.Kind), nil))
		return
	}

	filter := model.AuditFilter{
		Actor:      q.Actor,
		Kind:       kind,
		TimeRange:  q.TimeRange,
		Pagination: model.Pagination{Limit: q.Limit, Offset: q.Offset}.Normalize(50, 500),
	}
	events, err := h.reader.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(apperrors.NewStorageUnavailable(err))
		return
	}
	httputil.RespondWithPagination(c, events, filter.Pagination, len(events))
}
