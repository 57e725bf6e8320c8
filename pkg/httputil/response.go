package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-security/internal/model"
	apperrors "github.com/jwalitptl/account-security/pkg/errors"
)

const retryMessage = "service temporarily unavailable, please try again"

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code       int               `json:"code"`
	Message    string            `json:"message"`
	Violations []model.Violation `json:"violations,omitempty"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// PaginatedResponse wraps paginated data
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	RespondWithStatus(c, http.StatusOK, data)
}

func RespondWithStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError sends an error response. Infrastructure failures are
// reported with a generic retry message and never with their cause.
func RespondWithError(c *gin.Context, err error) {
	status, body := ErrorBody(err)
	c.AbortWithStatusJSON(status, Response{Success: false, Error: body})
}

// ErrorBody maps err onto a status code and a client-safe body.
func ErrorBody(err error) (int, *Error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, &Error{
			Code:    int(apperrors.ErrInternal),
			Message: "internal server error",
		}
	}

	status := appErr.HTTPStatus()
	body := &Error{
		Code:       int(appErr.Code),
		Message:    appErr.Message,
		Violations: appErr.Violations,
	}

	switch appErr.Code {
	case apperrors.ErrStorageUnavailable, apperrors.ErrPartialPersistence, apperrors.ErrAuditSink:
		status = http.StatusServiceUnavailable
		body.Message = retryMessage
	case apperrors.ErrInternal:
		body.Message = "internal server error"
	}
	return status, body
}

// RespondWithPagination sends a paginated response
func RespondWithPagination(c *gin.Context, data interface{}, page model.Pagination, count int) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: PaginatedResponse{
			Data: data,
			Pagination: Pagination{
				Limit:  page.Limit,
				Offset: page.Offset,
				Count:  count,
			},
		},
	})
}
