package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-ops/pkg/errors"
	"github.com/jwalitptl/clinic-ops/pkg/validator"
)

// Response wraps all API responses
type Response struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Errors  []validator.FieldError `json:"errors,omitempty"`
	Data    interface{}            `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

var statusByCode = map[errors.ErrorCode]int{
	errors.ErrNotFound:               http.StatusNotFound,
	errors.ErrBadRequest:             http.StatusBadRequest,
	errors.ErrUnauthorized:           http.StatusUnauthorized,
	errors.ErrForbidden:              http.StatusForbidden,
	errors.ErrInternal:               http.StatusInternalServerError,
	errors.ErrConflict:               http.StatusConflict,
	errors.ErrInvalidStateTransition: http.StatusConflict,
	errors.ErrAlreadyClaimed:         http.StatusConflict,
	errors.ErrGracePeriodExpired:     http.StatusConflict,
	errors.ErrNotAssigned:            http.StatusConflict,
	errors.ErrStoreUnavailable:       http.StatusServiceUnavailable,
}

// StatusCode maps an error to its HTTP status. Errors without an AppError
// code are internal.
func StatusCode(err error) int {
	code, ok := errors.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, NewSuccessResponse(data))
}

// RespondWithError sends an error response. Internal failures never expose
// their cause to the client.
func RespondWithError(c *gin.Context, err error) {
	status := StatusCode(err)
	resp := &Response{Status: "error", Message: "Internal server error"}

	if code, ok := errors.CodeOf(err); ok {
		resp.Code = code.String()
		if status != http.StatusInternalServerError {
			resp.Message = publicMessage(err)
		}
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}

// RespondWithBindError sends a 400 for a request that failed binding or
// validation.
func RespondWithBindError(c *gin.Context, err error) {
	resp := NewErrorResponse("invalid request")
	if fields := validator.Fields(err); fields != nil {
		resp.Errors = fields
	} else {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

func publicMessage(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
