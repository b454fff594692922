package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/draft"
	"cvforge/internal/errcode"
)

type errorBody struct {
	Error  string             `json:"error"`
	Code   int                `json:"code"`
	Fields []draft.FieldError `json:"fields,omitempty"`
}

func Error(c *gin.Context, status, code int, msg string) {
	c.JSON(status, errorBody{Error: msg, Code: code})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: errcode.AuthenticationRequired})
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, errcode.ValidationFailed, msg)
}
func Forbidden(c *gin.Context, msg string) { Error(c, http.StatusForbidden, errcode.Forbidden, msg) }
func NotFound(c *gin.Context, msg string)  { Error(c, http.StatusNotFound, errcode.NotFound, msg) }
func Conflict(c *gin.Context, msg string)  { Error(c, http.StatusConflict, errcode.Conflict, msg) }
func Gone(c *gin.Context, msg string)      { Error(c, http.StatusGone, errcode.Expired, msg) }
func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, errcode.SystemError, msg)
}
func TooManyRequests(c *gin.Context, msg string) {
	Error(c, http.StatusTooManyRequests, errcode.RateLimited, msg)
}

// ValidationFailed writes the field-level errors of a rejected payload.
func ValidationFailed(c *gin.Context, verr *draft.ValidationError) {
	c.JSON(http.StatusBadRequest, errorBody{
		Error:  "invalid draft payload",
		Code:   errcode.ValidationFailed,
		Fields: verr.Errors,
	})
}

// DraftError maps a draft operation error to its HTTP response. Anything
// outside the taxonomy is logged and answered with a generic message.
func DraftError(c *gin.Context, err error) {
	var verr *draft.ValidationError
	switch {
	case errors.As(err, &verr):
		ValidationFailed(c, verr)
	case errors.Is(err, draft.ErrNotFound):
		NotFound(c, "draft not found")
	case errors.Is(err, draft.ErrExpired):
		Gone(c, "draft expired, start a new one")
	case errors.Is(err, draft.ErrAuthenticationRequired):
		AbortUnauthorized(c)
	case errors.Is(err, draft.ErrForbidden):
		Forbidden(c, "draft belongs to another user")
	case errors.Is(err, draft.ErrInvalidDraft):
		Error(c, http.StatusInternalServerError, errcode.InvalidDraft, "draft could not be processed")
	default:
		middleware.LoggerFromContext(c).Error("unexpected draft error", "error", err)
		Internal(c, "internal error")
	}
}
