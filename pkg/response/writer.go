package response

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docmind/pkg/errors"
)

// RequestIDKey 是请求 ID 在 gin.Context 中的键，由 middleware.RequestID 写入。
const RequestIDKey = "request_id"

// Writer writes responses to a gin context.
type Writer struct {
	c        *gin.Context
	withTime bool
	lang     string
}

// NewWriter creates a response writer. Language follows the Accept-Language header.
func NewWriter(c *gin.Context) *Writer {
	return &Writer{c: c, lang: acceptLang(c)}
}

// WithTimestamp enables automatic timestamp in responses.
func (w *Writer) WithTimestamp() *Writer {
	w.withTime = true
	return w
}

// WithLang sets the language for error messages.
func (w *Writer) WithLang(lang string) *Writer {
	w.lang = lang
	return w
}

func (w *Writer) prepare(r *Response) *Response {
	if w.withTime {
		r.Timestamp = time.Now().UnixMilli()
	}
	r.RequestID = w.c.GetString(RequestIDKey)
	return r
}

// OK sends a successful response with data.
func (w *Writer) OK(data any) {
	resp := w.prepare(Success(data))
	w.c.JSON(resp.HTTPStatus(), resp)
}

// Fail sends an error response using Errno.
func (w *Writer) Fail(e *errors.Errno) {
	resp := w.prepare(ErrWithLang(e, w.lang))
	if e.Cause() != nil {
		logger.Debugw("request failed", "code", e.Code, "error", e.Error(), "request_id", resp.RequestID)
	}
	w.c.AbortWithStatusJSON(e.HTTPStatus(), resp)
}

// FailWithError converts err to an Errno and sends it.
func (w *Writer) FailWithError(err error) {
	e := errors.FromError(err)
	if e.HTTPStatus() >= 500 {
		logger.Errorw("request error", "code", e.Code, "error", err.Error(), "request_id", w.c.GetString(RequestIDKey))
	}
	w.Fail(e)
}

// FailWithBind sends an invalid parameter error for a binding failure.
func (w *Writer) FailWithBind(err error) {
	w.Fail(errors.ErrInvalidParam.WithMessage("invalid request body: " + err.Error()))
}

// OK sends a successful response.
func OK(c *gin.Context, data any) {
	NewWriter(c).OK(data)
}

// Fail sends an error response using Errno.
func Fail(c *gin.Context, e *errors.Errno) {
	NewWriter(c).Fail(e)
}

// FailWithError sends an error response from a standard error.
func FailWithError(c *gin.Context, err error) {
	NewWriter(c).FailWithError(err)
}

// FailWithBind sends an invalid parameter error for a binding failure.
func FailWithBind(c *gin.Context, err error) {
	NewWriter(c).FailWithBind(err)
}

func acceptLang(c *gin.Context) string {
	if c.Request == nil {
		return ""
	}
	al := c.GetHeader("Accept-Language")
	if strings.HasPrefix(strings.ToLower(al), "zh") {
		return "zh"
	}
	return ""
}
