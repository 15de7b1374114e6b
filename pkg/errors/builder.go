package errors

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// ErrnoBuilder 以链式调用定义业务错误码。
//
//	var ErrSessionNotFound = errors.NewNotFoundError(errors.ServiceDocMind, 1).
//	    Message("Session not found", "会话不存在").
//	    MustBuild()
type ErrnoBuilder struct {
	errno Errno
}

// categoryStatus 各类别默认的 HTTP / gRPC 状态。
var categoryStatus = map[int]struct {
	http int
	grpc codes.Code
}{
	CategoryRequest:    {http.StatusBadRequest, codes.InvalidArgument},
	CategoryAuth:       {http.StatusUnauthorized, codes.Unauthenticated},
	CategoryPermission: {http.StatusForbidden, codes.PermissionDenied},
	CategoryResource:   {http.StatusNotFound, codes.NotFound},
	CategoryConflict:   {http.StatusConflict, codes.FailedPrecondition},
	CategoryRateLimit:  {http.StatusTooManyRequests, codes.ResourceExhausted},
	CategoryNetwork:    {http.StatusServiceUnavailable, codes.Unavailable},
	CategoryTimeout:    {http.StatusGatewayTimeout, codes.DeadlineExceeded},
	CategoryConfig:     {http.StatusInternalServerError, codes.FailedPrecondition},
}

// NewBuilder creates a builder whose statuses default from the category.
// Categories without a default map to HTTP 500 / codes.Internal.
func NewBuilder(service, category, sequence int) *ErrnoBuilder {
	b := &ErrnoBuilder{errno: Errno{
		Code:     MakeCode(service, category, sequence),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
	}}
	if st, ok := categoryStatus[category]; ok {
		b.errno.HTTP, b.errno.GRPCCode = st.http, st.grpc
	}
	return b
}

// HTTP overrides the HTTP status code.
func (b *ErrnoBuilder) HTTP(status int) *ErrnoBuilder {
	b.errno.HTTP = status
	return b
}

// GRPC overrides the gRPC status code.
func (b *ErrnoBuilder) GRPC(code codes.Code) *ErrnoBuilder {
	b.errno.GRPCCode = code
	return b
}

// Message sets the English and Chinese messages.
func (b *ErrnoBuilder) Message(en, zh string) *ErrnoBuilder {
	b.errno.MessageEN, b.errno.MessageZH = en, zh
	return b
}

// Build registers the Errno. Duplicate codes and a missing English message are errors.
func (b *ErrnoBuilder) Build() (*Errno, error) {
	if b.errno.MessageEN == "" {
		return nil, fmt.Errorf("errno %d: English message is required", b.errno.Code)
	}
	e := b.errno

	registryMu.Lock()
	defer registryMu.Unlock()
	if existing, ok := errnoRegistry[e.Code]; ok {
		return nil, fmt.Errorf("errno code %d already registered: %s", e.Code, existing.MessageEN)
	}
	errnoRegistry[e.Code] = &e
	return &e, nil
}

// MustBuild 用于包级变量，注册失败时 panic。
func (b *ErrnoBuilder) MustBuild() *Errno {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// NewRequestError 请求参数错误（400）。
func NewRequestError(service, sequence int) *ErrnoBuilder {
	return NewBuilder(service, CategoryRequest, sequence)
}

// NewNotFoundError 资源不存在（404）。
func NewNotFoundError(service, sequence int) *ErrnoBuilder {
	return NewBuilder(service, CategoryResource, sequence)
}

// NewConflictError 状态冲突（409）。
func NewConflictError(service, sequence int) *ErrnoBuilder {
	return NewBuilder(service, CategoryConflict, sequence)
}

// NewInternalError 内部错误（500）。
func NewInternalError(service, sequence int) *ErrnoBuilder {
	return NewBuilder(service, CategoryInternal, sequence)
}

// NewNetworkError 上游服务不可用（503）。
func NewNetworkError(service, sequence int) *ErrnoBuilder {
	return NewBuilder(service, CategoryNetwork, sequence)
}

// NewConfigError 配置错误（500）。
func NewConfigError(service, sequence int) *ErrnoBuilder {
	return NewBuilder(service, CategoryConfig, sequence)
}
