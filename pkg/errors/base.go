package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// OK represents a successful operation.
var OK = Register(&Errno{
	Code:      0,
	HTTP:      http.StatusOK,
	GRPCCode:  codes.OK,
	MessageEN: "Success",
	MessageZH: "成功",
})

// 请求错误，HTTP 层绑定失败和未知路由使用。
var (
	ErrBadRequest = NewRequestError(ServiceCommon, 0).
		Message("Bad request", "请求错误").
		MustBuild()

	ErrInvalidParam = NewRequestError(ServiceCommon, 1).
		Message("Invalid parameter", "参数无效").
		MustBuild()

	ErrNotFound = NewNotFoundError(ServiceCommon, 0).
		Message("Resource not found", "资源不存在").
		MustBuild()
)

// 服务端错误。FromError 把无法识别的错误和 context 错误归到这里。
var (
	ErrInternal = NewInternalError(ServiceCommon, 0).
		Message("Internal server error", "服务器内部错误").
		MustBuild()

	// ErrPanic 由 Recovery 中间件返回。
	ErrPanic = NewInternalError(ServiceCommon, 2).
		Message("Internal server error", "服务器内部错误").
		MustBuild()

	ErrTimeout = NewBuilder(ServiceCommon, CategoryTimeout, 0).
		HTTP(http.StatusGatewayTimeout).
		GRPC(codes.DeadlineExceeded).
		Message("Operation timeout", "操作超时").
		MustBuild()

	// ErrCanceled 客户端断开或服务关闭导致请求取消。
	ErrCanceled = NewBuilder(ServiceCommon, CategoryTimeout, 1).
		HTTP(http.StatusRequestTimeout).
		GRPC(codes.Canceled).
		Message("Request canceled", "请求已取消").
		MustBuild()
)
