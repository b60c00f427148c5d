package servicemap

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrServiceNotFound 接入请求指向的服务未注册
	ErrServiceNotFound = errors.New("服务未注册")

	// ErrServiceExists 服务名已被占用
	ErrServiceExists = errors.New("服务名已注册")

	// ErrEmptyServiceName 服务名不能为空
	ErrEmptyServiceName = errors.New("服务名为空")

	// ErrNilProvider 服务提供者不能为空
	ErrNilProvider = errors.New("服务提供者为空")

	// ErrNilHandle 接入句柄不能为空
	ErrNilHandle = errors.New("接入句柄为空")
)
