package interfaces

import "context"

// ============================================================================
//                           ServiceMap - 服务注册表
// ============================================================================

// ServiceProvider 本地服务提供者
//
// ConnectToService 收到接入请求时被调用，h 的所有权移交给提供者。
type ServiceProvider interface {
	ConnectToService(ctx context.Context, h Handle) error
}

// ServiceFunc 以函数形式实现 ServiceProvider
type ServiceFunc func(ctx context.Context, h Handle) error

// ConnectToService 调用函数本身
func (f ServiceFunc) ConnectToService(ctx context.Context, h Handle) error {
	return f(ctx, h)
}

// ServiceMap 本地服务注册与分发
type ServiceMap interface {
	// ConnectToService 把句柄 h 接入名为 name 的本地服务
	//
	// 服务不存在时关闭 h 并返回 ErrServiceNotFound。
	ConnectToService(ctx context.Context, name string, h Handle) error

	// RegisterService 注册本地服务；名字已占用返回错误
	RegisterService(name string, p ServiceProvider) error

	// RegisterRawService 以回调函数注册本地服务
	RegisterRawService(name string, fn ServiceFunc) error

	// Unregister 注销服务；不存在时为空操作
	Unregister(name string)

	// Has 报告名为 name 的服务是否已注册
	Has(name string) bool

	// Advertised 返回当前已注册服务名（字典序）
	Advertised() []string

	// Watch 订阅注册表变化（保留最新语义，语义同 Routes.Watch）
	Watch() (<-chan []string, func())
}
