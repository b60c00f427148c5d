package servicemap

import (
	"context"
	"sort"
	"sync"

	"github.com/dep2p/go-fabric/internal/core/observable"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
)

var logger = log.Logger("core/servicemap")

// ============================================================================
//                          Map - 本地服务注册表
// ============================================================================

// Map 本地服务名到提供者的注册表
//
// 注册与分发解耦：远端接入请求最终都经由 ConnectToService 落到
// 这里注册的提供者上。注册表变化通过 Watch 以保留最新语义对外广播。
type Map struct {
	mu        sync.RWMutex
	providers map[string]interfaces.ServiceProvider

	advertised *observable.Value[[]string]
}

var _ interfaces.ServiceMap = (*Map)(nil)

// NewMap 创建空的服务注册表
func NewMap() *Map {
	return &Map{
		providers:  make(map[string]interfaces.ServiceProvider),
		advertised: observable.NewValueOf([]string{}),
	}
}

// ConnectToService 把句柄 h 接入名为 name 的本地服务
//
// 服务不存在时关闭 h 并返回 ErrServiceNotFound：句柄所有权在调用
// 这一刻移交给注册表，任何失败路径都不把半移交的句柄留给调用方。
func (m *Map) ConnectToService(ctx context.Context, name string, h interfaces.Handle) error {
	if h == nil {
		return ErrNilHandle
	}

	m.mu.RLock()
	p, ok := m.providers[name]
	m.mu.RUnlock()

	if !ok {
		_ = h.Close()
		logger.Debug("接入请求指向未注册服务", "service", name)
		return ErrServiceNotFound
	}

	if err := p.ConnectToService(ctx, h); err != nil {
		logger.Warn("服务提供者拒绝接入", "service", name, "err", err)
		return err
	}
	logger.Debug("句柄已接入本地服务", "service", name)
	return nil
}

// RegisterService 注册本地服务；名字已占用返回 ErrServiceExists
func (m *Map) RegisterService(name string, p interfaces.ServiceProvider) error {
	if name == "" {
		return ErrEmptyServiceName
	}
	if p == nil {
		return ErrNilProvider
	}

	m.mu.Lock()
	if _, ok := m.providers[name]; ok {
		m.mu.Unlock()
		return ErrServiceExists
	}
	m.providers[name] = p
	names := m.advertisedLocked()
	m.mu.Unlock()

	m.advertised.Set(names)
	logger.Info("服务已注册", "service", name, "total", len(names))
	return nil
}

// RegisterRawService 以回调函数注册本地服务
func (m *Map) RegisterRawService(name string, fn interfaces.ServiceFunc) error {
	if fn == nil {
		return ErrNilProvider
	}
	return m.RegisterService(name, fn)
}

// Unregister 注销服务；不存在时为空操作
func (m *Map) Unregister(name string) {
	m.mu.Lock()
	if _, ok := m.providers[name]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.providers, name)
	names := m.advertisedLocked()
	m.mu.Unlock()

	m.advertised.Set(names)
	logger.Info("服务已注销", "service", name, "total", len(names))
}

// Has 报告名为 name 的服务是否已注册
func (m *Map) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.providers[name]
	return ok
}

// Advertised 返回当前已注册服务名（字典序）
func (m *Map) Advertised() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.advertisedLocked()
}

// Watch 订阅注册表变化
//
// 返回的通道容量为一且只保留最新快照；取消函数幂等。
func (m *Map) Watch() (<-chan []string, func()) {
	sub := m.advertised.Subscribe()
	return sub.C(), sub.Close
}

// advertisedLocked 在持锁状态下构造有序服务名快照
func (m *Map) advertisedLocked() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
