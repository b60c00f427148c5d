package mocks

import (
	"sync"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// MockRoutes 模拟 Routes 接口实现
type MockRoutes struct {
	mu    sync.Mutex
	Table types.ForwardingTable

	// 可覆盖的方法
	CurrentFunc func() types.ForwardingTable
	WatchFunc   func() (<-chan types.ForwardingTable, func())
}

var _ interfaces.Routes = (*MockRoutes)(nil)

// SetTable 替换当前转发表快照
func (m *MockRoutes) SetTable(t types.ForwardingTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Table = t
}

// Current 返回当前转发表快照
func (m *MockRoutes) Current() types.ForwardingTable {
	if m.CurrentFunc != nil {
		return m.CurrentFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Table
}

// Watch 订阅转发表快照
func (m *MockRoutes) Watch() (<-chan types.ForwardingTable, func()) {
	if m.WatchFunc != nil {
		return m.WatchFunc()
	}
	ch := make(chan types.ForwardingTable)
	return ch, func() {}
}
