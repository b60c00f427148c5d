package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// MockPeer 模拟 Peer 接口实现
type MockPeer struct {
	// 基本属性
	NodeID        types.NodeID
	RoleValue     types.PeerRole
	ConnID        types.ConnectionID
	EstablishedAt time.Time
	StreamsValue  int

	// 可覆盖的方法
	OpenServiceFunc      func(ctx context.Context, service string, h interfaces.Handle) error
	OpenTransferFunc     func(ctx context.Context, token types.TransferToken) (interfaces.Stream, error)
	QueryDiagnosticsFunc func(ctx context.Context) (*types.Diagnostics, error)
	OpenProxyStreamFunc  func(ctx context.Context) (interfaces.Stream, error)
	OpenDrainStreamFunc  func(ctx context.Context) (interfaces.SendStream, error)
	ClaimStreamFunc      func(ctx context.Context, id types.StreamID) (interfaces.Stream, error)
	ClaimDrainFunc       func(ctx context.Context, id types.StreamID) (interfaces.ReceiveStream, error)
	CloseFunc            func() error

	// 调用记录
	mu               sync.Mutex
	OpenServiceCalls int
	CloseCalls       int

	closeOnce sync.Once
	done      chan struct{}
}

var _ interfaces.Peer = (*MockPeer)(nil)

// NewMockPeer 创建带有默认值的 MockPeer
func NewMockPeer(node types.NodeID, role types.PeerRole, connID types.ConnectionID) *MockPeer {
	return &MockPeer{
		NodeID:        node,
		RoleValue:     role,
		ConnID:        connID,
		EstablishedAt: time.Now(),
		done:          make(chan struct{}),
	}
}

// Node 返回远端节点标识
func (m *MockPeer) Node() types.NodeID {
	return m.NodeID
}

// Role 返回对等体角色
func (m *MockPeer) Role() types.PeerRole {
	return m.RoleValue
}

// ConnectionID 返回逻辑连接标识
func (m *MockPeer) ConnectionID() types.ConnectionID {
	return m.ConnID
}

// Established 返回建立时刻
func (m *MockPeer) Established() time.Time {
	return m.EstablishedAt
}

// StreamCount 返回活动流数量
func (m *MockPeer) StreamCount() int {
	return m.StreamsValue
}

// OpenService 打开服务流
func (m *MockPeer) OpenService(ctx context.Context, service string, h interfaces.Handle) error {
	m.mu.Lock()
	m.OpenServiceCalls++
	m.mu.Unlock()
	if m.OpenServiceFunc != nil {
		return m.OpenServiceFunc(ctx, service, h)
	}
	return nil
}

// OpenTransfer 打开转移流
func (m *MockPeer) OpenTransfer(ctx context.Context, token types.TransferToken) (interfaces.Stream, error) {
	if m.OpenTransferFunc != nil {
		return m.OpenTransferFunc(ctx, token)
	}
	return nil, nil
}

// QueryDiagnostics 请求远端诊断快照
func (m *MockPeer) QueryDiagnostics(ctx context.Context) (*types.Diagnostics, error) {
	if m.QueryDiagnosticsFunc != nil {
		return m.QueryDiagnosticsFunc(ctx)
	}
	return &types.Diagnostics{Node: m.NodeID}, nil
}

// OpenProxyStream 打开代理承载流
func (m *MockPeer) OpenProxyStream(ctx context.Context) (interfaces.Stream, error) {
	if m.OpenProxyStreamFunc != nil {
		return m.OpenProxyStreamFunc(ctx)
	}
	return nil, nil
}

// OpenDrainStream 打开排空流
func (m *MockPeer) OpenDrainStream(ctx context.Context) (interfaces.SendStream, error) {
	if m.OpenDrainStreamFunc != nil {
		return m.OpenDrainStreamFunc(ctx)
	}
	return nil, nil
}

// ClaimStream 认领对端打开的流
func (m *MockPeer) ClaimStream(ctx context.Context, id types.StreamID) (interfaces.Stream, error) {
	if m.ClaimStreamFunc != nil {
		return m.ClaimStreamFunc(ctx, id)
	}
	return nil, nil
}

// ClaimDrain 认领对端打开的排空流
func (m *MockPeer) ClaimDrain(ctx context.Context, id types.StreamID) (interfaces.ReceiveStream, error) {
	if m.ClaimDrainFunc != nil {
		return m.ClaimDrainFunc(ctx, id)
	}
	return nil, nil
}

// IsClosed 检查对等体是否已关闭
func (m *MockPeer) IsClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Done 返回关闭通知通道
func (m *MockPeer) Done() <-chan struct{} {
	return m.done
}

// Close 关闭对等体
func (m *MockPeer) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// CloseCount 返回 Close 被调用的次数
func (m *MockPeer) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCalls
}

// MockPeerFactory 模拟 PeerFactory 接口实现
type MockPeerFactory struct {
	// 可覆盖的方法
	NewPeerFunc func(ctx context.Context, role types.PeerRole, remote types.NodeID, connID types.ConnectionID) (interfaces.Peer, error)

	// FailWith 非空时所有创建请求返回该错误
	FailWith error

	// Delay 每次创建前的人为延迟（用于并发合流测试）
	Delay time.Duration

	// 调用记录
	mu      sync.Mutex
	calls   int
	created []*MockPeer
}

var _ interfaces.PeerFactory = (*MockPeerFactory)(nil)

// NewPeer 创建对等体
func (f *MockPeerFactory) NewPeer(ctx context.Context, role types.PeerRole, remote types.NodeID, connID types.ConnectionID) (interfaces.Peer, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.NewPeerFunc != nil {
		return f.NewPeerFunc(ctx, role, remote, connID)
	}
	if f.FailWith != nil {
		return nil, f.FailWith
	}

	p := NewMockPeer(remote, role, connID)
	f.mu.Lock()
	f.created = append(f.created, p)
	f.mu.Unlock()
	return p, nil
}

// CallCount 返回 NewPeer 被调用的次数
func (f *MockPeerFactory) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Created 返回工厂铸造出的全部对等体
func (f *MockPeerFactory) Created() []*MockPeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MockPeer, len(f.created))
	copy(out, f.created)
	return out
}
