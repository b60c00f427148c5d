package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                          Factory - 对等体工厂
// ============================================================================

// Factory 按角色创建对等体
//
// 发起方经传输拨出，接受方认领传输已接收的入站连接。
// 诊断提供者与消亡通知在装配期晚绑定：对等体只会在传输
// 开始服务之后出现，届时两个钩子都已就位。
type Factory struct {
	transport interfaces.Transport

	mu   sync.RWMutex
	deps Deps
}

var _ interfaces.PeerFactory = (*Factory)(nil)

// NewFactory 创建对等体工厂
func NewFactory(tr interfaces.Transport, deps Deps) *Factory {
	return &Factory{transport: tr, deps: deps}
}

// SetDiag 绑定诊断快照提供者
func (f *Factory) SetDiag(fn DiagFunc) {
	f.mu.Lock()
	f.deps.Diag = fn
	f.mu.Unlock()
}

// SetOnClose 绑定对等体消亡通知
func (f *Factory) SetOnClose(fn CloseFunc) {
	f.mu.Lock()
	f.deps.OnClose = fn
	f.mu.Unlock()
}

// NewPeer 按角色创建对等体
func (f *Factory) NewPeer(ctx context.Context, role types.PeerRole, remote types.NodeID, connID types.ConnectionID) (interfaces.Peer, error) {
	var (
		conn interfaces.Connection
		err  error
	)
	switch role {
	case types.RoleInitiator:
		conn, err = f.transport.Dial(ctx, remote, connID)
	case types.RoleAcceptor:
		conn, err = f.transport.Accept(ctx, connID)
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadRole, role)
	}
	if err != nil {
		return nil, err
	}

	// 传输层已核实身份；这里只做最后防线
	if conn.RemoteNode() != remote {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: 期望 %s 实际 %s", ErrNodeMismatch,
			remote.ShortString(), conn.RemoteNode().ShortString())
	}

	f.mu.RLock()
	deps := f.deps
	f.mu.RUnlock()
	return New(conn, role, deps), nil
}
