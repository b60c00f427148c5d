package interfaces

import (
	"context"
	"time"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                          ProxyEndpoint - 代理端点
// ============================================================================

// ProxyEndpoint 句柄代理协议对一条连接的最小需求
//
// 发送侧用 Open* 分配承载流；接收侧用 Claim* 按描述中的流 ID
// 认领入站流。认领是一次会合：流先到则排队等认领，
// 认领先到则阻塞等流，ctx 取消时放弃。
type ProxyEndpoint interface {
	// ConnectionID 返回端点所在逻辑连接的标识
	ConnectionID() types.ConnectionID

	// OpenProxyStream 打开一条双向代理承载流
	OpenProxyStream(ctx context.Context) (Stream, error)

	// OpenDrainStream 打开一条单向排空流
	OpenDrainStream(ctx context.Context) (SendStream, error)

	// ClaimStream 按 ID 认领对端打开的双向代理流
	ClaimStream(ctx context.Context, id types.StreamID) (Stream, error)

	// ClaimDrain 按 ID 认领对端打开的单向排空流
	ClaimDrain(ctx context.Context, id types.StreamID) (ReceiveStream, error)
}

// ============================================================================
//                              Peer - 对等体契约
// ============================================================================

// Peer 与远端节点的一条逻辑半连接
//
// 每个 Peer 恰好处于发起方或接受方角色之一；同一对节点之间
// 可以同时存在多个 Peer（一个发起方槽位 + 任意多个接受方）。
type Peer interface {
	ProxyEndpoint

	// Node 返回远端节点
	Node() types.NodeID

	// Role 返回本端角色
	Role() types.PeerRole

	// Established 返回连接建立时间
	Established() time.Time

	// StreamCount 返回当前活跃流数（诊断用）
	StreamCount() int

	// OpenService 请求远端把 h 接入名为 service 的服务
	//
	// 任何失败路径都先完成清理再返回错误，不留下半注册的流。
	OpenService(ctx context.Context, service string, h Handle) error

	// OpenTransfer 在远端发起一次传递会合，返回承载数据的流
	OpenTransfer(ctx context.Context, token types.TransferToken) (Stream, error)

	// QueryDiagnostics 请求远端的诊断快照
	QueryDiagnostics(ctx context.Context) (*types.Diagnostics, error)

	// IsClosed 报告 Peer 是否已关闭
	IsClosed() bool

	// Done 返回 Peer 关闭时被 close 的通道
	Done() <-chan struct{}

	// Close 关闭 Peer 及其底层连接
	Close() error
}

// ============================================================================
//                          PeerFactory - 对等体工厂
// ============================================================================

// PeerFactory 按角色创建 Peer 的外部工厂
//
// 由具体传输实现：
//   - RoleInitiator：携带新铸造的 ConnectionID 向 remote 拨出
//   - RoleAcceptor：为已到达的入站连接建立本端状态
//
// 工厂保证同一 ConnectionID 存活期间绝不复用于不同的远端节点。
type PeerFactory interface {
	NewPeer(ctx context.Context, role types.PeerRole, remote types.NodeID, connID types.ConnectionID) (Peer, error)
}
