package interfaces

import (
	"context"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                          Transport - 传输契约
// ============================================================================

// Transport 连接的建立途径
//
// 对等体工厂经由它兑现两种角色：发起方拨出新连接，接受方
// 认领已到达的入站连接。入站连接先由传输完成问候与身份核实，
// 再经注册表查询触发工厂认领。
type Transport interface {
	// Dial 携带新铸造的 ConnectionID 向 remote 拨出连接
	//
	// 返回的连接已完成问候交换；RemoteNode 必为 remote，
	// 身份不符的握手在传输内部就地失败。
	Dial(ctx context.Context, remote types.NodeID, connID types.ConnectionID) (Connection, error)

	// Accept 认领标识为 connID 的已到达入站连接
	//
	// 认领是一次会合：连接未到则阻塞等待，ctx 取消时放弃。
	Accept(ctx context.Context, connID types.ConnectionID) (Connection, error)

	// Close 关闭传输及其上所有连接
	Close() error
}

// PeerLookup 入站流量的对等体定位回调
//
// 由注册表提供、经启动装配注入传输：发起类流量创建接受方
// 对等体（其间传输的 Accept 被工厂调用），后续类流量只定位
// 既有连接。
type PeerLookup func(ctx context.Context, connID types.ConnectionID, packet types.PacketType, remote types.NodeID) (Peer, error)
