package interfaces

import (
	"context"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              Link - 链路契约
// ============================================================================

// Link 已建立的点对点链路
//
// 链路把帧送到图上的一个直接邻居，不理解帧内容；
// 转发面经由转发表快照选择链路。
type Link interface {
	// ID 返回本地铸造的链路标识
	ID() types.LinkID

	// Remote 返回链路另一端的邻居节点
	Remote() types.NodeID

	// Send 向邻居发送一帧
	Send(ctx context.Context, f types.LinkFrame) error

	// DebugID 返回人类可读的链路标识（日志与诊断用）
	DebugID() string

	// IsClosed 报告链路是否已关闭
	IsClosed() bool

	// Done 返回链路关闭时被 close 的通道
	Done() <-chan struct{}

	// Close 关闭链路
	Close() error
}

// ============================================================================
//                          链路驱动端点
// ============================================================================

// LinkSender 链路驱动的入站端点
//
// 驱动把物理介质上收到的帧交给本节点的转发面。
type LinkSender interface {
	// Send 递交一帧给本节点
	Send(ctx context.Context, f types.LinkFrame) error

	// Close 关闭入站端点
	Close() error
}

// LinkReceiver 链路驱动的出站端点
//
// 驱动从这里取走本节点想经由该链路发出的帧，放上物理介质。
type LinkReceiver interface {
	// Recv 取走下一帧；端点关闭后返回错误
	Recv(ctx context.Context) (types.LinkFrame, error)

	// Close 关闭出站端点
	Close() error
}

// LinkClassifier 链路路由类别的判定谓词
//
// 发布链路时由调用方提供；nil 等价于恒返回 LinkClassNetwork。
type LinkClassifier func(l Link) types.LinkClass
