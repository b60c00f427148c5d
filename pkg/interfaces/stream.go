package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              Stream - 流契约
// ============================================================================

// Stream 连接上的一条双向应用流
//
// ID 在连接内唯一且两端一致，因此可以跨网络引用
// （HandleDescription 携带的 StreamRef 就指向这样的 ID）。
type Stream interface {
	io.Reader
	io.Writer

	// ID 返回流在连接内的标识
	ID() types.StreamID

	// CloseWrite 半关闭写端：对端读尽后收到 EOF，本端仍可读取
	CloseWrite() error

	// SetReadDeadline 设置读截止时间
	//
	// 代理交接用它打断阻塞中的读取；零值清除截止时间。
	SetReadDeadline(t time.Time) error

	// Close 关闭整条流
	Close() error
}

// SendStream 单向流的发送端
type SendStream interface {
	io.Writer

	// ID 返回流在连接内的标识
	ID() types.StreamID

	// Close 关闭发送端；对端读尽后收到 EOF
	Close() error
}

// ReceiveStream 单向流的接收端
type ReceiveStream interface {
	io.Reader

	// ID 返回流在连接内的标识
	ID() types.StreamID

	// CancelRead 放弃读取剩余数据
	CancelRead()
}

// ============================================================================
//                           Connection - 连接契约
// ============================================================================

// Connection 到远端节点的一条传输层连接
//
// 由具体传输（QUIC、内存）实现。连接承载多条相互独立的流；
// Peer 在其上实现流分类与按 ID 认领。
type Connection interface {
	// LocalNode 返回本端节点
	LocalNode() types.NodeID

	// RemoteNode 返回远端节点
	RemoteNode() types.NodeID

	// ConnectionID 返回本条逻辑连接的标识
	ConnectionID() types.ConnectionID

	// OpenStream 打开一条双向流
	OpenStream(ctx context.Context) (Stream, error)

	// OpenUniStream 打开一条单向流（本端为发送方）
	OpenUniStream(ctx context.Context) (SendStream, error)

	// AcceptStream 接受对端打开的双向流
	AcceptStream(ctx context.Context) (Stream, error)

	// AcceptUniStream 接受对端打开的单向流
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)

	// IsClosed 报告连接是否已关闭
	IsClosed() bool

	// Done 返回连接关闭时被 close 的通道
	Done() <-chan struct{}

	// Err 返回连接关闭的原因；未关闭或主动关闭时为 nil
	Err() error

	// Close 关闭连接及其上所有流
	Close() error
}
