package quic

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// 应用层连接关闭码
const (
	codeNone     quic.ApplicationErrorCode = 0
	codeIdentity quic.ApplicationErrorCode = 1
	codeHello    quic.ApplicationErrorCode = 2
)

// ============================================================================
//                              Conn - 连接适配
// ============================================================================

// Conn 把 quic.Connection 适配成逻辑连接
//
// 节点身份在握手时从对端证书派生并核实；ConnectionID 由发起方
// 铸造、经问候交换约定，与 QUIC 自身的连接标识无关。
type Conn struct {
	qc     quic.Connection
	local  types.NodeID
	remote types.NodeID
	id     types.ConnectionID

	deliberate atomic.Bool

	mu     sync.Mutex
	errv   error
	closed chan struct{}
}

var _ interfaces.Connection = (*Conn)(nil)

// newConn 包装一条握手完成的 QUIC 连接
func newConn(qc quic.Connection, local, remote types.NodeID, id types.ConnectionID) *Conn {
	c := &Conn{
		qc:     qc,
		local:  local,
		remote: remote,
		id:     id,
		closed: make(chan struct{}),
	}
	go c.watch()
	return c
}

// watch 等待底层连接消亡并定性原因
func (c *Conn) watch() {
	<-c.qc.Context().Done()
	c.mu.Lock()
	if !c.deliberate.Load() {
		c.errv = ErrConnLost
	}
	c.mu.Unlock()
	close(c.closed)
}

// LocalNode 返回本端节点
func (c *Conn) LocalNode() types.NodeID { return c.local }

// RemoteNode 返回远端节点
func (c *Conn) RemoteNode() types.NodeID { return c.remote }

// ConnectionID 返回逻辑连接标识
func (c *Conn) ConnectionID() types.ConnectionID { return c.id }

// RemoteAddr 返回对端的网络地址
func (c *Conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

// OpenStream 打开一条双向流
func (c *Conn) OpenStream(ctx context.Context) (interfaces.Stream, error) {
	qs, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{qs: qs}, nil
}

// OpenUniStream 打开一条单向流
func (c *Conn) OpenUniStream(ctx context.Context) (interfaces.SendStream, error) {
	qs, err := c.qc.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &sendStream{qs: qs}, nil
}

// AcceptStream 接受对端打开的双向流
func (c *Conn) AcceptStream(ctx context.Context) (interfaces.Stream, error) {
	qs, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{qs: qs}, nil
}

// AcceptUniStream 接受对端打开的单向流
func (c *Conn) AcceptUniStream(ctx context.Context) (interfaces.ReceiveStream, error) {
	qs, err := c.qc.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &recvStream{qs: qs}, nil
}

// IsClosed 报告连接是否已关闭
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done 返回连接关闭时被 close 的通道
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Err 返回连接关闭的原因；未关闭或主动关闭时为 nil
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errv
}

// Close 主动关闭连接及其上所有流
func (c *Conn) Close() error {
	c.deliberate.Store(true)
	return c.qc.CloseWithError(codeNone, "")
}
