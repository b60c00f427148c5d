package mem

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// acceptBacklog 尚未被接受的新流排队上限
const acceptBacklog = 32

// ============================================================================
//                          Conn - 隧穿连接
// ============================================================================

// Conn 经链路帧隧穿的逻辑连接
//
// 两端各持一个实例：发起方由 Dial 创建，接受方由帧分发在问候
// 到达时创建。流标识发起方铸单数、接受方铸双数，两端互不冲突。
type Conn struct {
	tp        *Transport
	local     types.NodeID
	remote    types.NodeID
	id        types.ConnectionID
	initiator bool

	ctx    context.Context
	cancel context.CancelFunc

	streamSeq atomic.Uint64

	// helloC 发起方等待问候应答的会合点；接受方为 nil
	helloC chan error

	acceptBidi chan *stream
	acceptUni  chan *recvHalf

	mu      sync.Mutex
	inbound map[types.StreamID]*recvBuffer

	errMu  sync.Mutex
	errv   error
	closed chan struct{}
	once   sync.Once
}

var _ interfaces.Connection = (*Conn)(nil)

func newConn(t *Transport, remote types.NodeID, id types.ConnectionID, initiator bool) *Conn {
	c := &Conn{
		tp:         t,
		local:      t.local,
		remote:     remote,
		id:         id,
		initiator:  initiator,
		acceptBidi: make(chan *stream, acceptBacklog),
		acceptUni:  make(chan *recvHalf, acceptBacklog),
		inbound:    make(map[types.StreamID]*recvBuffer),
		closed:     make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(t.ctx)
	if initiator {
		c.helloC = make(chan error, 1)
	}
	return c
}

// LocalNode 返回本端节点
func (c *Conn) LocalNode() types.NodeID { return c.local }

// RemoteNode 返回远端节点
func (c *Conn) RemoteNode() types.NodeID { return c.remote }

// ConnectionID 返回本条逻辑连接的标识
func (c *Conn) ConnectionID() types.ConnectionID { return c.id }

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
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err 返回连接关闭的原因；未关闭或本端主动关闭时为 nil
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errv
}

// Close 关闭连接及其上所有流，并通知对端
func (c *Conn) Close() error {
	c.shutdown(nil, true)
	return nil
}

// ============================================================================
//                              流的打开与接受
// ============================================================================

// mintStreamID 铸下一个流标识；发起方单数，接受方双数
func (c *Conn) mintStreamID() types.StreamID {
	n := c.streamSeq.Add(1)
	if c.initiator {
		return types.StreamID(2*n - 1)
	}
	return types.StreamID(2 * n)
}

// OpenStream 打开一条双向流
func (c *Conn) OpenStream(ctx context.Context) (interfaces.Stream, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	id := c.mintStreamID()
	rb := newRecvBuffer()
	c.trackInbound(id, rb)
	if err := c.send(ctx, packet{Kind: kindOpenStream, Stream: id}); err != nil {
		c.dropStream(id)
		return nil, err
	}
	return &stream{id: id, conn: c, rb: rb}, nil
}

// OpenUniStream 打开一条单向流（本端为发送方）
func (c *Conn) OpenUniStream(ctx context.Context) (interfaces.SendStream, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	id := c.mintStreamID()
	if err := c.send(ctx, packet{Kind: kindOpenStream, Stream: id, Uni: true}); err != nil {
		return nil, err
	}
	return &sendHalf{id: id, conn: c}, nil
}

// AcceptStream 接受对端打开的双向流
func (c *Conn) AcceptStream(ctx context.Context) (interfaces.Stream, error) {
	select {
	case s := <-c.acceptBidi:
		return s, nil
	case <-c.closed:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcceptUniStream 接受对端打开的单向流
func (c *Conn) AcceptUniStream(ctx context.Context) (interfaces.ReceiveStream, error) {
	select {
	case r := <-c.acceptUni:
		return r, nil
	case <-c.closed:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ============================================================================
//                              报文收发
// ============================================================================

// send 把报文编码进帧并经转发途径送往对端
func (c *Conn) send(ctx context.Context, pkt packet) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	payload, err := encodePacket(pkt)
	if err != nil {
		return fmt.Errorf("报文编码失败: %w", err)
	}
	return c.tp.sender.Send(ctx, types.LinkFrame{
		Src:     c.local,
		Dst:     c.remote,
		Conn:    c.id,
		Packet:  types.PacketOngoing,
		TTL:     types.DefaultLinkTTL,
		Payload: payload,
	})
}

// deliverHelloAck 把问候结果交给等待中的 Dial；重复应答被丢弃
func (c *Conn) deliverHelloAck(err error) {
	if c.helloC == nil {
		return
	}
	select {
	case c.helloC <- err:
	default:
	}
}

// handlePacket 分发一个已解码的对端报文
func (c *Conn) handlePacket(ctx context.Context, pkt packet) {
	switch pkt.Kind {
	case kindOpenStream:
		c.acceptInbound(ctx, pkt)
	case kindStreamData:
		if rb := c.lookupInbound(pkt.Stream); rb != nil {
			rb.push(pkt.Data)
		}
	case kindStreamFin:
		if rb := c.lookupInbound(pkt.Stream); rb != nil {
			rb.finish()
		}
	case kindStreamReset:
		if rb := c.lookupInbound(pkt.Stream); rb != nil {
			rb.abort()
			c.dropStream(pkt.Stream)
		}
	case kindConnClose:
		reason := ErrConnLost
		if pkt.Error != "" {
			reason = fmt.Errorf("%w: %s", ErrConnLost, pkt.Error)
		}
		c.shutdown(reason, false)
	default:
		logger.Debug("报文类别无处安放",
			"kind", pkt.Kind.String(),
			"conn", c.id.ShortString())
	}
}

// acceptInbound 登记对端打开的新流并送入接受队列
func (c *Conn) acceptInbound(ctx context.Context, pkt packet) {
	// 对端铸的流号奇偶性必须与本端相反
	if (pkt.Stream%2 == 1) == c.initiator {
		logger.Warn("开流报文的流号奇偶性不符",
			"stream", pkt.Stream,
			"conn", c.id.ShortString())
		return
	}
	rb := newRecvBuffer()
	if !c.trackInbound(pkt.Stream, rb) {
		logger.Warn("开流报文的流号重复",
			"stream", pkt.Stream,
			"conn", c.id.ShortString())
		return
	}
	if pkt.Uni {
		select {
		case c.acceptUni <- &recvHalf{id: pkt.Stream, conn: c, rb: rb}:
		case <-c.closed:
		case <-ctx.Done():
		}
		return
	}
	select {
	case c.acceptBidi <- &stream{id: pkt.Stream, conn: c, rb: rb}:
	case <-c.closed:
	case <-ctx.Done():
	}
}

// ============================================================================
//                              内部簿记
// ============================================================================

// trackInbound 登记流的接收缓冲；流号已占用时返回 false
func (c *Conn) trackInbound(id types.StreamID, rb *recvBuffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inbound[id]; ok {
		return false
	}
	c.inbound[id] = rb
	return true
}

// lookupInbound 查找流的接收缓冲；未登记返回 nil
func (c *Conn) lookupInbound(id types.StreamID) *recvBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbound[id]
}

// dropStream 注销流的接收缓冲；之后到达的报文被丢弃
func (c *Conn) dropStream(id types.StreamID) {
	c.mu.Lock()
	delete(c.inbound, id)
	c.mu.Unlock()
}

// shutdown 收束连接
//
// reason 为 nil 表示本端主动关闭；notify 时向对端发一个关闭
// 报文，尽力而为、不等待。幂等。
func (c *Conn) shutdown(reason error, notify bool) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.errv = reason
		c.errMu.Unlock()
		if notify {
			if payload, err := encodePacket(packet{Kind: kindConnClose}); err == nil {
				f := types.LinkFrame{
					Src:     c.local,
					Dst:     c.remote,
					Conn:    c.id,
					Packet:  types.PacketOngoing,
					TTL:     types.DefaultLinkTTL,
					Payload: payload,
				}
				go func() { _ = c.tp.sender.Send(c.tp.ctx, f) }()
			}
		}
		close(c.closed)
		c.cancel()
		c.mu.Lock()
		for id, rb := range c.inbound {
			delete(c.inbound, id)
			rb.fail(ErrConnClosed)
		}
		c.mu.Unlock()
		c.tp.dropConn(c.id, c)
		logger.Debug("连接已关闭",
			"conn", c.id.ShortString(),
			"node", c.remote.ShortString())
	})
}
