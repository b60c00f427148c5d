// Package mem 实现经链路帧隧穿的内存传输
//
// 传输没有自己的介质：连接的问候、开流与数据全部编码进链路帧
// 载荷，由转发面按目的节点逐跳送达。挂在进程内链路上时整个
// 传输完全确定，适合多节点拓扑测试；挂在真实链路驱动上时则是
// 经网格中转的逻辑连接。
//
// 发起类报文触发注册表定位（其间对等体工厂认领停驻的连接），
// 后续类报文直接按连接标识分发；指向未知连接的后续报文交给
// 注册表裁决后丢弃。
package mem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("transport/mem")

// defaultHelloTimeout 未显式配置时的问候应答等待上限
const defaultHelloTimeout = 10 * time.Second

// FrameSender 帧的发出途径；由转发面实现
type FrameSender interface {
	Send(ctx context.Context, f types.LinkFrame) error
}

// Options 内存传输的构造参数
type Options struct {
	// Local 本节点身份
	Local types.NodeID

	// Sender 帧发出途径
	Sender FrameSender

	// HelloTimeout 问候应答的等待上限；零值取缺省
	HelloTimeout time.Duration
}

// ============================================================================
//                          Transport - 内存传输
// ============================================================================

// Transport 经链路帧隧穿的传输
type Transport struct {
	local        types.NodeID
	sender       FrameSender
	helloTimeout time.Duration
	arrivals     *arrivalTable

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	conns  map[types.ConnectionID]*Conn
	lookup interfaces.PeerLookup
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建内存传输
func New(opts Options) (*Transport, error) {
	if opts.Local.IsEmpty() {
		return nil, errors.New("本节点身份未设置")
	}
	if opts.Sender == nil {
		return nil, errors.New("帧发出途径未设置")
	}
	if opts.HelloTimeout == 0 {
		opts.HelloTimeout = defaultHelloTimeout
	}
	t := &Transport{
		local:        opts.Local,
		sender:       opts.Sender,
		helloTimeout: opts.HelloTimeout,
		arrivals:     newArrivalTable(),
		conns:        make(map[types.ConnectionID]*Conn),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t, nil
}

// SetLookup 装配对等体定位回调；由启动装配调用
func (t *Transport) SetLookup(lookup interfaces.PeerLookup) {
	t.mu.Lock()
	t.lookup = lookup
	t.mu.Unlock()
}

func (t *Transport) getLookup() interfaces.PeerLookup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup
}

// LocalNode 返回本端节点
func (t *Transport) LocalNode() types.NodeID {
	return t.local
}

// ============================================================================
//                              拨号与认领
// ============================================================================

// Dial 携带新铸造的 ConnectionID 向 remote 拨出连接
//
// 问候经转发面送达对端，应答回到本端后连接方告建立；其间
// 没有路由可达对端时拨号就地失败。
func (t *Transport) Dial(ctx context.Context, remote types.NodeID, connID types.ConnectionID) (interfaces.Connection, error) {
	if remote == t.local {
		return nil, ErrLoopbackDial
	}
	c := newConn(t, remote, connID, true)
	if err := t.addConn(c); err != nil {
		c.shutdown(err, false)
		return nil, err
	}

	payload, err := encodePacket(packet{Kind: kindHello})
	if err != nil {
		c.shutdown(err, false)
		return nil, fmt.Errorf("问候编码失败: %w", err)
	}
	hctx, cancel := context.WithTimeout(ctx, t.helloTimeout)
	defer cancel()
	f := types.LinkFrame{
		Src:     t.local,
		Dst:     remote,
		Conn:    connID,
		Packet:  types.PacketInitiation,
		TTL:     types.DefaultLinkTTL,
		Payload: payload,
	}
	if err := t.sender.Send(hctx, f); err != nil {
		c.shutdown(err, false)
		return nil, fmt.Errorf("问候发送失败: %w", err)
	}

	select {
	case err := <-c.helloC:
		if err != nil {
			c.shutdown(err, false)
			return nil, err
		}
		logger.Debug("拨号完成",
			"node", remote.ShortString(),
			"conn", connID.ShortString())
		return c, nil
	case <-hctx.Done():
		c.shutdown(hctx.Err(), false)
		return nil, fmt.Errorf("等待问候应答: %w", hctx.Err())
	case <-t.ctx.Done():
		c.shutdown(ErrTransportClosed, false)
		return nil, ErrTransportClosed
	}
}

// Accept 认领标识为 connID 的已到达入站连接
func (t *Transport) Accept(ctx context.Context, connID types.ConnectionID) (interfaces.Connection, error) {
	c, err := t.arrivals.claim(ctx, connID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ============================================================================
//                              帧分发
// ============================================================================

// HandleFrame 处理一帧目的地为本节点的链路帧
//
// 由转发面作为本地帧处理器调用（SetHandler）。
func (t *Transport) HandleFrame(ctx context.Context, f types.LinkFrame) error {
	pkt, err := decodePacket(f.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPacket, err)
	}
	switch pkt.Kind {
	case kindHello:
		return t.handleHello(ctx, f)
	case kindHelloAck:
		return t.handleHelloAck(f, pkt)
	default:
		return t.handleConnPacket(ctx, f, pkt)
	}
}

// handleHello 处理连接问候：登记、停驻、触发定位、应答
func (t *Transport) handleHello(ctx context.Context, f types.LinkFrame) error {
	remote := f.Src
	if remote == t.local {
		// 自环问候无从接受
		return ErrLoopbackDial
	}
	lookup := t.getLookup()
	if lookup == nil {
		t.sendHelloAck(ctx, f, ErrNoLookup.Error())
		return ErrNoLookup
	}

	c := newConn(t, remote, f.Conn, false)
	if err := t.addConn(c); err != nil {
		c.shutdown(err, false)
		t.sendHelloAck(ctx, f, err.Error())
		return err
	}
	if err := t.arrivals.park(f.Conn, c); err != nil {
		c.shutdown(err, false)
		t.sendHelloAck(ctx, f, err.Error())
		return err
	}

	// 定位创建接受方对等体；其间工厂经 Accept 认领停驻的连接
	if _, err := lookup(ctx, f.Conn, types.PacketInitiation, remote); err != nil {
		logger.Warn("入站连接定位失败",
			"node", remote.ShortString(),
			"conn", f.Conn.ShortString(),
			"err", err)
		// 先清账再应答：拒绝送达对端时本端已不留痕
		if orphan := t.arrivals.unpark(f.Conn); orphan != nil {
			orphan.shutdown(err, false)
		} else {
			c.shutdown(err, false)
		}
		t.sendHelloAck(ctx, f, err.Error())
		return fmt.Errorf("对等体定位失败: %w", err)
	}

	t.sendHelloAck(ctx, f, "")
	logger.Debug("入站连接已接受",
		"node", remote.ShortString(),
		"conn", f.Conn.ShortString())
	return nil
}

// handleHelloAck 把问候应答交给等待中的拨号
func (t *Transport) handleHelloAck(f types.LinkFrame, pkt packet) error {
	c := t.getConn(f.Conn)
	if c == nil || !c.initiator {
		logger.Debug("问候应答无主",
			"conn", f.Conn.ShortString(),
			"src", f.Src.ShortString())
		return nil
	}
	if f.Src != c.remote {
		logger.Warn("问候应答源节点不符",
			"conn", f.Conn.ShortString(),
			"src", f.Src.ShortString())
		return ErrSourceMismatch
	}
	var res error
	if pkt.Error != "" {
		res = fmt.Errorf("%w: %s", ErrHelloRejected, pkt.Error)
	}
	c.deliverHelloAck(res)
	return nil
}

// handleConnPacket 把后续报文分发给所属连接
//
// 本节点没有这条连接的记录时，报文交给注册表裁决（后续类
// 报文不会创建新对等体），随后丢弃。
func (t *Transport) handleConnPacket(ctx context.Context, f types.LinkFrame, pkt packet) error {
	c := t.getConn(f.Conn)
	if c == nil {
		if lookup := t.getLookup(); lookup != nil {
			if _, err := lookup(ctx, f.Conn, types.PacketOngoing, f.Src); err != nil {
				return fmt.Errorf("%w: %v", ErrUnknownConn, err)
			}
		}
		return ErrUnknownConn
	}
	if f.Src != c.remote {
		logger.Warn("报文源节点与连接归属不符",
			"conn", f.Conn.ShortString(),
			"src", f.Src.ShortString(),
			"want", c.remote.ShortString())
		return ErrSourceMismatch
	}
	c.handlePacket(ctx, pkt)
	return nil
}

// sendHelloAck 回送问候应答；reason 非空表示拒绝
func (t *Transport) sendHelloAck(ctx context.Context, f types.LinkFrame, reason string) {
	payload, err := encodePacket(packet{Kind: kindHelloAck, Error: reason})
	if err != nil {
		return
	}
	ack := types.LinkFrame{
		Src:     t.local,
		Dst:     f.Src,
		Conn:    f.Conn,
		Packet:  types.PacketOngoing,
		TTL:     types.DefaultLinkTTL,
		Payload: payload,
	}
	if err := t.sender.Send(ctx, ack); err != nil {
		logger.Warn("问候应答发送失败",
			"node", f.Src.ShortString(),
			"conn", f.Conn.ShortString(),
			"err", err)
	}
}

// ============================================================================
//                              连接簿记
// ============================================================================

// addConn 登记连接；传输已关闭或标识被占用时拒绝
func (t *Transport) addConn(c *Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if _, ok := t.conns[c.id]; ok {
		return ErrDuplicateConn
	}
	t.conns[c.id] = c
	return nil
}

// getConn 查找连接；未登记返回 nil
func (t *Transport) getConn(id types.ConnectionID) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[id]
}

// dropConn 注销连接；身份比较防止误删后来者
func (t *Transport) dropConn(id types.ConnectionID, c *Conn) {
	t.mu.Lock()
	if cur, ok := t.conns[id]; ok && cur == c {
		delete(t.conns, id)
	}
	t.mu.Unlock()
}

// Close 关闭传输及其上所有连接；幂等
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[types.ConnectionID]*Conn)
	t.mu.Unlock()

	t.cancel()
	for _, c := range t.arrivals.close() {
		c.shutdown(ErrTransportClosed, false)
	}
	for _, c := range conns {
		c.shutdown(ErrTransportClosed, false)
	}
	logger.Debug("传输已关闭", "node", t.local.ShortString())
	return nil
}
