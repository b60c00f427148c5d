// Package peer 在一条传输连接上实现对等体协议
//
// 双向流的首条报文是流头，接受循环按类别分发：服务接入、
// 传递会合、诊断查询。代理承载流与排空流不走分发，由
// 代理引擎按流 ID 认领。
package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-fabric/internal/core/proxy"
	"github.com/dep2p/go-fabric/internal/core/transfer"
	"github.com/dep2p/go-fabric/internal/core/wire"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("core/peer")

// DiagFunc 本节点诊断快照提供者
type DiagFunc func(ctx context.Context) (*types.Diagnostics, error)

// CloseFunc 对等体消亡通知
//
// dueToRoutingError 指示消亡是否由路由层判定触发；
// 传输层自然断开传 false。
type CloseFunc func(connID types.ConnectionID, dueToRoutingError bool)

// Deps 对等体协议的运行依赖
type Deps struct {
	// Proxy 句柄代理引擎
	Proxy *proxy.Engine
	// Transfers 传递会合表
	Transfers *transfer.Table
	// Services 本地服务注册表
	Services interfaces.ServiceMap
	// Runtime 句柄身份提供者
	Runtime interfaces.HandleRuntime
	// Diag 诊断快照提供者；nil 时诊断流被拒绝
	Diag DiagFunc
	// OnClose 连接消亡通知；nil 时不通知
	OnClose CloseFunc
}

// ============================================================================
//                              Peer - 对等体
// ============================================================================

// Peer 与远端节点的一条逻辑半连接
type Peer struct {
	conn        interfaces.Connection
	role        types.PeerRole
	established time.Time
	deps        Deps

	ctx    context.Context
	cancel context.CancelFunc

	bidi   *claimTable[interfaces.Stream]
	drains *claimTable[interfaces.ReceiveStream]

	streams atomic.Int64

	closed chan struct{}
	once   sync.Once
}

var _ interfaces.Peer = (*Peer)(nil)

// New 在已建立的连接上启动对等体协议
func New(conn interfaces.Connection, role types.PeerRole, deps Deps) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		conn:        conn,
		role:        role,
		established: time.Now(),
		deps:        deps,
		ctx:         ctx,
		cancel:      cancel,
		bidi:        newClaimTable[interfaces.Stream](),
		drains:      newClaimTable[interfaces.ReceiveStream](),
		closed:      make(chan struct{}),
	}
	go p.acceptBidi()
	go p.acceptUni()
	go p.watchConn()
	logger.Debug("对等体已建立",
		"node", conn.RemoteNode().ShortString(),
		"conn", conn.ConnectionID().ShortString(),
		"role", role.String())
	return p
}

// Node 返回远端节点
func (p *Peer) Node() types.NodeID { return p.conn.RemoteNode() }

// Role 返回本端角色
func (p *Peer) Role() types.PeerRole { return p.role }

// ConnectionID 返回逻辑连接标识
func (p *Peer) ConnectionID() types.ConnectionID { return p.conn.ConnectionID() }

// Established 返回连接建立时间
func (p *Peer) Established() time.Time { return p.established }

// StreamCount 返回当前存活的双向流数
func (p *Peer) StreamCount() int { return int(p.streams.Load()) }

// IsClosed 报告对等体是否已关闭
func (p *Peer) IsClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Done 返回对等体关闭时被 close 的通道
func (p *Peer) Done() <-chan struct{} { return p.closed }

// Close 关闭对等体及其底层连接
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		p.cancel()
		for _, s := range p.bidi.close() {
			_ = s.Close()
		}
		for _, s := range p.drains.close() {
			s.CancelRead()
		}
		err = p.conn.Close()
		logger.Debug("对等体已关闭",
			"node", p.conn.RemoteNode().ShortString(),
			"conn", p.conn.ConnectionID().ShortString())
	})
	return err
}

// ============================================================================
//                          ProxyEndpoint 实现
// ============================================================================

// OpenProxyStream 打开一条代理承载流
func (p *Peer) OpenProxyStream(ctx context.Context) (interfaces.Stream, error) {
	s, err := p.conn.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteMsg(s, wire.StreamHeader{Class: wire.ClassProxy}); err != nil {
		_ = s.Close()
		return nil, err
	}
	return p.count(s), nil
}

// OpenDrainStream 打开一条单向排空流
func (p *Peer) OpenDrainStream(ctx context.Context) (interfaces.SendStream, error) {
	s, err := p.conn.OpenUniStream(ctx)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteMsg(s, wire.StreamHeader{Class: wire.ClassDrain}); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// ClaimStream 按 ID 认领对端打开的代理承载流
func (p *Peer) ClaimStream(ctx context.Context, id types.StreamID) (interfaces.Stream, error) {
	return p.bidi.claim(ctx, id)
}

// ClaimDrain 按 ID 认领对端打开的排空流
func (p *Peer) ClaimDrain(ctx context.Context, id types.StreamID) (interfaces.ReceiveStream, error) {
	return p.drains.claim(ctx, id)
}

// ============================================================================
//                              发起侧操作
// ============================================================================

// OpenService 请求远端把 h 接入名为 service 的服务
//
// 控制流时序：流头 → 可用性应答 → 代理句柄 → 句柄描述 →
// 接入应答。任何失败路径都先完成清理再返回：控制流被关闭，
// 已建立的代理条目被取消。
func (p *Peer) OpenService(ctx context.Context, service string, h interfaces.Handle) error {
	raw, err := p.conn.OpenStream(ctx)
	if err != nil {
		return err
	}
	s := p.count(raw)
	defer s.Close()

	if err := wire.WriteMsg(s, wire.StreamHeader{Class: wire.ClassService, Service: service}); err != nil {
		return err
	}
	var avail wire.Ack
	if err := wire.ReadMsg(s, &avail); err != nil {
		return err
	}
	if !avail.OK {
		return fmt.Errorf("%w: %s: %s", ErrServiceRejected, service, avail.Error)
	}

	desc, err := p.deps.Proxy.SendProxied(ctx, h, p)
	if err != nil {
		return err
	}

	unwind := func() {
		if id, ierr := p.deps.Runtime.Identity(h); ierr == nil {
			p.deps.Proxy.CancelEntries(id.This)
		}
	}

	if err := wire.WriteMsg(s, wire.ServiceBind{Desc: desc}); err != nil {
		unwind()
		return err
	}
	var bound wire.Ack
	if err := wire.ReadMsg(s, &bound); err != nil {
		unwind()
		return err
	}
	if !bound.OK {
		// 远端已拒绝并回收自己那侧；本侧代理随流关闭自然消亡
		return fmt.Errorf("%w: %s: %s", ErrServiceRejected, service, bound.Error)
	}
	return nil
}

// OpenTransfer 在远端发起一次传递会合
//
// 返回的流在应答帧之后就是裸数据通道，调用方全权持有。
func (p *Peer) OpenTransfer(ctx context.Context, token types.TransferToken) (interfaces.Stream, error) {
	if token == "" {
		return nil, transfer.ErrEmptyToken
	}
	s, err := p.conn.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteMsg(s, wire.StreamHeader{Class: wire.ClassTransfer, Token: token.Bytes()}); err != nil {
		_ = s.Close()
		return nil, err
	}
	var ack wire.Ack
	if err := wire.ReadMsg(s, &ack); err != nil {
		_ = s.Close()
		return nil, err
	}
	if !ack.OK {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s", ErrTransferRejected, ack.Error)
	}
	return p.count(s), nil
}

// QueryDiagnostics 请求远端的诊断快照
func (p *Peer) QueryDiagnostics(ctx context.Context) (*types.Diagnostics, error) {
	raw, err := p.conn.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	s := p.count(raw)
	defer s.Close()

	if err := wire.WriteMsg(s, wire.StreamHeader{Class: wire.ClassDiag}); err != nil {
		return nil, err
	}
	var d types.Diagnostics
	if err := wire.ReadMsg(s, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ============================================================================
//                              接受循环
// ============================================================================

// watchConn 连接消亡时收束对等体并通知上层
func (p *Peer) watchConn() {
	select {
	case <-p.conn.Done():
		if err := p.conn.Err(); err != nil {
			logger.Warn("连接断开",
				"node", p.conn.RemoteNode().ShortString(),
				"conn", p.conn.ConnectionID().ShortString(),
				"err", err)
		}
		_ = p.Close()
		if p.deps.OnClose != nil {
			p.deps.OnClose(p.conn.ConnectionID(), false)
		}
	case <-p.closed:
	}
}

// acceptBidi 接受双向流并按流头分发
func (p *Peer) acceptBidi() {
	for {
		s, err := p.conn.AcceptStream(p.ctx)
		if err != nil {
			return
		}
		go p.handleStream(p.count(s))
	}
}

// acceptUni 接受单向流；全部是待认领的排空流
func (p *Peer) acceptUni() {
	for {
		s, err := p.conn.AcceptUniStream(p.ctx)
		if err != nil {
			return
		}
		go p.handleUniStream(s)
	}
}

// handleStream 读取流头并分发一条双向流
func (p *Peer) handleStream(s interfaces.Stream) {
	var hdr wire.StreamHeader
	if err := wire.ReadMsg(s, &hdr); err != nil {
		logger.Debug("流头读取失败", "stream", s.ID(), "err", err)
		_ = s.Close()
		return
	}

	switch hdr.Class {
	case wire.ClassProxy:
		if err := p.bidi.park(s.ID(), s); err != nil {
			logger.Warn("代理流停驻失败", "stream", s.ID(), "err", err)
			_ = s.Close()
		}
	case wire.ClassService:
		p.handleService(s, hdr.Service)
	case wire.ClassTransfer:
		p.handleTransfer(s, types.TokenFromBytes(hdr.Token))
	case wire.ClassDiag:
		p.handleDiag(s)
	default:
		logger.Warn("未知流类别", "stream", s.ID(), "class", uint8(hdr.Class))
		_ = s.Close()
	}
}

// handleUniStream 核实排空流头并停驻等认领
func (p *Peer) handleUniStream(s interfaces.ReceiveStream) {
	var hdr wire.StreamHeader
	if err := wire.ReadMsg(s, &hdr); err != nil {
		s.CancelRead()
		return
	}
	if hdr.Class != wire.ClassDrain {
		logger.Warn("单向流类别非法", "stream", s.ID(), "class", uint8(hdr.Class))
		s.CancelRead()
		return
	}
	if err := p.drains.park(s.ID(), s); err != nil {
		logger.Warn("排空流停驻失败", "stream", s.ID(), "err", err)
		s.CancelRead()
	}
}

// handleService 接受一次服务接入请求
func (p *Peer) handleService(s interfaces.Stream, name string) {
	defer s.Close()

	ok := p.deps.Services.Has(name)
	ack := wire.Ack{OK: ok}
	if !ok {
		ack.Error = "no such service"
	}
	if err := wire.WriteMsg(s, ack); err != nil || !ok {
		return
	}

	var bind wire.ServiceBind
	if err := wire.ReadMsg(s, &bind); err != nil {
		logger.Debug("句柄描述读取失败", "service", name, "err", err)
		return
	}

	h, err := p.deps.Proxy.RecvProxied(p.ctx, bind.Desc, p)
	if err != nil {
		logger.Warn("接收代理失败", "service", name, "err", err)
		_ = wire.WriteMsg(s, wire.Ack{OK: false, Error: err.Error()})
		return
	}
	if err := p.deps.Services.ConnectToService(p.ctx, name, h); err != nil {
		// 桥接句柄收回：代理对随之在两端消亡
		_ = h.Close()
		_ = wire.WriteMsg(s, wire.Ack{OK: false, Error: err.Error()})
		return
	}
	_ = wire.WriteMsg(s, wire.Ack{OK: true})
	logger.Debug("服务接入完成", "service", name, "node", p.Node().ShortString())
}

// handleTransfer 接受一次传递会合：流本身就是解析值
func (p *Peer) handleTransfer(s interfaces.Stream, token types.TransferToken) {
	if err := p.deps.Transfers.Post(token, interfaces.TransferValue{Stream: s}); err != nil {
		logger.Warn("传递投递失败", "err", err)
		_ = wire.WriteMsg(s, wire.Ack{OK: false, Error: err.Error()})
		_ = s.Close()
		return
	}
	// 应答之后流的所有权属于取回者
	if err := wire.WriteMsg(s, wire.Ack{OK: true}); err != nil {
		logger.Debug("传递应答写入失败", "err", err)
	}
}

// handleDiag 应答一次诊断查询
func (p *Peer) handleDiag(s interfaces.Stream) {
	defer s.Close()
	if p.deps.Diag == nil {
		return
	}
	d, err := p.deps.Diag(p.ctx)
	if err != nil {
		logger.Debug("诊断快照构造失败", "err", err)
		return
	}
	_ = wire.WriteMsg(s, d)
}

// ============================================================================
//                          流计数包装
// ============================================================================

// countedStream 存活双向流计数包装
type countedStream struct {
	interfaces.Stream
	p    *Peer
	once sync.Once
}

// count 把流纳入存活计数
func (p *Peer) count(s interfaces.Stream) *countedStream {
	p.streams.Add(1)
	return &countedStream{Stream: s, p: p}
}

// Close 关闭流并退出计数
func (c *countedStream) Close() error {
	c.once.Do(func() { c.p.streams.Add(-1) })
	return c.Stream.Close()
}
