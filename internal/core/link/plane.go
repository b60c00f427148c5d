package link

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// FrameHandler 本地帧处理器
//
// 转发面把目的地为本节点的帧交给它；由具体传输注册，
// 负责解释帧载荷并送达对应的逻辑连接。
type FrameHandler func(ctx context.Context, f types.LinkFrame) error

// ============================================================================
//                          Plane - 帧转发面
// ============================================================================

// Plane 节点的帧转发面
//
// 入站帧要么目的地是本节点（交给已注册的本地处理器），要么
// 按当前转发表快照选下一跳链路送出。转发决策只读快照，
// 绝不回写路由状态。
type Plane struct {
	local   types.NodeID
	routes  interfaces.Routes
	directs interfaces.RoutesPublisher
	reg     *Registry
	counter *Counter
	status  *StatusAggregator
	m       *metrics.Metrics

	mu      sync.RWMutex
	handler FrameHandler

	// clientRouting 为假时拒绝客户类链路之间的中转
	clientRouting atomic.Bool
}

// NewPlane 创建转发面
func NewPlane(local types.NodeID, routes interfaces.Routes, directs interfaces.RoutesPublisher, reg *Registry, counter *Counter, status *StatusAggregator, m *metrics.Metrics) *Plane {
	if m == nil {
		m = metrics.Nop()
	}
	p := &Plane{
		local:   local,
		routes:  routes,
		directs: directs,
		reg:     reg,
		counter: counter,
		status:  status,
		m:       m,
	}
	p.clientRouting.Store(true)
	return p
}

// SetHandler 注册本地帧处理器；由具体传输在装配时调用
func (p *Plane) SetHandler(h FrameHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// SetClientRouting 开关客户类链路之间的中转
func (p *Plane) SetClientRouting(on bool) {
	p.clientRouting.Store(on)
}

// ClientRouting 报告客户中转是否开启
func (p *Plane) ClientRouting() bool {
	return p.clientRouting.Load()
}

// ============================================================================
//                          链路铸造与发布
// ============================================================================

// NewLink 铸造一条去往 remote 的链路并签发建立中令牌
//
// 返回的两个端点交给链路驱动：sender 递交介质上收到的帧，
// receiver 取走本节点想发出的帧。令牌在发布或放弃时释放。
func (p *Plane) NewLink(remote types.NodeID) (interfaces.LinkSender, interfaces.LinkReceiver, *Token, error) {
	if remote == p.local {
		return nil, nil, nil, ErrLoopbackLink
	}
	l := New(remote)
	token := p.counter.Acquire(l)
	logger.Debug("链路已铸造", "link", l.DebugID())
	return &inboundEndpoint{plane: p, link: l}, &outboundEndpoint{link: l}, token, nil
}

// Publish 发布令牌对应的链路并登记直连路由
//
// classify 为 nil 时链路归入网络类。发布后链路对转发面可见，
// 其关闭会自动注销表项并撤销仍由它承担的直连路由。
func (p *Plane) Publish(token *Token, classify interfaces.LinkClassifier) error {
	if token == nil {
		return ErrNilToken
	}
	l := token.Link()
	defer token.Release()

	class := types.LinkClassNetwork
	if classify != nil {
		class = classify(l)
	}
	if err := p.reg.Publish(l, class); err != nil {
		return err
	}
	p.directs.AddDirect(l.Remote(), l.ID())
	p.status.Notify()

	go func() {
		<-l.Done()
		p.reg.Remove(l.ID())
		p.directs.RemoveDirect(l.Remote(), l.ID())
		p.status.Notify()
	}()
	return nil
}

// ============================================================================
//                              帧处理
// ============================================================================

// Deliver 处理从链路 via 到达的一帧
func (p *Plane) Deliver(ctx context.Context, f types.LinkFrame, via types.LinkID) error {
	if f.Dst == p.local {
		return p.handleLocal(ctx, f)
	}
	return p.forward(ctx, f, via)
}

// Send 从本节点发出一帧
//
// 目的地为本节点时直接走本地处理器（自环帧在测试里有用）。
func (p *Plane) Send(ctx context.Context, f types.LinkFrame) error {
	if f.TTL == 0 {
		f.TTL = types.DefaultLinkTTL
	}
	if f.Dst == p.local {
		return p.handleLocal(ctx, f)
	}
	return p.forward(ctx, f, 0)
}

// handleLocal 把目的地为本节点的帧交给本地处理器
func (p *Plane) handleLocal(ctx context.Context, f types.LinkFrame) error {
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h == nil {
		p.m.FramesDropped.WithLabelValues(metrics.DropPolicy).Inc()
		logger.Warn("无本地帧处理器，帧被丢弃", "src", f.Src.ShortString(), "conn", f.Conn)
		return ErrNoFrameHandler
	}
	return h(ctx, f)
}

// forward 按转发表快照把帧送往下一跳
//
// via 为 0 表示帧起源于本节点（不受客户中转策略约束，
// 也不计入转发帧指标）。
func (p *Plane) forward(ctx context.Context, f types.LinkFrame, via types.LinkID) error {
	if f.TTL == 0 {
		p.m.FramesDropped.WithLabelValues(metrics.DropTTL).Inc()
		logger.Debug("跳数耗尽，帧被丢弃", "dst", f.Dst.ShortString())
		return ErrTTLExceeded
	}

	hop, ok := p.routes.Current().NextHopTo(f.Dst)
	if !ok {
		p.m.FramesDropped.WithLabelValues(metrics.DropNoRoute).Inc()
		logger.Debug("无路由，帧被丢弃", "dst", f.Dst.ShortString())
		return ErrNoRouteToNode
	}
	next, ok := p.reg.Get(hop.Link)
	if !ok {
		// 快照可能仍引用刚关闭的链路
		p.m.FramesDropped.WithLabelValues(metrics.DropNoRoute).Inc()
		logger.Debug("下一跳链路已失效，帧被丢弃", "dst", f.Dst.ShortString(), "link", hop.Link)
		return ErrNoRouteToNode
	}

	if via != 0 && !p.clientRouting.Load() {
		viaClass, _ := p.reg.ClassOf(via)
		nextClass, _ := p.reg.ClassOf(next.ID())
		if viaClass == types.LinkClassClient && nextClass == types.LinkClassClient {
			p.m.FramesDropped.WithLabelValues(metrics.DropPolicy).Inc()
			logger.Debug("客户中转被策略拒绝", "dst", f.Dst.ShortString())
			return ErrClientRoutingOff
		}
	}

	f.TTL--
	if err := next.Send(ctx, f); err != nil {
		return err
	}
	if via != 0 {
		p.m.FramesForwarded.Inc()
	}
	return nil
}
