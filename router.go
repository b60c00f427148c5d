package fabric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-fabric/config"
	"github.com/dep2p/go-fabric/internal/core/link"
	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/internal/core/peer"
	"github.com/dep2p/go-fabric/internal/core/proxy"
	"github.com/dep2p/go-fabric/internal/core/registry"
	"github.com/dep2p/go-fabric/internal/core/routes"
	"github.com/dep2p/go-fabric/internal/core/security"
	"github.com/dep2p/go-fabric/internal/core/servicemap"
	"github.com/dep2p/go-fabric/internal/core/transfer"
	"github.com/dep2p/go-fabric/internal/core/transport/quic"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("fabric")

// ════════════════════════════════════════════════════════════════════════════
//                              Router - 根门面
// ════════════════════════════════════════════════════════════════════════════

const (
	// startTimeout Fx 应用启动时限
	startTimeout = 30 * time.Second
	// stopTimeout Fx 应用停止时限
	stopTimeout = 15 * time.Second
)

// ConnectingLinkToken 建立中链路的作用域令牌
//
// NewLink 签发，PublishLink 消费；调用方放弃链路时自行
// Release（幂等）。令牌存续期间该链路计入 ConnectingLinks。
type ConnectingLinkToken = link.Token

// Router 网格节点的根门面
//
// 聚合对等体注册表、句柄代理引擎、传递表、服务表与链路转发面，
// 对外暴露服务接入、链路发布与传递会合三类操作。一个进程可以
// 持有多个 Router——各自独立的身份、传输与转发面。
type Router struct {
	cfg  *config.Config
	sec  interfaces.SecurityContext
	node types.NodeID

	app *fx.App

	// 经 Fx 注入的组件
	registry  *registry.Registry
	factory   *peer.Factory
	proxy     *proxy.Engine
	transfers *transfer.Table
	services  *servicemap.Map
	runtime   interfaces.HandleRuntime
	routes    *routes.Publisher
	links     *link.Registry
	counter   *link.Counter
	status    *link.StatusAggregator
	plane     *link.Plane
	transport interfaces.Transport
	metrics   *metrics.Metrics
	quic      *quic.Transport

	// 常驻任务监护
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// 诊断请求会合点：应答通道本身就是请求
	diagC chan chan *types.Diagnostics

	implMu sync.RWMutex
	impl   string

	bgMu  sync.Mutex
	bgErr error

	closeMu sync.Mutex
	closed  bool
}

// New 创建并启动一个路由器
//
// 依次：应用选项、验证配置、构造安全上下文（凭据文件问题在
// 这一步就以 ErrCredentialFile 失败，不返回半成品）、固定节点
// 身份、装配并启动 Fx 应用、晚绑定工厂回调、按配置开始监听，
// 最后启动受监督的常驻任务组。
func New(opts ...Option) (*Router, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("选项应用失败: %w", err)
		}
	}
	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	if lvl, err := log.ParseLevel(cfg.Node.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	// 凭据先行：任何组件装配之前把凭据文件问题暴露出来
	sec := o.sec
	if sec == nil {
		if cfg.Security.Ephemeral() {
			ec, err := security.NewEphemeralContext()
			if err != nil {
				return nil, fmt.Errorf("构造内存身份: %w", err)
			}
			sec = ec
		} else {
			fc, err := security.NewFileContext(
				cfg.Security.CertFile, cfg.Security.KeyFile, cfg.Security.RootFile)
			if err != nil {
				return nil, err
			}
			sec = fc
		}
	}

	node, err := sec.NodeID()
	if err != nil {
		return nil, fmt.Errorf("派生节点身份: %w", err)
	}

	r := &Router{
		cfg:   cfg,
		sec:   sec,
		node:  node,
		impl:  cfg.Node.Implementation,
		diagC: make(chan chan *types.Diagnostics),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	app, err := buildFxApp(cfg, node, sec, o, r)
	if err != nil {
		r.cancel()
		return nil, err
	}
	r.app = app

	startCtx, cancelStart := context.WithTimeout(context.Background(), startTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		r.cancel()
		return nil, fmt.Errorf("装配启动失败: %w", err)
	}

	// 晚绑定：工厂产出的对等体要回到路由器拿诊断快照、报消亡
	r.factory.SetDiag(r.answerDiagnostics)
	r.factory.SetOnClose(r.RemovePeer)
	r.plane.SetClientRouting(cfg.Node.ClientRouting)

	if r.quic != nil && cfg.Transport.ListenAddr != "" {
		if err := r.quic.Listen(cfg.Transport.ListenAddr); err != nil {
			r.cancel()
			stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
			defer cancelStop()
			_ = r.app.Stop(stopCtx)
			return nil, fmt.Errorf("监听 %s: %w", cfg.Transport.ListenAddr, err)
		}
	}

	r.launchBackground()

	logger.Info("路由器已启动",
		"node", node.ShortString(),
		"transport", cfg.Transport.Kind,
		"listen", cfg.Transport.ListenAddr)
	return r, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              常驻任务
// ════════════════════════════════════════════════════════════════════════════

// launchBackground 启动受监督的常驻任务组
//
// 四个任务：转发表监视（召唤客户端）、链路状态聚合、诊断请求
// 应答、服务清单跟随。任一任务出错即取消其余任务；错误记入
// bgErr，经 Err() 对外可见——New 的调用方不会因此被打断。
func (r *Router) launchBackground() {
	g, ctx := errgroup.WithContext(r.ctx)
	r.group = g

	watcher := routes.NewWatcher(r.routes, r.registry, r.metrics)
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error { return r.status.Run(ctx) })
	g.Go(func() error { return r.serveDiagnostics(ctx) })
	g.Go(func() error { return r.watchServices(ctx) })

	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			r.bgMu.Lock()
			r.bgErr = err
			r.bgMu.Unlock()
			logger.Error("常驻任务异常退出", "err", err)
		}
	}()
}

// serveDiagnostics 应答诊断快照请求
//
// 请求来自两处：对端经诊断流转来的查询，以及本地 Diagnostics
// 调用之外的对等体回调。快照在本协程串行生成。
func (r *Router) serveDiagnostics(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case replyC := <-r.diagC:
			replyC <- r.snapshot()
		}
	}
}

// answerDiagnostics 对等体诊断流的快照提供者
func (r *Router) answerDiagnostics(ctx context.Context) (*types.Diagnostics, error) {
	replyC := make(chan *types.Diagnostics, 1)
	select {
	case r.diagC <- replyC:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.ctx.Done():
		return nil, ErrRouterClosed
	}
	select {
	case d := <-replyC:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watchServices 跟随本地服务清单变化
//
// 清单经诊断快照对外可见；这里只记录变化轨迹。
func (r *Router) watchServices(ctx context.Context) error {
	ch, cancel := r.services.Watch()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case names, ok := <-ch:
			if !ok {
				return nil
			}
			logger.Info("本地服务清单已更新", "count", len(names), "services", names)
		}
	}
}

// snapshot 汇集当前诊断快照
func (r *Router) snapshot() *types.Diagnostics {
	peers := r.registry.List()
	pd := make([]types.PeerDiag, 0, len(peers))
	for _, p := range peers {
		pd = append(pd, types.PeerDiag{
			Node:        p.Node(),
			Conn:        p.ConnectionID(),
			Role:        p.Role(),
			Streams:     p.StreamCount(),
			Established: p.Established(),
		})
	}
	return &types.Diagnostics{
		Node:            r.node,
		Implementation:  r.Implementation(),
		Peers:           pd,
		Links:           r.status.Current(),
		ConnectingLinks: int64(r.counter.Len()),
		Routes:          r.routes.Current().Len(),
		Services:        r.services.Advertised(),
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              服务接入
// ════════════════════════════════════════════════════════════════════════════

// ConnectToService 把句柄接入 node 上名为 service 的服务
//
// node 为本节点时直接走服务表；远端节点经客户端对等体把句柄
// 代理过去，流头携带服务名。任何失败路径都不留下半注册的流。
func (r *Router) ConnectToService(ctx context.Context, node types.NodeID, service string, h interfaces.Handle) error {
	if r.isClosed() {
		return ErrRouterClosed
	}
	if node == r.node {
		return r.services.ConnectToService(ctx, service, h)
	}
	p, err := r.registry.GetClient(ctx, node)
	if err != nil {
		return err
	}
	return p.OpenService(ctx, service, h)
}

// RegisterService 注册本地服务提供者
func (r *Router) RegisterService(name string, p interfaces.ServiceProvider) error {
	return r.services.RegisterService(name, p)
}

// RegisterRawService 以函数形式注册本地服务
func (r *Router) RegisterRawService(name string, fn interfaces.ServiceFunc) error {
	return r.services.RegisterRawService(name, fn)
}

// UnregisterService 注销本地服务
func (r *Router) UnregisterService(name string) {
	r.services.Unregister(name)
}

// ════════════════════════════════════════════════════════════════════════════
//                              链路与路由
// ════════════════════════════════════════════════════════════════════════════

// NewLink 铸造一条去往 remote 的链路
//
// 返回的端点交给链路驱动对接真实介质：sender 收驱动递交的
// 入站帧，receiver 供驱动取走出站帧。令牌在 PublishLink 或
// 调用方放弃时释放。
func (r *Router) NewLink(remote types.NodeID) (interfaces.LinkSender, interfaces.LinkReceiver, *ConnectingLinkToken, error) {
	if r.isClosed() {
		return nil, nil, nil, ErrRouterClosed
	}
	return r.plane.NewLink(remote)
}

// PublishLink 发布令牌对应的链路
//
// 发布后链路对转发面可见，并自动登记去往其远端的直连路由；
// 链路关闭时表项与直连路由一并注销。classify 为 nil 时链路
// 归入网络类。
func (r *Router) PublishLink(token *ConnectingLinkToken, classify interfaces.LinkClassifier) error {
	if r.isClosed() {
		return ErrRouterClosed
	}
	return r.plane.Publish(token, classify)
}

// SetRoutes 整体替换转发表
//
// 指向本节点的表项被剔除；链路发布维护的直连路由不受影响。
func (r *Router) SetRoutes(t types.ForwardingTable) {
	r.routes.SetRoutes(t)
}

// Routes 返回当前生效的转发表快照
func (r *Router) Routes() types.ForwardingTable {
	return r.routes.Current()
}

// ════════════════════════════════════════════════════════════════════════════
//                              对等体管理
// ════════════════════════════════════════════════════════════════════════════

// RemovePeer 摘除连接对应的对等体
//
// 消亡的是客户端槽位、并非路由错误所致、且转发表仍有通往该
// 节点的路由时，注册表立即安排一次复活；路由错误导致的消亡
// 不复活，避免抖动。对等体自身关闭时工厂也经由此路径清账。
func (r *Router) RemovePeer(connID types.ConnectionID, dueToRoutingError bool) {
	r.registry.Remove(connID, dueToRoutingError)
}

// ════════════════════════════════════════════════════════════════════════════
//                              句柄代理
// ════════════════════════════════════════════════════════════════════════════

// NewHandlePair 铸造一对互联句柄
//
// 一端写入的帧从另一端读出。通常一半留在本地、另一半经
// ConnectToService 或 SendProxied 交出去。
func (r *Router) NewHandlePair(kind types.HandleKind) (interfaces.Handle, interfaces.Handle, error) {
	return r.runtime.NewPair(kind)
}

// SendProxied 把句柄的承载权移交给 connID 所指的连接
//
// 返回的描述经带外途径送到对端，由对端 RecvProxied 消费。
// 句柄的另一半已代理在同一连接上时发生配对坍缩：不开新流，
// 两个代理条目就地对接。
func (r *Router) SendProxied(ctx context.Context, h interfaces.Handle, connID types.ConnectionID) (types.HandleDescription, error) {
	if r.isClosed() {
		return types.HandleDescription{}, ErrRouterClosed
	}
	p := r.registry.Get(connID)
	if p == nil {
		return types.HandleDescription{}, fmt.Errorf("%w: %s", ErrUnknownConnection, connID.ShortString())
	}
	return r.proxy.SendProxied(ctx, h, p)
}

// RecvProxied 按对端送来的描述在本端重建句柄
func (r *Router) RecvProxied(ctx context.Context, desc types.HandleDescription, connID types.ConnectionID) (interfaces.Handle, error) {
	if r.isClosed() {
		return nil, ErrRouterClosed
	}
	p := r.registry.Get(connID)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID.ShortString())
	}
	return r.proxy.RecvProxied(ctx, desc, p)
}

// ════════════════════════════════════════════════════════════════════════════
//                              传递会合
// ════════════════════════════════════════════════════════════════════════════

// PostTransfer 以令牌挂出一个传递值
func (r *Router) PostTransfer(token types.TransferToken, v interfaces.TransferValue) error {
	if r.isClosed() {
		return ErrRouterClosed
	}
	return r.transfers.Post(token, v)
}

// FindTransfer 取走令牌对应的传递值；值未到则阻塞等待
//
// 每个值恰好被取走一次；已消费令牌的再次 Find 重新挂起等待。
func (r *Router) FindTransfer(ctx context.Context, token types.TransferToken) (interfaces.TransferValue, error) {
	if r.isClosed() {
		return interfaces.TransferValue{}, ErrRouterClosed
	}
	return r.transfers.Find(ctx, token)
}

// OpenTransfer 在 target 节点发起一次传递会合
//
// target 为本节点时句柄回家：撤销其两键的代理条目，以熔合值
// 直接挂出，不占用任何网络流，返回的流为 nil。远端目标经客户
// 端对等体打开承载流，流头携带令牌。
func (r *Router) OpenTransfer(ctx context.Context, target types.NodeID, token types.TransferToken, h interfaces.Handle) (interfaces.Stream, error) {
	if r.isClosed() {
		return nil, ErrRouterClosed
	}
	if target == r.node {
		id, err := r.runtime.Identity(h)
		if err != nil {
			return nil, err
		}
		r.proxy.CancelEntries(id.This, id.Pair)
		if err := r.transfers.Post(token, interfaces.TransferValue{Fused: h}); err != nil {
			return nil, err
		}
		return nil, nil
	}
	p, err := r.registry.GetClient(ctx, target)
	if err != nil {
		return nil, err
	}
	return p.OpenTransfer(ctx, token)
}

// ════════════════════════════════════════════════════════════════════════════
//                              观测与访问器
// ════════════════════════════════════════════════════════════════════════════

// NodeID 返回本节点身份
func (r *Router) NodeID() types.NodeID {
	return r.node
}

// Implementation 返回诊断快照里上报的实现标识
func (r *Router) Implementation() string {
	r.implMu.RLock()
	defer r.implMu.RUnlock()
	return r.impl
}

// SetImplementation 设置实现标识
func (r *Router) SetImplementation(impl string) {
	r.implMu.Lock()
	defer r.implMu.Unlock()
	r.impl = impl
}

// ClientRouting 报告是否转发客户端链路之间的帧
func (r *Router) ClientRouting() bool {
	return r.plane.ClientRouting()
}

// SetClientRouting 开关客户端链路之间的转发
func (r *Router) SetClientRouting(on bool) {
	r.plane.SetClientRouting(on)
}

// ConnectingLinks 返回建立中链路数
func (r *Router) ConnectingLinks() int {
	return r.counter.Len()
}

// Err 返回常驻任务记录的失败；任务健在时为 nil
func (r *Router) Err() error {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	return r.bgErr
}

// Diagnostics 汇集本节点当前诊断快照
func (r *Router) Diagnostics() *types.Diagnostics {
	return r.snapshot()
}

// QueryDiagnostics 请求 node 的诊断快照
//
// node 为本节点时等价于 Diagnostics；远端节点经客户端对等体
// 的诊断流查询。
func (r *Router) QueryDiagnostics(ctx context.Context, node types.NodeID) (*types.Diagnostics, error) {
	if r.isClosed() {
		return nil, ErrRouterClosed
	}
	if node == r.node {
		return r.snapshot(), nil
	}
	p, err := r.registry.GetClient(ctx, node)
	if err != nil {
		return nil, err
	}
	return p.QueryDiagnostics(ctx)
}

// ════════════════════════════════════════════════════════════════════════════
//                              关闭
// ════════════════════════════════════════════════════════════════════════════

// Close 关闭路由器
//
// 依次：停常驻任务、关对等体注册表、关所有链路、关传输、停
// Fx 应用；错误聚合返回。幂等，再次调用返回 nil。
func (r *Router) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	r.closeMu.Unlock()

	r.cancel()
	if r.group != nil {
		// 常驻任务的失败已由监护协程记录，这里只等待退场
		_ = r.group.Wait()
	}

	var errs error
	errs = multierr.Append(errs, r.registry.Close())
	for _, l := range r.links.Links() {
		errs = multierr.Append(errs, l.Close())
	}
	errs = multierr.Append(errs, r.transport.Close())

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	errs = multierr.Append(errs, r.app.Stop(stopCtx))

	logger.Info("路由器已关闭", "node", r.node.ShortString())
	return errs
}

func (r *Router) isClosed() bool {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	return r.closed
}
