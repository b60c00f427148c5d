package fabric

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-fabric/config"
	"github.com/dep2p/go-fabric/internal/core/handle"
	"github.com/dep2p/go-fabric/internal/core/link"
	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/internal/core/peer"
	"github.com/dep2p/go-fabric/internal/core/proxy"
	"github.com/dep2p/go-fabric/internal/core/registry"
	"github.com/dep2p/go-fabric/internal/core/routes"
	"github.com/dep2p/go-fabric/internal/core/servicemap"
	"github.com/dep2p/go-fabric/internal/core/transfer"
	"github.com/dep2p/go-fabric/internal/core/transport/mem"
	"github.com/dep2p/go-fabric/internal/core/transport/quic"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              Fx 装配
// ════════════════════════════════════════════════════════════════════════════

// buildFxApp 构建 Fx 应用
//
// 组装路由器的全部内部模块：
//  1. 供给层：配置、节点身份、安全上下文（及可选的指标注册表与时钟）
//  2. 基础模块：指标、句柄运行时、转发表、链路面
//  3. 能力模块：代理引擎、传递表、服务表
//  4. 传输层：按 cfg.Transport.Kind 二选一（QUIC 或 mem）
//  5. 对等体层：工厂 → 注册表，再把注册表的定位回调接回传输
func buildFxApp(cfg *config.Config, node types.NodeID, sec interfaces.SecurityContext, o *options, r *Router) (*fx.App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 1. 供给层
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(cfg),
		fx.Supply(node),
		fx.Provide(func() interfaces.SecurityContext { return sec }),
	}
	if o.registry != nil {
		modules = append(modules, fx.Supply(o.registry))
	}
	if o.clk != nil {
		clk := o.clk
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 基础与能力模块
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		metrics.Module(),
		handle.Module(),
		routes.Module(),
		link.Module(),
		proxy.Module(),
		transfer.Module(),
		servicemap.Module(),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 3. 传输层（按配置二选一）
	// ════════════════════════════════════════════════════════════════════════
	switch cfg.Transport.Kind {
	case config.TransportQUIC:
		modules = append(modules, quic.Module)
	case config.TransportMem:
		modules = append(modules, mem.Module)
	default:
		return nil, fmt.Errorf("未知传输类别 %q", cfg.Transport.Kind)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 对等体层与回接
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		peer.Module(),
		registry.Module(),
		fx.Invoke(wireLookup),
		fx.Invoke(injectRouterComponents(r)),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 5. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)

	app := fx.New(modules...)
	return app, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              回接与注入
// ════════════════════════════════════════════════════════════════════════════

// lookupWireParams 定位回调回接的依赖
//
// 两种传输同一时刻只装配一种，所以都声明为可选。
type lookupWireParams struct {
	fx.In

	Registry *registry.Registry
	Quic     *quic.Transport `optional:"true"`
	Mem      *mem.Transport  `optional:"true"`
}

// wireLookup 把注册表的对等体定位回调装进传输
//
// Dial 产生的连接由工厂直接认领；入站流量则要经定位回调
// 裁决——发起类报文创建接受方对等体，其余只定位既有连接。
func wireLookup(p lookupWireParams) {
	if p.Quic != nil {
		p.Quic.SetLookup(p.Registry.Lookup)
	}
	if p.Mem != nil {
		p.Mem.SetLookup(p.Registry.Lookup)
	}
}

// routerInjectParams Router 组件注入的统一参数
type routerInjectParams struct {
	fx.In

	Registry  *registry.Registry
	Factory   *peer.Factory
	Proxy     *proxy.Engine
	Transfers *transfer.Table
	Services  *servicemap.Map
	Runtime   interfaces.HandleRuntime
	Routes    *routes.Publisher
	Links     *link.Registry
	Counter   *link.Counter
	Status    *link.StatusAggregator
	Plane     *link.Plane
	Transport interfaces.Transport
	Metrics   *metrics.Metrics
	Quic      *quic.Transport `optional:"true"`
	Mem       *mem.Transport  `optional:"true"`
}

// injectRouterComponents 创建 Router 组件注入函数
func injectRouterComponents(r *Router) interface{} {
	return func(p routerInjectParams) {
		r.registry = p.Registry
		r.factory = p.Factory
		r.proxy = p.Proxy
		r.transfers = p.Transfers
		r.services = p.Services
		r.runtime = p.Runtime
		r.routes = p.Routes
		r.links = p.Links
		r.counter = p.Counter
		r.status = p.Status
		r.plane = p.Plane
		r.transport = p.Transport
		r.metrics = p.Metrics
		r.quic = p.Quic
	}
}
