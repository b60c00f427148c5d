package peer

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/internal/core/proxy"
	"github.com/dep2p/go-fabric/internal/core/transfer"
	"github.com/dep2p/go-fabric/pkg/interfaces"
)

// ============================================================================
//                              Fx 模块定义
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	Transport interfaces.Transport
	Proxy     *proxy.Engine
	Transfers *transfer.Table
	Services  interfaces.ServiceMap
	Runtime   interfaces.HandleRuntime
}

// Result 模块输出
type Result struct {
	fx.Out

	Factory     *Factory
	PeerFactory interfaces.PeerFactory
}

// ProvideFactory 创建对等体工厂
//
// 诊断提供者与消亡通知由根门面在装配收尾时晚绑定。
func ProvideFactory(p Params) Result {
	f := NewFactory(p.Transport, Deps{
		Proxy:     p.Proxy,
		Transfers: p.Transfers,
		Services:  p.Services,
		Runtime:   p.Runtime,
	})
	return Result{Factory: f, PeerFactory: f}
}

// Module 对等体工厂模块
func Module() fx.Option {
	return fx.Module("core/peer",
		fx.Provide(ProvideFactory),
	)
}
