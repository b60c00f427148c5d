package registry

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              Fx 模块定义
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	Local   types.NodeID
	Factory interfaces.PeerFactory
	Routes  interfaces.Routes
	Metrics *metrics.Metrics `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Registry *Registry
}

// ProvideRegistry 创建对等体注册表
func ProvideRegistry(p Params) Result {
	return Result{Registry: NewRegistry(p.Local, p.Factory, p.Routes, p.Metrics)}
}

// Module 对等体注册表模块
func Module() fx.Option {
	return fx.Module("core/registry",
		fx.Provide(ProvideRegistry),
	)
}
