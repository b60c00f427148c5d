package proxy

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
)

// ============================================================================
//                              Fx 模块定义
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	Runtime interfaces.HandleRuntime
	Metrics *metrics.Metrics `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Engine *Engine
}

// ProvideEngine 创建代理引擎
func ProvideEngine(p Params) Result {
	return Result{Engine: NewEngine(p.Runtime, p.Metrics)}
}

// Module 代理引擎模块
func Module() fx.Option {
	return fx.Module("core/proxy",
		fx.Provide(ProvideEngine),
	)
}
