package handle

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/pkg/interfaces"
)

// ============================================================================
//                              Fx 模块
// ============================================================================

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Runtime interfaces.HandleRuntime
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("handle",
		fx.Provide(ProvideRuntime),
	)
}

// ProvideRuntime 提供句柄运行时实例
func ProvideRuntime() Result {
	return Result{Runtime: NewRuntime()}
}
