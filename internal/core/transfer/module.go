package transfer

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/internal/core/metrics"
)

// ============================================================================
//                              Fx 模块
// ============================================================================

// Params Fx 模块输入参数
type Params struct {
	fx.In

	Metrics *metrics.Metrics `optional:"true"`
}

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Table *Table
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("transfer",
		fx.Provide(ProvideTable),
	)
}

// ProvideTable 提供传递表实例
func ProvideTable(p Params) Result {
	return Result{Table: NewTable(p.Metrics)}
}
