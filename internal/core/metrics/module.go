package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// ============================================================================
//                              Fx 模块
// ============================================================================

// Params Fx 模块输入参数
type Params struct {
	fx.In

	// Registry 注册表（可选；缺省时收集器只创建不注册）
	Registry *prometheus.Registry `optional:"true"`
}

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Metrics *Metrics
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideMetrics),
	)
}

// ProvideMetrics 提供指标集
func ProvideMetrics(p Params) Result {
	var reg prometheus.Registerer
	if p.Registry != nil {
		reg = p.Registry
	}
	return Result{Metrics: New(reg)}
}
