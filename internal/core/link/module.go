package link

import (
	"github.com/benbjohnson/clock"
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
	Routes  interfaces.Routes
	Directs interfaces.RoutesPublisher
	Clock   clock.Clock      `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Registry *Registry
	Counter  *Counter
	Status   *StatusAggregator
	Plane    *Plane
}

// ProvidePlane 创建链路注册表、计数器、状态聚合器与转发面
func ProvidePlane(p Params) Result {
	reg := NewRegistry(p.Metrics)
	counter := NewCounter(p.Metrics)
	status := NewStatusAggregator(p.Clock, reg)
	plane := NewPlane(p.Local, p.Routes, p.Directs, reg, counter, status, p.Metrics)
	return Result{
		Registry: reg,
		Counter:  counter,
		Status:   status,
		Plane:    plane,
	}
}

// Module 链路与转发面模块
func Module() fx.Option {
	return fx.Module("core/link",
		fx.Provide(ProvidePlane),
	)
}
