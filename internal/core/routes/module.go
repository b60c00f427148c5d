package routes

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              Fx 模块定义
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	Local types.NodeID
}

// Result 模块输出
//
// 同一个发布者以三种身份供出：具体类型给需要完整能力的根门面，
// 两个接口给只读消费者与写入方。
type Result struct {
	fx.Out

	Publisher       *Publisher
	Routes          interfaces.Routes
	RoutesPublisher interfaces.RoutesPublisher
}

// ProvidePublisher 创建转发表发布者
func ProvidePublisher(p Params) Result {
	pub := NewPublisher(p.Local)
	return Result{
		Publisher:       pub,
		Routes:          pub,
		RoutesPublisher: pub,
	}
}

// Module 转发表模块
func Module() fx.Option {
	return fx.Module("core/routes",
		fx.Provide(ProvidePublisher),
	)
}
