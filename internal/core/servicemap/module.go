package servicemap

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/pkg/interfaces"
)

// ============================================================================
//                              Fx 模块定义
// ============================================================================

// Result 模块输出
type Result struct {
	fx.Out

	Map        *Map
	ServiceMap interfaces.ServiceMap
}

// ProvideMap 创建服务注册表
func ProvideMap() Result {
	m := NewMap()
	return Result{Map: m, ServiceMap: m}
}

// Module 服务注册表模块
func Module() fx.Option {
	return fx.Module("core/servicemap",
		fx.Provide(ProvideMap),
	)
}
