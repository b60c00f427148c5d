package mem

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/config"
	"github.com/dep2p/go-fabric/internal/core/link"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params 构造内存传输所需的依赖
type Params struct {
	fx.In

	Local  types.NodeID
	Plane  *link.Plane
	Config *config.Config
}

// Result 内存传输的装配产物
type Result struct {
	fx.Out

	Transport *Transport
	Abstract  interfaces.Transport
}

// ProvideTransport 按配置构造内存传输；帧经转发面送出
func ProvideTransport(p Params) (Result, error) {
	t, err := New(Options{
		Local:        p.Local,
		Sender:       p.Plane,
		HelloTimeout: p.Config.Transport.HelloTimeout.Std(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Transport: t, Abstract: t}, nil
}

// bindHandler 把传输挂为转发面的本地帧处理器
func bindHandler(plane *link.Plane, t *Transport) {
	plane.SetHandler(t.HandleFrame)
}

// Module 注册内存传输
var Module = fx.Module("transport/mem",
	fx.Provide(ProvideTransport),
	fx.Invoke(bindHandler),
)
