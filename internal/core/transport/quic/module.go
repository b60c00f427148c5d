package quic

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-fabric/config"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params 构造 QUIC 传输所需的依赖
type Params struct {
	fx.In

	Local    types.NodeID
	Security interfaces.SecurityContext
	Config   *config.Config
}

// Result QUIC 传输的装配产物
type Result struct {
	fx.Out

	Transport *Transport
	Abstract  interfaces.Transport
}

// ProvideTransport 按配置构造 QUIC 传输
//
// 监听与关闭由上层生命周期钩子驱动；这里只完成构造。
func ProvideTransport(p Params) (Result, error) {
	tc := p.Config.Transport
	t, err := New(Options{
		Local:            p.Local,
		Security:         p.Security,
		DialTimeout:      tc.DialTimeout.Std(),
		HelloTimeout:     tc.HelloTimeout.Std(),
		MaxIdleTimeout:   tc.QUIC.MaxIdleTimeout.Std(),
		KeepAlivePeriod:  tc.QUIC.KeepAlivePeriod.Std(),
		MaxStreams:       tc.QUIC.MaxStreams,
		SessionCacheSize: tc.QUIC.SessionCacheSize,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Transport: t, Abstract: t}, nil
}

// Module 注册 QUIC 传输
var Module = fx.Module("transport/quic",
	fx.Provide(ProvideTransport),
)
