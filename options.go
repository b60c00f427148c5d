package fabric

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-fabric/config"
	"github.com/dep2p/go-fabric/pkg/interfaces"
)

// ════════════════════════════════════════════════════════════════════════════
//                              配置选项
// ════════════════════════════════════════════════════════════════════════════

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 完整配置；选项函数在其上覆写字段
	cfg *config.Config

	// 外部注入的安全上下文；nil 时按配置构造
	sec interfaces.SecurityContext

	// Prometheus 注册表；nil 时指标只创建不注册
	registry *prometheus.Registry

	// 链路状态聚合用的时钟；nil 时用真实时钟
	clk clock.Clock
}

func defaultOptions() *options {
	return &options{cfg: config.NewConfig()}
}

// WithConfig 整体替换配置
//
// 与其它选项同用时后写的生效：WithConfig 放在前面，
// 字段级选项可在其上继续覆写。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("配置不能为空")
		}
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("加载配置文件: %w", err)
		}
		o.cfg = cfg
		return nil
	}
}

// WithListenAddr 设置传输监听地址；空串表示只拨出不监听
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		o.cfg.Transport.ListenAddr = addr
		return nil
	}
}

// WithTransport 选择传输类别：config.TransportQUIC 或 config.TransportMem
func WithTransport(kind string) Option {
	return func(o *options) error {
		o.cfg.Transport.Kind = kind
		return nil
	}
}

// WithCredentialFiles 使用磁盘凭据身份
//
// 三个路径分别是节点证书、私钥与信任根（PEM）。文件缺失或
// 不可读时 New 以 ErrCredentialFile 失败。
func WithCredentialFiles(cert, key, root string) Option {
	return func(o *options) error {
		o.cfg.Security.CertFile = cert
		o.cfg.Security.KeyFile = key
		o.cfg.Security.RootFile = root
		return nil
	}
}

// WithEphemeralSecurity 使用内存一次性自签名身份
//
// 进程内有效，重启后节点身份改变；适合测试与 mem 传输。
func WithEphemeralSecurity() Option {
	return func(o *options) error {
		o.cfg.Security = config.SecurityConfig{}
		return nil
	}
}

// WithSecurityContext 直接注入安全上下文，绕过配置里的凭据路径
func WithSecurityContext(sec interfaces.SecurityContext) Option {
	return func(o *options) error {
		if sec == nil {
			return fmt.Errorf("安全上下文不能为空")
		}
		o.sec = sec
		return nil
	}
}

// WithImplementation 设置诊断快照里上报的实现标识
func WithImplementation(impl string) Option {
	return func(o *options) error {
		o.cfg.Node.Implementation = impl
		return nil
	}
}

// WithClientRouting 设置是否转发客户端链路之间的帧
func WithClientRouting(on bool) Option {
	return func(o *options) error {
		o.cfg.Node.ClientRouting = on
		return nil
	}
}

// WithLogLevel 设置日志级别：debug / info / warn / error
func WithLogLevel(level string) Option {
	return func(o *options) error {
		o.cfg.Node.LogLevel = level
		return nil
	}
}

// WithMetricsRegistry 注入 Prometheus 注册表
//
// 给出后指标收集器注册到其中并隐式开启 Metrics.Enabled。
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) error {
		if reg == nil {
			return fmt.Errorf("指标注册表不能为空")
		}
		o.registry = reg
		o.cfg.Metrics.Enabled = true
		return nil
	}
}

// WithClock 注入时钟（测试用）
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clk = clk
		return nil
	}
}
