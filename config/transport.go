package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// 传输类别
const (
	// TransportQUIC 生产传输：QUIC over UDP
	TransportQUIC = "quic"
	// TransportMem 进程内传输：测试与多节点仿真
	TransportMem = "mem"
)

// TransportConfig 传输层配置
type TransportConfig struct {
	// Kind 传输类别：quic（生产）或 mem（测试）
	Kind string `json:"kind"`

	// ListenAddr UDP 监听地址（"host:port"）；空串表示只拨出不监听
	ListenAddr string `json:"listen_addr,omitempty"`

	// DialTimeout 拨号总超时（含 TLS 握手与问候交换）
	DialTimeout Duration `json:"dial_timeout"`

	// HelloTimeout 入站问候交换的时限
	HelloTimeout Duration `json:"hello_timeout"`

	// QUIC QUIC 参数
	QUIC QUICConfig `json:"quic,omitempty"`
}

// QUICConfig QUIC 传输配置
type QUICConfig struct {
	// MaxIdleTimeout 最大空闲超时，超时后连接关闭
	MaxIdleTimeout Duration `json:"max_idle_timeout"`

	// KeepAlivePeriod KeepAlive 间隔；零值禁用
	KeepAlivePeriod Duration `json:"keep_alive_period"`

	// MaxStreams 单连接最大并发双向流数
	MaxStreams int64 `json:"max_streams"`

	// SessionCacheSize TLS 会话票据缓存容量（0-RTT 重连）
	SessionCacheSize int `json:"session_cache_size"`
}

// DefaultTransportConfig 返回默认传输配置
//
// 默认只拨出不监听；守护进程经标志位开启监听。KeepAlive 取空闲
// 超时的一半，保证活跃连接不会被误判死亡。
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Kind:         TransportQUIC,
		DialTimeout:  Duration(10 * time.Second),
		HelloTimeout: Duration(10 * time.Second),
		QUIC: QUICConfig{
			MaxIdleTimeout:   Duration(30 * time.Second),
			KeepAlivePeriod:  Duration(15 * time.Second),
			MaxStreams:       1024,
			SessionCacheSize: 128,
		},
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	switch c.Kind {
	case TransportQUIC, TransportMem:
	default:
		return fmt.Errorf("unknown transport kind %q", c.Kind)
	}
	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			return fmt.Errorf("bad listen address %q: %w", c.ListenAddr, err)
		}
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.HelloTimeout <= 0 {
		return errors.New("hello timeout must be positive")
	}
	if c.Kind == TransportQUIC {
		if c.QUIC.MaxIdleTimeout <= 0 {
			return errors.New("QUIC max idle timeout must be positive")
		}
		if c.QUIC.MaxStreams <= 0 {
			return errors.New("QUIC max streams must be positive")
		}
		if c.QUIC.SessionCacheSize < 0 {
			return errors.New("QUIC session cache size must not be negative")
		}
	}
	return nil
}
