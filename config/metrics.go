package config

import (
	"fmt"
	"net"
)

// MetricsConfig 指标暴露配置
type MetricsConfig struct {
	// Enabled 是否注册 Prometheus 采集器
	Enabled bool `json:"enabled"`

	// ListenAddr 守护进程的 promhttp 监听地址
	ListenAddr string `json:"listen_addr,omitempty"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    false,
		ListenAddr: "127.0.0.1:9464",
	}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("metrics listen address required when metrics enabled")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("bad metrics listen address %q: %w", c.ListenAddr, err)
	}
	return nil
}
