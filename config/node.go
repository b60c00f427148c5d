package config

import "fmt"

// DefaultImplementation 诊断快照里上报的实现标识
const DefaultImplementation = "go-fabric"

// NodeConfig 节点级配置
type NodeConfig struct {
	// Implementation 实现标识，出现在诊断快照中
	Implementation string `json:"implementation"`

	// ClientRouting 是否转发客户端链路之间的帧
	//
	// 关闭后本节点只为含非客户端链路的路径转发，
	// 纯客户端之间的帧被丢弃。
	ClientRouting bool `json:"client_routing"`

	// LogLevel 日志级别：debug / info / warn / error
	LogLevel string `json:"log_level"`
}

// DefaultNodeConfig 返回默认节点配置
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Implementation: DefaultImplementation,
		ClientRouting:  true,
		LogLevel:       "info",
	}
}

// Validate 验证节点配置
func (c NodeConfig) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Implementation == "" {
		return fmt.Errorf("implementation must not be empty")
	}
	return nil
}
