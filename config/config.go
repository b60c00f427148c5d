// Package config 提供路由器的配置管理
//
// 混合配置模式：主 Config 结构体嵌入所有子配置，每个子配置在
// 独立文件中定义，支持 JSON 加载与保存。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Transport.ListenAddr = "0.0.0.0:4433"
//	cfg.Security.CertFile = "/etc/fabric/node.crt"
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

// Config 路由器的完整配置
//
// 按功能模块组织：
//   - Node: 节点级行为（实现标识、客户端转发策略、日志级别）
//   - Transport: 传输层（监听地址、超时、QUIC 参数）
//   - Security: 凭据文件（节点证书/私钥/信任根）
//   - Metrics: 指标暴露
type Config struct {
	// Node 节点配置
	Node NodeConfig `json:"node"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Security 安全凭据配置
	Security SecurityConfig `json:"security"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有子模块的默认值；字段可直接修改，
// 或经由 fabric.New 的 Option 函数定制。
func NewConfig() *Config {
	return &Config{
		Node:      DefaultNodeConfig(),
		Transport: DefaultTransportConfig(),
		Security:  DefaultSecurityConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 递归验证所有子配置；建议在使用配置前调用。
func (c *Config) Validate() error {
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Security.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}
