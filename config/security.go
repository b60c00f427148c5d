package config

import "errors"

// SecurityConfig 安全凭据配置
//
// 三个文件路径要么全部给出（磁盘凭据身份），要么全部留空
// （内存一次性自签名身份，用于测试与 mem 传输）。
type SecurityConfig struct {
	// CertFile 节点证书路径（PEM）
	CertFile string `json:"cert_file,omitempty"`

	// KeyFile 节点私钥路径（PEM）
	KeyFile string `json:"key_file,omitempty"`

	// RootFile 信任根证书路径（PEM）
	RootFile string `json:"root_file,omitempty"`
}

// DefaultSecurityConfig 返回默认安全配置（内存身份）
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{}
}

// Ephemeral 报告配置是否指向内存一次性身份
func (c SecurityConfig) Ephemeral() bool {
	return c.CertFile == "" && c.KeyFile == "" && c.RootFile == ""
}

// Validate 验证安全配置
func (c SecurityConfig) Validate() error {
	if c.Ephemeral() {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" || c.RootFile == "" {
		return errors.New("credential files must be given together: cert, key and root")
	}
	return nil
}
