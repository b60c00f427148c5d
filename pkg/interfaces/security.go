package interfaces

import (
	"crypto/tls"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                        SecurityContext - 安全上下文
// ============================================================================

// SecurityContext 凭据材料与传输层安全配置的多态提供者
//
// 生产实现从磁盘凭据文件加载（构造时即校验可读性，缺失立即失败）；
// 测试实现在内存中生成一次性自签名身份。
type SecurityContext interface {
	// NodeID 返回从凭据派生的节点身份（证书公钥的 SHA256）
	NodeID() (types.NodeID, error)

	// ServerTLS 返回监听侧 TLS 配置
	ServerTLS() (*tls.Config, error)

	// ClientTLS 返回拨出侧 TLS 配置
	ClientTLS() (*tls.Config, error)

	// CredentialPaths 返回凭据文件路径（节点证书/私钥/信任根）
	//
	// 内存实现返回空串。
	CredentialPaths() (cert, key, root string)
}
