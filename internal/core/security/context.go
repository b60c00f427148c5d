// Package security 提供节点身份与传输层安全配置
//
// 节点身份从证书公钥派生（SHA256），不依赖 CA 域名体系；
// 磁盘凭据与内存一次性身份实现同一个多态契约。
package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("core/security")

// NextProto 传输层 ALPN 协议标识
const NextProto = "fabric/1"

// ============================================================================
//                      FileContext - 磁盘凭据上下文
// ============================================================================

// FileContext 从磁盘凭据文件加载的安全上下文
//
// 构造时即校验三个凭据文件全部可读并完成解析：凭据损坏属于
// 部署错误，必须在节点启动前暴露，而不是拖到第一次握手。
type FileContext struct {
	certPath string
	keyPath  string
	rootPath string

	cert  tls.Certificate
	roots *x509.CertPool
	node  types.NodeID
}

var _ interfaces.SecurityContext = (*FileContext)(nil)

// NewFileContext 加载磁盘凭据并构造安全上下文
//
// 任一文件缺失、不可读或解析失败都立即返回包裹 ErrCredentialFile
// 的错误，错误信息携带出错的具体路径。
func NewFileContext(certPath, keyPath, rootPath string) (*FileContext, error) {
	for _, p := range []string{certPath, keyPath, rootPath} {
		if err := checkReadable(p); err != nil {
			return nil, err
		}
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCredentialFile, certPath, err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCredentialFile, certPath, err)
	}
	cert.Leaf = leaf

	rootPEM, err := os.ReadFile(rootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCredentialFile, rootPath, err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(rootPEM) {
		return nil, fmt.Errorf("%w: %s: 信任根不含有效证书", ErrCredentialFile, rootPath)
	}

	node, err := NodeIDFromCert(leaf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCredentialFile, certPath, err)
	}

	logger.Info("磁盘凭据已加载", "node", node.ShortString(), "cert", certPath)
	return &FileContext{
		certPath: certPath,
		keyPath:  keyPath,
		rootPath: rootPath,
		cert:     cert,
		roots:    roots,
		node:     node,
	}, nil
}

// NodeID 返回从凭据派生的节点身份
func (c *FileContext) NodeID() (types.NodeID, error) {
	return c.node, nil
}

// ServerTLS 返回监听侧 TLS 配置
func (c *FileContext) ServerTLS() (*tls.Config, error) {
	return c.baseConfig(), nil
}

// ClientTLS 返回拨出侧 TLS 配置
func (c *FileContext) ClientTLS() (*tls.Config, error) {
	return c.baseConfig(), nil
}

// CredentialPaths 返回凭据文件路径
func (c *FileContext) CredentialPaths() (cert, key, root string) {
	return c.certPath, c.keyPath, c.rootPath
}

// baseConfig 构造双向认证的 TLS 配置
//
// 自签派生身份体系下关闭标准验证，全部检查集中在
// VerifyPeerCertificate 回调。
func (c *FileContext) baseConfig() *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{c.cert},
		MinVersion:            tls.VersionTLS13,
		NextProtos:            []string{NextProto},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true, //nolint:gosec // G402: 验证集中在 VerifyPeerCertificate
		VerifyPeerCertificate: newVerifyCallback(c.roots),
	}
}

// checkReadable 校验路径存在且以普通文件身份可读
func checkReadable(p string) error {
	if p == "" {
		return fmt.Errorf("%w: 路径为空", ErrCredentialFile)
	}
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCredentialFile, p, err)
	}
	return f.Close()
}
