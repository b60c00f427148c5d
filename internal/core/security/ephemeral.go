package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                    EphemeralContext - 内存一次性身份
// ============================================================================

// EphemeralContext 内存中生成的一次性自签名身份
//
// 不触碰磁盘：Ed25519 密钥对与自签名证书都在构造时生成，
// 进程退出即消失。对端验证只做公钥派生（无信任根），
// 供测试与演示网格使用。
type EphemeralContext struct {
	cert tls.Certificate
	node types.NodeID
}

var _ interfaces.SecurityContext = (*EphemeralContext)(nil)

// NewEphemeralContext 生成一次性自签名身份
func NewEphemeralContext() (*EphemeralContext, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("生成密钥失败: %w", err)
	}

	sum := sha256.Sum256(pub)
	hash, err := types.NodeIDFromBytes(sum[:])
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Fabric"},
			CommonName:   "Fabric Node " + hex.EncodeToString(hash.Bytes()[:8]),
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour * 365),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		ExtraExtensions: []pkix.Extension{
			{Id: nodeIDExtensionOID, Critical: false, Value: hash.Bytes()},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("创建自签名证书失败: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("解析证书失败: %w", err)
	}

	node, err := NodeIDFromCert(leaf)
	if err != nil {
		return nil, err
	}

	return &EphemeralContext{
		cert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  priv,
			Leaf:        leaf,
		},
		node: node,
	}, nil
}

// NodeID 返回从一次性证书派生的节点身份
func (c *EphemeralContext) NodeID() (types.NodeID, error) {
	return c.node, nil
}

// ServerTLS 返回监听侧 TLS 配置
func (c *EphemeralContext) ServerTLS() (*tls.Config, error) {
	return c.baseConfig(), nil
}

// ClientTLS 返回拨出侧 TLS 配置
func (c *EphemeralContext) ClientTLS() (*tls.Config, error) {
	return c.baseConfig(), nil
}

// CredentialPaths 内存实现没有凭据文件
func (c *EphemeralContext) CredentialPaths() (cert, key, root string) {
	return "", "", ""
}

// baseConfig 构造无信任根的 TLS 配置
func (c *EphemeralContext) baseConfig() *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{c.cert},
		MinVersion:            tls.VersionTLS13,
		NextProtos:            []string{NextProto},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true, //nolint:gosec // G402: 验证集中在 VerifyPeerCertificate
		VerifyPeerCertificate: newVerifyCallback(nil),
	}
}
