package security

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/dep2p/go-fabric/pkg/types"
)

// nodeIDExtensionOID 证书扩展中存放 NodeID 的 OID
//
// 扩展仅作调试用途，身份验证始终以公钥派生为准。
var nodeIDExtensionOID = []int{1, 3, 6, 1, 4, 1, 53594, 2, 1}

// ============================================================================
//                          节点身份派生
// ============================================================================

// NodeIDFromCert 从证书公钥派生节点身份
//
// NodeID = SHA256(公钥原始字节)。公钥派生不可伪造：持有不同
// 私钥的节点无法生成派生到同一 NodeID 的证书。
func NodeIDFromCert(cert *x509.Certificate) (types.NodeID, error) {
	var pubKeyBytes []byte
	switch key := cert.PublicKey.(type) {
	case ed25519.PublicKey:
		pubKeyBytes = key
	case *ecdsa.PublicKey:
		pubKeyBytes = elliptic.Marshal(key.Curve, key.X, key.Y)
	case *rsa.PublicKey:
		pubKeyBytes = x509.MarshalPKCS1PublicKey(key)
	default:
		return types.EmptyNodeID, fmt.Errorf("不支持的公钥类型: %T", cert.PublicKey)
	}

	hash := sha256.Sum256(pubKeyBytes)
	return types.NodeIDFromBytes(hash[:])
}

// verifyPeerIdentity 验证对端证书并返回派生身份
//
// 始终执行的检查：
//  1. 从证书公钥派生 NodeID（不可伪造）
//  2. 若证书带有 NodeID 扩展，扩展值必须等于派生值
//
// roots 非空时额外验证证书链锚定在信任根上。
func verifyPeerIdentity(rawCerts [][]byte, roots *x509.CertPool) (types.NodeID, error) {
	if len(rawCerts) == 0 {
		return types.EmptyNodeID, fmt.Errorf("%w: 对端未提供证书", ErrBadPeerCertificate)
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return types.EmptyNodeID, fmt.Errorf("%w: 解析失败: %w", ErrBadPeerCertificate, err)
	}

	derived, err := NodeIDFromCert(cert)
	if err != nil {
		return types.EmptyNodeID, fmt.Errorf("%w: %w", ErrBadPeerCertificate, err)
	}

	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(nodeIDExtensionOID) {
			continue
		}
		extID, err := types.NodeIDFromBytes(ext.Value)
		if err != nil {
			return types.EmptyNodeID, fmt.Errorf("%w: NodeID 扩展无效: %w", ErrBadPeerCertificate, err)
		}
		if !extID.Equal(derived) {
			return types.EmptyNodeID, fmt.Errorf("%w: NodeID 扩展 %s 与公钥派生 %s 不一致",
				ErrBadPeerCertificate, extID.ShortString(), derived.ShortString())
		}
		break
	}

	if roots != nil {
		opts := x509.VerifyOptions{
			Roots:     roots,
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}
		if _, err := cert.Verify(opts); err != nil {
			return types.EmptyNodeID, fmt.Errorf("%w: 证书链未锚定在信任根: %w", ErrBadPeerCertificate, err)
		}
	}

	return derived, nil
}

// newVerifyCallback 构造 TLS 对端证书验证回调
//
// P2P 场景使用公钥派生身份而非 CA 域名体系，因此 TLS 配置关闭
// 标准验证（InsecureSkipVerify），全部检查集中在这个回调里。
func newVerifyCallback(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		_, err := verifyPeerIdentity(rawCerts, roots)
		return err
	}
}
