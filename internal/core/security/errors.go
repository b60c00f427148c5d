package security

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrCredentialFile 凭据文件缺失、不可读或无法解析
	//
	// 构造期错误：节点启动前就会暴露，绝不拖到握手时。
	ErrCredentialFile = errors.New("凭据文件不可用")

	// ErrBadPeerCertificate 对端证书验证失败
	ErrBadPeerCertificate = errors.New("对端证书验证失败")
)
