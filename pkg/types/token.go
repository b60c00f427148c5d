package types

import (
	"crypto/rand"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                           TransferToken - 传递令牌
// ============================================================================

// TransferToken 句柄传递的会合令牌
//
// 由本核心之上的协议层选取并通过带外渠道告知两端；对本核心完全不透明。
// 底层是原始字节（以 string 承载以便用作 map 键）。
type TransferToken string

// TokenFromBytes 从原始字节创建 TransferToken
func TokenFromBytes(b []byte) TransferToken {
	return TransferToken(b)
}

// NewTransferToken 生成 16 字节随机令牌
//
// 便捷函数；协议层也可以自带任意字节的令牌。
func NewTransferToken() TransferToken {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return TransferToken(b[:])
}

// Bytes 返回令牌的原始字节
func (t TransferToken) Bytes() []byte {
	return []byte(t)
}

// IsEmpty 检查令牌是否为空
func (t TransferToken) IsEmpty() bool {
	return t == ""
}

// String 返回令牌的 Base58 字符串表示（仅用于日志）
func (t TransferToken) String() string {
	if t.IsEmpty() {
		return ""
	}
	return base58.Encode([]byte(t))
}

// ShortString 返回令牌的短字符串表示（前 8 个字符）
func (t TransferToken) ShortString() string {
	s := t.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
