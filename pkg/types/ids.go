package types

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeID 节点唯一标识符
// 由证书公钥派生（公钥的 SHA256 哈希），或在构造 Router 时显式指定
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type NodeID [32]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be 32 bytes Base58")

// String 返回 NodeID 的 Base58 字符串表示
//
// 这是 NodeID 的规范外部表示，用于日志、配置文件和诊断输出。
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 NodeID 的短字符串表示
//
// 格式：Base58 前 8 个字符，用于日志中的简短标识。
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// Equal 比较两个 NodeID 是否相等
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != 32 {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从 Base58 字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return EmptyNodeID, ErrInvalidNodeID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromBytes(b)
}

// RandomNodeID 生成随机 NodeID
//
// 用于未提供证书材料时的节点身份（测试、内存传输）。
func RandomNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return id
}

// ============================================================================
//                           ConnectionID - 连接标识
// ============================================================================

// ConnectionID 逻辑连接标识符
//
// 每次连接尝试铸造一个新值，在本 Router 实例的生命周期内唯一。
// 同一 ConnectionID 存活期间绝不会复用于不同的远端节点。
type ConnectionID [16]byte

// EmptyConnectionID 空连接ID
var EmptyConnectionID ConnectionID

// ErrInvalidConnectionID 无效的连接ID错误
var ErrInvalidConnectionID = errors.New("invalid connection ID: must be 16 bytes")

// NewConnectionID 铸造一个新的连接标识
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

// String 返回 ConnectionID 的 Base58 字符串表示
func (id ConnectionID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 ConnectionID 的短字符串表示（前 8 个字符）
func (id ConnectionID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 ConnectionID 的字节切片
func (id ConnectionID) Bytes() []byte {
	return id[:]
}

// IsEmpty 检查 ConnectionID 是否为空
func (id ConnectionID) IsEmpty() bool {
	return id == EmptyConnectionID
}

// ConnectionIDFromBytes 从字节切片创建 ConnectionID
func ConnectionIDFromBytes(b []byte) (ConnectionID, error) {
	if len(b) != 16 {
		return EmptyConnectionID, ErrInvalidConnectionID
	}
	var id ConnectionID
	copy(id[:], b)
	return id, nil
}

// ============================================================================
//                              StreamID - 流标识
// ============================================================================

// StreamID 流唯一标识符
//
// 对 QUIC 传输即线上流 ID；对内存传输由连接本地铸造。
// 零值表示"无流"（例如 StreamRef.Drain 为零表示没有排空流）。
type StreamID uint64

// String 返回 StreamID 的字符串表示
func (id StreamID) String() string {
	return hex.EncodeToString([]byte{
		byte(id >> 56), byte(id >> 48), byte(id >> 40), byte(id >> 32),
		byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id),
	})
}

// IsZero 检查 StreamID 是否为零值
func (id StreamID) IsZero() bool {
	return id == 0
}

// ============================================================================
//                              LinkID - 链路标识
// ============================================================================

// LinkID 链路本地标识符
//
// 由进程级单调计数器铸造，进程启动时初始化一次，绝不重置。
type LinkID uint64

// String 返回 LinkID 的字符串表示
func (id LinkID) String() string {
	return hex.EncodeToString([]byte{
		byte(id >> 56), byte(id >> 48), byte(id >> 40), byte(id >> 32),
		byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id),
	})
}
