package wire

import (
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                           StreamClass - 流类别
// ============================================================================

// StreamClass 连接上一条流的用途类别
//
// 每条流的第一条报文是 StreamHeader，接受循环按类别分发。
type StreamClass uint8

const (
	// ClassUnknown 未知类别
	ClassUnknown StreamClass = iota
	// ClassService 服务接入控制流
	ClassService
	// ClassTransfer 传递会合承载流
	ClassTransfer
	// ClassDiag 诊断查询流
	ClassDiag
	// ClassProxy 句柄代理承载流（按 ID 认领）
	ClassProxy
	// ClassDrain 单向排空流（按 ID 认领）
	ClassDrain
)

// String 返回流类别的字符串表示
func (c StreamClass) String() string {
	switch c {
	case ClassService:
		return "service"
	case ClassTransfer:
		return "transfer"
	case ClassDiag:
		return "diag"
	case ClassProxy:
		return "proxy"
	case ClassDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              控制报文
// ============================================================================

// StreamHeader 每条流的首条报文
type StreamHeader struct {
	// Class 流的用途类别
	Class StreamClass `cbor:"1,keyasint"`
	// Service 服务名（仅 ClassService）
	Service string `cbor:"2,keyasint,omitempty"`
	// Token 传递令牌原始字节（仅 ClassTransfer）
	Token []byte `cbor:"3,keyasint,omitempty"`
}

// Ack 请求应答
type Ack struct {
	OK    bool   `cbor:"1,keyasint"`
	Error string `cbor:"2,keyasint,omitempty"`
}

// ServiceBind 服务接入的句柄描述报文
//
// 服务控制流上，发起方在收到可用性确认后发送。
type ServiceBind struct {
	Desc types.HandleDescription `cbor:"1,keyasint"`
}

// ============================================================================
//                              Hello - 连接问候
// ============================================================================

// Hello 连接建立后发起方发送的第一条报文
//
// 把 TLS 层核实过的节点身份与本条逻辑连接的 ConnectionID 绑定。
type Hello struct {
	Node []byte `cbor:"1,keyasint"`
	Conn []byte `cbor:"2,keyasint"`
}

// NewHello 构造问候报文
func NewHello(node types.NodeID, conn types.ConnectionID) Hello {
	return Hello{Node: node.Bytes(), Conn: conn.Bytes()}
}

// NodeID 解出问候报文中的节点身份
func (h Hello) NodeID() (types.NodeID, error) {
	return types.NodeIDFromBytes(h.Node)
}

// ConnectionID 解出问候报文中的连接标识
func (h Hello) ConnectionID() (types.ConnectionID, error) {
	return types.ConnectionIDFromBytes(h.Conn)
}
