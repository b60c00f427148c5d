package mem

import (
	"github.com/dep2p/go-fabric/internal/core/wire"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                            帧载荷报文
// ============================================================================

// packetKind 帧载荷的报文类别
type packetKind uint8

const (
	// kindHello 连接问候（发起方 → 接受方）
	kindHello packetKind = iota + 1
	// kindHelloAck 问候应答（接受方 → 发起方）
	kindHelloAck
	// kindOpenStream 打开新流
	kindOpenStream
	// kindStreamData 流数据
	kindStreamData
	// kindStreamFin 流写端关闭
	kindStreamFin
	// kindStreamReset 流被放弃
	kindStreamReset
	// kindConnClose 连接关闭
	kindConnClose
)

// String 返回报文类别的可读名称
func (k packetKind) String() string {
	switch k {
	case kindHello:
		return "hello"
	case kindHelloAck:
		return "hello-ack"
	case kindOpenStream:
		return "open-stream"
	case kindStreamData:
		return "stream-data"
	case kindStreamFin:
		return "stream-fin"
	case kindStreamReset:
		return "stream-reset"
	case kindConnClose:
		return "conn-close"
	default:
		return "unknown"
	}
}

// packet 连接两端经帧载荷交换的报文
//
// 问候之后的全部流语义（开流、数据、半关闭、终止）都折叠在
// 这一种报文里，靠 Kind 区分。
type packet struct {
	// Kind 报文类别
	Kind packetKind `cbor:"1,keyasint"`
	// Stream 目标流标识；问候与连接关闭报文不携带
	Stream types.StreamID `cbor:"2,keyasint,omitempty"`
	// Uni 开流报文标记单向流
	Uni bool `cbor:"3,keyasint,omitempty"`
	// Error 问候拒绝或连接关闭的原因
	Error string `cbor:"4,keyasint,omitempty"`
	// Data 流数据
	Data []byte `cbor:"5,keyasint,omitempty"`
}

// encodePacket 编码报文为帧载荷
func encodePacket(p packet) ([]byte, error) {
	return wire.Marshal(p)
}

// decodePacket 从帧载荷解码报文
func decodePacket(data []byte) (packet, error) {
	var p packet
	if err := wire.Unmarshal(data, &p); err != nil {
		return packet{}, err
	}
	return p, nil
}
