package types

// ============================================================================
//                           LinkFrame - 链路帧
// ============================================================================

// LinkFrame 链路上传输的一帧
//
// 链路只负责把帧送到图上的直接邻居；帧头携带的源/目的节点
// 让转发面能够把帧逐跳送达非邻居节点。
type LinkFrame struct {
	// Src 源节点
	Src NodeID `cbor:"1,keyasint"`
	// Dst 目的节点
	Dst NodeID `cbor:"2,keyasint"`
	// Conn 目标逻辑连接
	Conn ConnectionID `cbor:"3,keyasint"`
	// Packet 报文类型（发起/后续）
	Packet PacketType `cbor:"4,keyasint"`
	// TTL 剩余跳数，逐跳递减，为零时丢弃
	TTL uint8 `cbor:"5,keyasint"`
	// Payload 不透明载荷，由连接两端解释
	Payload []byte `cbor:"6,keyasint"`
}

// DefaultLinkTTL 链路帧默认跳数上限
const DefaultLinkTTL uint8 = 16
