package types

import "time"

// ============================================================================
//                           Diagnostics - 诊断快照
// ============================================================================

// PeerDiag 单个对等体的诊断信息
type PeerDiag struct {
	Node        NodeID       `cbor:"1,keyasint"`
	Conn        ConnectionID `cbor:"2,keyasint"`
	Role        PeerRole     `cbor:"3,keyasint"`
	Streams     int          `cbor:"4,keyasint"`
	Established time.Time    `cbor:"5,keyasint"`
}

// LinkDiag 单条链路的诊断信息
type LinkDiag struct {
	ID     LinkID    `cbor:"1,keyasint"`
	Remote NodeID    `cbor:"2,keyasint"`
	Class  LinkClass `cbor:"3,keyasint"`
	Debug  string    `cbor:"4,keyasint,omitempty"`
	Closed bool      `cbor:"5,keyasint,omitempty"`
}

// Diagnostics 节点级诊断快照
//
// Router.Diagnostics 的返回值，也是对端 diag 流的应答内容。
type Diagnostics struct {
	Node            NodeID     `cbor:"1,keyasint"`
	Implementation  string     `cbor:"2,keyasint,omitempty"`
	Peers           []PeerDiag `cbor:"3,keyasint,omitempty"`
	Links           []LinkDiag `cbor:"4,keyasint,omitempty"`
	ConnectingLinks int64      `cbor:"5,keyasint"`
	Routes          int        `cbor:"6,keyasint"`
	Services        []string   `cbor:"7,keyasint,omitempty"`
}
