package types

import "encoding/binary"

// ============================================================================
//                              Frame - 泵送帧
// ============================================================================

// Frame 代理泵送的最小单元
//
// 三种句柄类型共用同一帧结构：
//   - channel：一个 Payload 即一条完整报文（保留边界）
//   - socket：一个 Payload 即一段字节块（边界无意义）
//   - signal：Payload 固定 4 字节，承载信号位掩码
type Frame struct {
	Payload []byte `cbor:"1,keyasint"`
}

// SignalFrame 构造信号帧
func SignalFrame(mask uint32) Frame {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], mask)
	return Frame{Payload: b[:]}
}

// Mask 解出信号帧的位掩码
//
// 非信号帧（长度不为 4）返回 ok=false。
func (f Frame) Mask() (mask uint32, ok bool) {
	if len(f.Payload) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(f.Payload), true
}

// ============================================================================
//                              访问权限位
// ============================================================================

// Rights 句柄访问权限位掩码
type Rights uint32

const (
	// RightRead 允许读取
	RightRead Rights = 1 << iota
	// RightWrite 允许写入
	RightWrite
	// RightSignal 允许发送信号
	RightSignal
)

// RightsDefault 默认权限（读 + 写 + 信号）
const RightsDefault = RightRead | RightWrite | RightSignal

// ============================================================================
//                              StreamRef - 流引用
// ============================================================================

// StreamRef 对连接上某条流的引用
//
// Drain 非零时表示附带一条单向排空流：接收方必须先读尽排空流中
// 缓存的帧，再切换到主流。
type StreamRef struct {
	ID    StreamID `cbor:"1,keyasint"`
	Drain StreamID `cbor:"2,keyasint,omitempty"`
}

// HasDrain 检查引用是否附带排空流
func (r StreamRef) HasDrain() bool {
	return !r.Drain.IsZero()
}

// ============================================================================
//                         HandleDescription - 句柄描述
// ============================================================================

// HandleDescription 句柄跨网络的描述
//
// SendProxied 的产物、RecvProxied 的输入："该句柄现在位于这条流"。
// 由上层协议负责把描述送达对端。
type HandleDescription struct {
	Kind   HandleKind `cbor:"1,keyasint"`
	Ref    StreamRef  `cbor:"2,keyasint"`
	Rights Rights     `cbor:"3,keyasint"`
}
