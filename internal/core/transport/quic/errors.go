package quic

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("传输已关闭")

	// ErrNoAddress 地址簿中没有目标节点的地址
	ErrNoAddress = errors.New("地址簿中没有目标节点")

	// ErrNodeMismatch 对端证书身份与期望节点不符
	ErrNodeMismatch = errors.New("对端身份与期望节点不符")

	// ErrHelloRejected 对端拒绝问候
	ErrHelloRejected = errors.New("对端拒绝问候")

	// ErrNoLookup 对等体定位回调尚未装配
	ErrNoLookup = errors.New("对等体定位回调尚未装配")

	// ErrDuplicateArrival 同一连接标识的入站连接重复到达
	ErrDuplicateArrival = errors.New("入站连接标识重复")

	// ErrConnLost 连接意外断开（非本端主动关闭）
	ErrConnLost = errors.New("连接意外断开")
)
