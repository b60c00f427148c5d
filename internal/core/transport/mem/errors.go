package mem

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("传输已关闭")

	// ErrLoopbackDial 不允许拨向本节点
	ErrLoopbackDial = errors.New("拒绝回环拨号：目标就是本节点")

	// ErrHelloRejected 对端拒绝问候
	ErrHelloRejected = errors.New("对端拒绝问候")

	// ErrNoLookup 对等体定位回调尚未装配
	ErrNoLookup = errors.New("对等体定位回调尚未装配")

	// ErrDuplicateArrival 同一连接标识的入站连接重复到达
	ErrDuplicateArrival = errors.New("入站连接标识重复")

	// ErrDuplicateConn 连接标识已被既有连接占用
	ErrDuplicateConn = errors.New("连接标识已被占用")

	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("连接已关闭")

	// ErrConnLost 连接被对端关闭或意外断开
	ErrConnLost = errors.New("连接意外断开")

	// ErrStreamClosed 流写端已关闭
	ErrStreamClosed = errors.New("流写端已关闭")

	// ErrStreamReset 流读取被终止
	ErrStreamReset = errors.New("流已终止")

	// ErrBadPacket 帧载荷不是合法报文
	ErrBadPacket = errors.New("帧载荷解码失败")

	// ErrUnknownConn 后续报文指向本节点没有记录的连接
	ErrUnknownConn = errors.New("报文指向未知连接")

	// ErrSourceMismatch 报文源节点与连接归属不符
	ErrSourceMismatch = errors.New("报文源节点与连接归属不符")
)
