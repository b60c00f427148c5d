package registry

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrLoopbackPeer 不允许与本节点自身建立对等体
	ErrLoopbackPeer = errors.New("拒绝回环对等体：目标就是本节点")

	// ErrNodeIDMismatch 表项记录的节点与请求声称的节点不符（硬性违规）
	ErrNodeIDMismatch = errors.New("对等体节点标识不符")

	// ErrUnknownConnection 后续报文指向未登记的连接
	ErrUnknownConnection = errors.New("未知连接：非发起报文不建立对等体")

	// ErrRegistryClosed 注册表已关闭
	ErrRegistryClosed = errors.New("对等体注册表已关闭")
)
