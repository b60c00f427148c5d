package handle

import "errors"

// ============================================================================
//                              句柄错误
// ============================================================================

var (
	// ErrHandleClosed 本端已关闭
	ErrHandleClosed = errors.New("handle: closed")

	// ErrHandlePeerClosed 对端已关闭且队列已读尽
	ErrHandlePeerClosed = errors.New("handle: peer closed")

	// ErrForeignHandle 句柄不是本运行时创建的
	ErrForeignHandle = errors.New("handle: foreign handle implementation")

	// ErrBadHandleKind 未知的句柄类型
	ErrBadHandleKind = errors.New("handle: bad handle kind")
)
