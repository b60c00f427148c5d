package peer

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrPeerClosed 对等体已关闭
	ErrPeerClosed = errors.New("对等体已关闭")

	// ErrDuplicateStream 同一流 ID 被二次停驻（协议违规）
	ErrDuplicateStream = errors.New("流 ID 重复停驻")

	// ErrDuplicateClaim 同一流 ID 被并发二次认领（协议违规）
	ErrDuplicateClaim = errors.New("流 ID 重复认领")

	// ErrServiceRejected 远端拒绝服务接入
	ErrServiceRejected = errors.New("远端拒绝服务接入")

	// ErrTransferRejected 远端拒绝传递会合
	ErrTransferRejected = errors.New("远端拒绝传递会合")

	// ErrBadRole 未知对等体角色
	ErrBadRole = errors.New("未知对等体角色")

	// ErrNodeMismatch 连接身份与期望节点不符
	ErrNodeMismatch = errors.New("连接身份与期望节点不符")
)
