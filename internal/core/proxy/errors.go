package proxy

import "errors"

// ============================================================================
//                              代理错误
// ============================================================================

var (
	// ErrProxyCollision 代理表键冲突
	//
	// 不变量违规：同一句柄端在表中已有条目，说明同一端被二次代理。
	ErrProxyCollision = errors.New("proxy: table key collision")

	// ErrPairMismatch 条目记录的对端键与期望不符
	//
	// 不变量违规：代理表的账目被破坏。
	ErrPairMismatch = errors.New("proxy: recorded pair key mismatch")

	// ErrTransferCancelled 交接对象在应答前终止
	//
	// 与其他不变量错误不同：这是协作取消，调用方可按常规错误处理。
	ErrTransferCancelled = errors.New("proxy: transfer cancelled")

	// ErrBadDescription 句柄描述无效
	ErrBadDescription = errors.New("proxy: bad handle description")
)
