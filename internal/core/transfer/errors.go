package transfer

import "errors"

// ============================================================================
//                              传递错误
// ============================================================================

var (
	// ErrDuplicateTransferPost 同一令牌被二次投递
	//
	// 硬性违规：说明本核心之上的协议层破坏了"一令牌一次投递"的约定。
	ErrDuplicateTransferPost = errors.New("transfer: duplicate post for token")

	// ErrEmptyToken 令牌为空
	ErrEmptyToken = errors.New("transfer: empty token")

	// ErrEmptyValue 解析值未设置任何一端
	ErrEmptyValue = errors.New("transfer: value carries neither fused handle nor stream")
)
