package wire

import "errors"

// ============================================================================
//                              编解码错误
// ============================================================================

var (
	// ErrEncode 编码失败
	ErrEncode = errors.New("wire: encode failed")

	// ErrDecode 解码失败
	ErrDecode = errors.New("wire: decode failed")

	// ErrMessageTooLarge 报文超过长度上限
	ErrMessageTooLarge = errors.New("wire: message too large")

	// ErrFrameTooLarge 帧载荷超过长度上限
	ErrFrameTooLarge = errors.New("wire: frame too large")
)
