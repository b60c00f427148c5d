package wire

import (
	"fmt"
	"io"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                           泵送帧的流上编码
// ============================================================================
//
// 代理承载流与排空流上的帧不经过 CBOR：载荷本身已经不透明，
// 只需 varint 长度前缀。一帧即一条 Payload。

// WriteFrame 把一帧写入 w
func WriteFrame(w io.Writer, f types.Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d 字节超过上限 %d", ErrFrameTooLarge, len(f.Payload), MaxFrameSize)
	}
	if err := writeUvarint(w, uint64(len(f.Payload))); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame 从 r 读取一帧
//
// 流正常结束（恰好在帧边界上收到 EOF）返回 io.EOF；
// 帧中途断流返回 io.ErrUnexpectedEOF。
func ReadFrame(r io.Reader) (types.Frame, error) {
	n, err := readUvarint(r)
	if err != nil {
		if err == io.EOF {
			return types.Frame{}, io.EOF
		}
		return types.Frame{}, err
	}
	if n > MaxFrameSize {
		return types.Frame{}, fmt.Errorf("%w: %d 字节超过上限 %d", ErrFrameTooLarge, n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return types.Frame{}, err
		}
	}
	return types.Frame{Payload: payload}, nil
}

// ============================================================================
//                           链路帧的编解码
// ============================================================================

// EncodeLinkFrame 编码一条链路帧
func EncodeLinkFrame(f types.LinkFrame) ([]byte, error) {
	return Marshal(f)
}

// DecodeLinkFrame 解码一条链路帧
func DecodeLinkFrame(data []byte) (types.LinkFrame, error) {
	var f types.LinkFrame
	if err := Unmarshal(data, &f); err != nil {
		return types.LinkFrame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return f, nil
}
