package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-varint"
)

// ============================================================================
//                              CBOR 编解码
// ============================================================================

// 报文与帧的线上限制
const (
	// MaxMessageSize 单条控制报文的最大编码长度
	MaxMessageSize = 4 << 20
	// MaxFrameSize 单帧载荷的最大长度
	MaxFrameSize = 1 << 20
)

// 编解码模式进程内只构造一次；两种模式都是并发安全的
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// 规范化编码：确定性输出，两端字节序一致
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: 构建 CBOR 编码模式失败: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 65536,
		MaxMapPairs:      65536,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: 构建 CBOR 解码模式失败: %v", err))
	}
}

// Marshal 编码 v 为规范化 CBOR 字节
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal 从 CBOR 字节解码到 v
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// ============================================================================
//                         长度前缀报文（varint + CBOR）
// ============================================================================

// WriteMsg 把 v 编码为 CBOR 并以 varint 长度前缀写入 w
func WriteMsg(w io.Writer, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d 字节超过上限 %d", ErrMessageTooLarge, len(data), MaxMessageSize)
	}
	if err := writeUvarint(w, uint64(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadMsg 从 r 读取一条 varint 长度前缀的 CBOR 报文并解码到 v
func ReadMsg(r io.Reader, v any) error {
	n, err := readUvarint(r)
	if err != nil {
		return err
	}
	if n > MaxMessageSize {
		return fmt.Errorf("%w: %d 字节超过上限 %d", ErrMessageTooLarge, n, MaxMessageSize)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// ============================================================================
//                              varint 辅助
// ============================================================================

// writeUvarint 写入一个最小编码的 varint
func writeUvarint(w io.Writer, x uint64) error {
	buf := make([]byte, varint.UvarintSize(x))
	n := varint.PutUvarint(buf, x)
	_, err := w.Write(buf[:n])
	return err
}

// readUvarint 从 r 逐字节读取一个 varint
//
// 逐字节读取保证不会越过 varint 边界预读报文内容，
// 因此同一 Reader 上可以混用本包的报文与帧读取。
func readUvarint(r io.Reader) (uint64, error) {
	return varint.ReadUvarint(&byteReader{r: r})
}

// byteReader 把 io.Reader 适配为 io.ByteReader
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}
