package quic

import (
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              流适配
// ============================================================================

// stream 把 quic.Stream 适配成双向应用流
//
// QUIC 流 ID 在连接内唯一且两端一致，直接用作应用流 ID。
type stream struct {
	qs quic.Stream
}

var _ interfaces.Stream = (*stream)(nil)

func (s *stream) Read(b []byte) (int, error)  { return s.qs.Read(b) }
func (s *stream) Write(b []byte) (int, error) { return s.qs.Write(b) }

func (s *stream) ID() types.StreamID {
	return types.StreamID(s.qs.StreamID())
}

// CloseWrite 半关闭写端：QUIC 的 Close 只终结发送方向
func (s *stream) CloseWrite() error {
	return s.qs.Close()
}

func (s *stream) SetReadDeadline(t time.Time) error {
	return s.qs.SetReadDeadline(t)
}

// Close 关闭整条流：放弃读取并终结发送
func (s *stream) Close() error {
	s.qs.CancelRead(0)
	return s.qs.Close()
}

// sendStream 单向流的发送端适配
type sendStream struct {
	qs quic.SendStream
}

var _ interfaces.SendStream = (*sendStream)(nil)

func (s *sendStream) Write(b []byte) (int, error) { return s.qs.Write(b) }

func (s *sendStream) ID() types.StreamID {
	return types.StreamID(s.qs.StreamID())
}

func (s *sendStream) Close() error {
	return s.qs.Close()
}

// recvStream 单向流的接收端适配
type recvStream struct {
	qs quic.ReceiveStream
}

var _ interfaces.ReceiveStream = (*recvStream)(nil)

func (s *recvStream) Read(b []byte) (int, error) { return s.qs.Read(b) }

func (s *recvStream) ID() types.StreamID {
	return types.StreamID(s.qs.StreamID())
}

func (s *recvStream) CancelRead() {
	s.qs.CancelRead(0)
}
