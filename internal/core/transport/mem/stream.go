package mem

import (
	"sync"
	"time"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// maxDataChunk 单个数据报文携带的最大字节数
const maxDataChunk = 64 << 10

// writeChunks 把数据切块后逐报文发出
func writeChunks(c *Conn, id types.StreamID, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		end := sent + maxDataChunk
		if end > len(p) {
			end = len(p)
		}
		if err := c.send(c.ctx, packet{Kind: kindStreamData, Stream: id, Data: p[sent:end]}); err != nil {
			return sent, err
		}
		sent = end
	}
	return sent, nil
}

// ============================================================================
//                            stream - 双向流
// ============================================================================

// stream 连接上的一条双向流；两端各持一个实例，靠流标识对上
type stream struct {
	id   types.StreamID
	conn *Conn
	rb   *recvBuffer

	wmu     sync.Mutex
	wclosed bool

	once sync.Once
}

var _ interfaces.Stream = (*stream)(nil)

// ID 返回流在连接内的标识
func (s *stream) ID() types.StreamID {
	return s.id
}

// Read 从接收缓冲读取
func (s *stream) Read(p []byte) (int, error) {
	return s.rb.Read(p)
}

// Write 把数据作为流数据报文发往对端
func (s *stream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.wclosed {
		return 0, ErrStreamClosed
	}
	return writeChunks(s.conn, s.id, p)
}

// CloseWrite 半关闭写端：对端读尽后收到 EOF
func (s *stream) CloseWrite() error {
	s.wmu.Lock()
	if s.wclosed {
		s.wmu.Unlock()
		return nil
	}
	s.wclosed = true
	s.wmu.Unlock()
	return s.conn.send(s.conn.ctx, packet{Kind: kindStreamFin, Stream: s.id})
}

// SetReadDeadline 设置读截止时间；零值清除
func (s *stream) SetReadDeadline(t time.Time) error {
	s.rb.setDeadline(t)
	return nil
}

// Close 关闭整条流
//
// 写端以半关闭收尾（对端仍能读尽在途数据），读端就地终止。
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.CloseWrite()
		s.rb.abort()
		s.conn.dropStream(s.id)
	})
	return err
}

// ============================================================================
//                          单向流的两个半端
// ============================================================================

// sendHalf 单向流的发送端
type sendHalf struct {
	id   types.StreamID
	conn *Conn

	mu     sync.Mutex
	closed bool
}

var _ interfaces.SendStream = (*sendHalf)(nil)

// ID 返回流在连接内的标识
func (s *sendHalf) ID() types.StreamID {
	return s.id
}

// Write 把数据作为流数据报文发往对端
func (s *sendHalf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}
	return writeChunks(s.conn, s.id, p)
}

// Close 关闭发送端；对端读尽后收到 EOF
func (s *sendHalf) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.send(s.conn.ctx, packet{Kind: kindStreamFin, Stream: s.id})
}

// recvHalf 单向流的接收端
type recvHalf struct {
	id   types.StreamID
	conn *Conn
	rb   *recvBuffer
}

var _ interfaces.ReceiveStream = (*recvHalf)(nil)

// ID 返回流在连接内的标识
func (r *recvHalf) ID() types.StreamID {
	return r.id
}

// Read 从接收缓冲读取
func (r *recvHalf) Read(p []byte) (int, error) {
	return r.rb.Read(p)
}

// CancelRead 放弃读取剩余数据
//
// 终止只影响本端；对端之后送达的数据被静默丢弃。
func (r *recvHalf) CancelRead() {
	r.rb.abort()
	r.conn.dropStream(r.id)
}
