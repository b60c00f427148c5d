package mem

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"
)

// ============================================================================
//                          recvBuffer - 接收缓冲
// ============================================================================

// recvBuffer 流的接收缓冲
//
// 写入来自帧分发，绝不阻塞；读取来自应用，支持截止时间。
// 缓冲无界：链路帧没有流控，靠上层协议自律。
type recvBuffer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	buf   bytes.Buffer
	eof   bool
	reset bool
	terr  error
	dead  bool
	timer *time.Timer
}

func newRecvBuffer() *recvBuffer {
	b := &recvBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push 追加对端送来的数据
//
// 半关闭或终止之后到达的数据直接丢弃。
func (b *recvBuffer) push(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reset || b.eof {
		return
	}
	b.buf.Write(data)
	b.cond.Broadcast()
}

// finish 记录对端写端关闭：残余数据读尽后返回 EOF
func (b *recvBuffer) finish() {
	b.mu.Lock()
	b.eof = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// fail 以 err 终止读取并丢弃缓冲数据
func (b *recvBuffer) fail(err error) {
	b.mu.Lock()
	if !b.reset {
		b.reset = true
		b.terr = err
		b.buf.Reset()
		b.cond.Broadcast()
	}
	b.mu.Unlock()
}

// abort 终止读取；后续读返回 ErrStreamReset
func (b *recvBuffer) abort() {
	b.fail(ErrStreamReset)
}

// Read 实现 io.Reader；缓冲数据优先于任何终态
func (b *recvBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.reset {
			return 0, b.terr
		}
		if b.buf.Len() > 0 {
			return b.buf.Read(p)
		}
		if b.dead {
			return 0, os.ErrDeadlineExceeded
		}
		if b.eof {
			return 0, io.EOF
		}
		b.cond.Wait()
	}
}

// setDeadline 设置读截止时间；零值清除
func (b *recvBuffer) setDeadline(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if t.IsZero() {
		b.dead = false
		return
	}
	d := time.Until(t)
	if d <= 0 {
		b.dead = true
		b.cond.Broadcast()
		return
	}
	b.dead = false
	b.timer = time.AfterFunc(d, func() {
		b.mu.Lock()
		b.dead = true
		b.cond.Broadcast()
		b.mu.Unlock()
	})
}
