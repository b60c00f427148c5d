// Package handle 提供进程内句柄对的实现
//
// 句柄对是一个双向帧队列：一端写入的帧出现在另一端的读取队列。
// 每个半端带有进程级单调计数器铸造的身份键（koid），
// 两端互持对方的键，构成代理引擎索引所需的身份对。
package handle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// inboxCapacity 半端接收队列的容量
const inboxCapacity = 64

// koidCounter 进程级身份键计数器，启动时初始化一次，绝不重置
//
// 第一次取值为 1：HandleKey 零值保留为"无身份"。
var koidCounter atomic.Uint64

// nextKoid 铸造一个新的身份键
func nextKoid() types.HandleKey {
	return types.HandleKey(koidCounter.Add(1))
}

// ============================================================================
//                              Half - 句柄半端
// ============================================================================

// Half 句柄对的一端
type Half struct {
	kind   types.HandleKind
	rights types.Rights

	// koid 本端身份键；peerKoid 对端身份键
	koid     types.HandleKey
	peerKoid types.HandleKey

	peer  *Half
	inbox chan types.Frame

	closeOnce sync.Once
	closed    chan struct{}
}

var _ interfaces.Handle = (*Half)(nil)

// NewPair 创建指定类型的句柄对
//
// 两端互为对端：a 写入的帧从 b 读出，反之亦然。
func NewPair(kind types.HandleKind) (*Half, *Half, error) {
	if !kind.Valid() {
		return nil, nil, ErrBadHandleKind
	}
	a := &Half{
		kind:   kind,
		rights: types.RightsDefault,
		koid:   nextKoid(),
		inbox:  make(chan types.Frame, inboxCapacity),
		closed: make(chan struct{}),
	}
	b := &Half{
		kind:   kind,
		rights: types.RightsDefault,
		koid:   nextKoid(),
		inbox:  make(chan types.Frame, inboxCapacity),
		closed: make(chan struct{}),
	}
	a.peer, b.peer = b, a
	a.peerKoid, b.peerKoid = b.koid, a.koid
	return a, b, nil
}

// Kind 返回句柄类型
func (h *Half) Kind() types.HandleKind {
	return h.kind
}

// Rights 返回句柄的访问权限位
func (h *Half) Rights() types.Rights {
	return h.rights
}

// Identity 返回本端的身份对
func (h *Half) Identity() types.HandleIdentity {
	return types.HandleIdentity{This: h.koid, Pair: h.peerKoid}
}

// WriteFrame 向对端写入一帧
func (h *Half) WriteFrame(ctx context.Context, f types.Frame) error {
	if h.IsClosed() {
		return ErrHandleClosed
	}
	select {
	case h.peer.inbox <- f:
		return nil
	case <-h.closed:
		return ErrHandleClosed
	case <-h.peer.closed:
		return ErrHandlePeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadFrame 读取对端写入的一帧
//
// 对端关闭后仍先读尽已入队的帧，之后返回 ErrHandlePeerClosed。
func (h *Half) ReadFrame(ctx context.Context) (types.Frame, error) {
	// 积压优先：即使两端都已关闭，已入队的帧仍可读出
	select {
	case f := <-h.inbox:
		return f, nil
	default:
	}
	select {
	case f := <-h.inbox:
		return f, nil
	case <-h.closed:
		return types.Frame{}, ErrHandleClosed
	case <-h.peer.closed:
		// 末帧与关闭信号可能同时就绪，补读一次
		select {
		case f := <-h.inbox:
			return f, nil
		default:
		}
		return types.Frame{}, ErrHandlePeerClosed
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

// TryReadFrame 非阻塞读取一帧
func (h *Half) TryReadFrame() (types.Frame, bool) {
	select {
	case f := <-h.inbox:
		return f, true
	default:
		return types.Frame{}, false
	}
}

// IsClosed 报告本端是否已关闭
func (h *Half) IsClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// Done 返回本端关闭时被 close 的通道
func (h *Half) Done() <-chan struct{} {
	return h.closed
}

// Close 关闭本端
//
// 幂等。对端此后写入失败；对端读尽积压后收到 ErrHandlePeerClosed。
func (h *Half) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
	})
	return nil
}
