package peer

import (
	"context"
	"sync"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                        claimTable - 流认领会合表
// ============================================================================

// claimTable 按流 ID 的一次性会合表
//
// 流先到则停驻等认领，认领先到则挂起等流；每个 ID 恰好
// 会合一次。表关闭后停驻的流交还调用方回收，挂起的认领
// 全部失败。
type claimTable[T any] struct {
	mu      sync.Mutex
	parked  map[types.StreamID]T
	waiting map[types.StreamID]chan T
	closed  bool
}

func newClaimTable[T any]() *claimTable[T] {
	return &claimTable[T]{
		parked:  make(map[types.StreamID]T),
		waiting: make(map[types.StreamID]chan T),
	}
}

// park 停驻一条入站流，或直接唤醒正在等它的认领者
func (t *claimTable[T]) park(id types.StreamID, s T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrPeerClosed
	}
	if w, ok := t.waiting[id]; ok {
		delete(t.waiting, id)
		w <- s
		return nil
	}
	if _, ok := t.parked[id]; ok {
		return ErrDuplicateStream
	}
	t.parked[id] = s
	return nil
}

// claim 认领 ID 对应的流；未到则挂起等待
func (t *claimTable[T]) claim(ctx context.Context, id types.StreamID) (T, error) {
	var zero T

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return zero, ErrPeerClosed
	}
	if s, ok := t.parked[id]; ok {
		delete(t.parked, id)
		t.mu.Unlock()
		return s, nil
	}
	if _, ok := t.waiting[id]; ok {
		t.mu.Unlock()
		return zero, ErrDuplicateClaim
	}
	w := make(chan T, 1)
	t.waiting[id] = w
	t.mu.Unlock()

	select {
	case s, ok := <-w:
		if !ok {
			return zero, ErrPeerClosed
		}
		return s, nil
	case <-ctx.Done():
		t.mu.Lock()
		// 放弃与送达竞态：流可能已在通道里
		if _, still := t.waiting[id]; still {
			delete(t.waiting, id)
			t.mu.Unlock()
			return zero, ctx.Err()
		}
		t.mu.Unlock()
		select {
		case s, ok := <-w:
			if ok {
				return s, nil
			}
		default:
		}
		return zero, ctx.Err()
	}
}

// close 关闭表：唤醒全部挂起认领并交还停驻的流
func (t *claimTable[T]) close() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for id, w := range t.waiting {
		delete(t.waiting, id)
		close(w)
	}
	orphans := make([]T, 0, len(t.parked))
	for id, s := range t.parked {
		delete(t.parked, id)
		orphans = append(orphans, s)
	}
	return orphans
}

// len 当前停驻的流数
func (t *claimTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.parked)
}
