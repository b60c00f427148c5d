package quic

import (
	"context"
	"sync"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                      arrivalTable - 入站连接会合表
// ============================================================================

// arrivalTable 按连接标识的入站连接会合表
//
// 传输的接受循环停驻完成问候的连接，对等体工厂按标识认领。
// 与流认领同构：先到的一方等待另一方。
type arrivalTable struct {
	mu      sync.Mutex
	parked  map[types.ConnectionID]*Conn
	waiting map[types.ConnectionID]chan *Conn
	closed  bool
}

func newArrivalTable() *arrivalTable {
	return &arrivalTable{
		parked:  make(map[types.ConnectionID]*Conn),
		waiting: make(map[types.ConnectionID]chan *Conn),
	}
}

// park 停驻一条入站连接，或直接唤醒正在等它的认领者
func (t *arrivalTable) park(id types.ConnectionID, c *Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if w, ok := t.waiting[id]; ok {
		delete(t.waiting, id)
		w <- c
		return nil
	}
	if _, ok := t.parked[id]; ok {
		return ErrDuplicateArrival
	}
	t.parked[id] = c
	return nil
}

// claim 认领标识对应的连接；未到则挂起等待
func (t *arrivalTable) claim(ctx context.Context, id types.ConnectionID) (*Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if c, ok := t.parked[id]; ok {
		delete(t.parked, id)
		t.mu.Unlock()
		return c, nil
	}
	if _, ok := t.waiting[id]; ok {
		t.mu.Unlock()
		return nil, ErrDuplicateArrival
	}
	w := make(chan *Conn, 1)
	t.waiting[id] = w
	t.mu.Unlock()

	select {
	case c, ok := <-w:
		if !ok {
			return nil, ErrTransportClosed
		}
		return c, nil
	case <-ctx.Done():
		t.mu.Lock()
		if _, still := t.waiting[id]; still {
			delete(t.waiting, id)
			t.mu.Unlock()
			return nil, ctx.Err()
		}
		t.mu.Unlock()
		// 放弃与送达竞态：连接可能已在通道里
		select {
		case c, ok := <-w:
			if ok {
				return c, nil
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// unpark 撤回尚未被认领的停驻连接
func (t *arrivalTable) unpark(id types.ConnectionID) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.parked[id]
	if !ok {
		return nil
	}
	delete(t.parked, id)
	return c
}

// close 关闭表：唤醒全部挂起认领并交还停驻的连接
func (t *arrivalTable) close() []*Conn {
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
	orphans := make([]*Conn, 0, len(t.parked))
	for id, c := range t.parked {
		delete(t.parked, id)
		orphans = append(orphans, c)
	}
	return orphans
}
