// Package proxy 实现句柄跨网络代理
//
// 一个代理条目对应一个后台泵任务：在本地句柄与网络流之间双向
// 泵送帧，直到任一侧关闭、网络丢失或一次交接把它重新定向。
//
// 两条硬性不变量：
//   - 同一句柄端在任何时刻至多一个代理条目（先分配流、后登记条目，
//     失败路径不留表残余）
//   - 条目键是被泵送句柄的本端键，记录的对端键用于配对折叠时核对
package proxy

import (
	"context"
	"sync"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("core/proxy")

// ============================================================================
//                              entry - 代理条目
// ============================================================================

// transferCmd 配对折叠的交接命令
//
// paired 是正被发送的句柄（被泵送句柄的对端）；drain 是在目标连接上
// 新开的排空流；replyC 承载旧任务重新定向后交回的流引用，容量为一，
// 任务收下命令后必定应答。
type transferCmd struct {
	paired interfaces.Handle
	drain  interfaces.SendStream
	replyC chan types.StreamRef
}

// fuseCmd 同节点熔合命令
//
// bridge 是新句柄对的网络半端；drain 是随描述到达的排空流（可为 nil）。
// 收到命令的任务放弃网络流，转为 bridge 与自身句柄之间的本地桥。
type fuseCmd struct {
	bridge interfaces.Handle
	drain  interfaces.ReceiveStream
}

// entry 代理表条目
type entry struct {
	// key 被泵送句柄的本端键；pairKey 记录的对端键
	key     types.HandleKey
	pairKey types.HandleKey

	// conn/streamID 承载流的位置，用于同节点熔合的反向索引
	conn     types.ConnectionID
	streamID types.StreamID

	transferC chan transferCmd
	fuseC     chan fuseCmd

	cancelOnce sync.Once
	cancelC    chan struct{}

	// removed 条目生命周期结束的一次性通知，由任务在退出前 close
	removed chan struct{}
}

func newEntry(id types.HandleIdentity, conn types.ConnectionID, streamID types.StreamID) *entry {
	return &entry{
		key:       id.This,
		pairKey:   id.Pair,
		conn:      conn,
		streamID:  streamID,
		transferC: make(chan transferCmd),
		fuseC:     make(chan fuseCmd),
		cancelC:   make(chan struct{}),
		removed:   make(chan struct{}),
	}
}

// cancel 发出协作取消信号，幂等
func (e *entry) cancel() {
	e.cancelOnce.Do(func() {
		close(e.cancelC)
	})
}

// streamKey 承载流的连接内定位
type streamKey struct {
	conn types.ConnectionID
	id   types.StreamID
}

// ============================================================================
//                              Engine - 代理引擎
// ============================================================================

// Engine 句柄代理引擎
type Engine struct {
	mu       sync.Mutex
	entries  map[types.HandleKey]*entry
	byStream map[streamKey]*entry

	runtime interfaces.HandleRuntime
	metrics *metrics.Metrics
}

// NewEngine 创建代理引擎
func NewEngine(rt interfaces.HandleRuntime, m *metrics.Metrics) *Engine {
	return &Engine{
		entries:  make(map[types.HandleKey]*entry),
		byStream: make(map[streamKey]*entry),
		runtime:  rt,
		metrics:  m,
	}
}

// SendProxied 把句柄 h 代理到端点 ep，返回其网络描述
//
// 对端键已有条目时走配对折叠：不产生新的后台工作，旧任务交回
// 流引用并退出，句柄对整体离开本节点。否则分配新承载流并启动
// 泵任务。
func (e *Engine) SendProxied(ctx context.Context, h interfaces.Handle, ep interfaces.ProxyEndpoint) (types.HandleDescription, error) {
	id, err := e.runtime.Identity(h)
	if err != nil {
		return types.HandleDescription{}, err
	}

	e.mu.Lock()
	sibling, ok := e.entries[id.Pair]
	if ok && sibling.pairKey != id.This {
		e.mu.Unlock()
		logger.Error("配对折叠核对失败",
			"this", id.This, "pair", id.Pair, "recorded", sibling.pairKey)
		return types.HandleDescription{}, ErrPairMismatch
	}
	e.mu.Unlock()

	if ok {
		return e.collapse(ctx, h, id, sibling, ep)
	}

	// 常规路径：先分配承载流，成功后才登记条目
	s, err := ep.OpenProxyStream(ctx)
	if err != nil {
		return types.HandleDescription{}, err
	}
	ent := newEntry(id, ep.ConnectionID(), s.ID())
	if err := e.insert(ent); err != nil {
		_ = s.Close()
		return types.HandleDescription{}, err
	}
	e.spawn(ent, h, s, nil)

	logger.Debug("句柄代理启动",
		"key", id.This, "conn", ep.ConnectionID().ShortString(), "stream", s.ID())
	return types.HandleDescription{
		Kind:   h.Kind(),
		Ref:    types.StreamRef{ID: s.ID()},
		Rights: h.Rights(),
	}, nil
}

// collapse 配对折叠：句柄的对端已在被代理，交接而非新建
func (e *Engine) collapse(ctx context.Context, h interfaces.Handle, id types.HandleIdentity, sibling *entry, ep interfaces.ProxyEndpoint) (types.HandleDescription, error) {
	drain, err := ep.OpenDrainStream(ctx)
	if err != nil {
		return types.HandleDescription{}, err
	}

	replyC := make(chan types.StreamRef, 1)
	cmd := transferCmd{paired: h, drain: drain, replyC: replyC}

	select {
	case sibling.transferC <- cmd:
	case <-sibling.removed:
		_ = drain.Close()
		return types.HandleDescription{}, ErrTransferCancelled
	case <-ctx.Done():
		_ = drain.Close()
		return types.HandleDescription{}, ctx.Err()
	}

	select {
	case ref := <-replyC:
		if e.metrics != nil {
			e.metrics.ProxyCollapses.Inc()
		}
		logger.Debug("配对折叠完成",
			"key", id.This, "stream", ref.ID, "drain", drain.ID())
		return types.HandleDescription{
			Kind:   h.Kind(),
			Ref:    types.StreamRef{ID: ref.ID, Drain: drain.ID()},
			Rights: h.Rights(),
		}, nil
	case <-sibling.removed:
		// 任务可能在应答后立刻退出：应答通道有缓冲，补收一次
		select {
		case ref := <-replyC:
			if e.metrics != nil {
				e.metrics.ProxyCollapses.Inc()
			}
			return types.HandleDescription{
				Kind:   h.Kind(),
				Ref:    types.StreamRef{ID: ref.ID, Drain: drain.ID()},
				Rights: h.Rights(),
			}, nil
		default:
		}
		return types.HandleDescription{}, ErrTransferCancelled
	case <-ctx.Done():
		return types.HandleDescription{}, ctx.Err()
	}
}

// RecvProxied 按描述在本端恢复句柄
//
// 创建新句柄对，认领描述所指的流，启动泵任务，返回应用半端。
// 描述指向本节点某条目自己的承载流时走同节点熔合：既有任务转为
// 本地桥，不产生新的条目与后台工作。
func (e *Engine) RecvProxied(ctx context.Context, desc types.HandleDescription, ep interfaces.ProxyEndpoint) (interfaces.Handle, error) {
	if !desc.Kind.Valid() || desc.Ref.ID.IsZero() {
		return nil, ErrBadDescription
	}

	app, network, err := e.runtime.NewPair(desc.Kind)
	if err != nil {
		return nil, err
	}

	// 同节点熔合：描述指回本节点代理条目自己的流
	e.mu.Lock()
	owner := e.byStream[streamKey{conn: ep.ConnectionID(), id: desc.Ref.ID}]
	e.mu.Unlock()
	if owner != nil {
		if err := e.fuseInto(ctx, owner, network, desc, ep); err != nil {
			_ = app.Close()
			_ = network.Close()
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.ProxyFuses.Inc()
		}
		logger.Debug("同节点熔合", "stream", desc.Ref.ID, "key", owner.key)
		return app, nil
	}

	s, err := ep.ClaimStream(ctx, desc.Ref.ID)
	if err != nil {
		_ = app.Close()
		_ = network.Close()
		return nil, err
	}
	var drain interfaces.ReceiveStream
	if desc.Ref.HasDrain() {
		drain, err = ep.ClaimDrain(ctx, desc.Ref.Drain)
		if err != nil {
			_ = s.Close()
			_ = app.Close()
			_ = network.Close()
			return nil, err
		}
	}

	id, err := e.runtime.Identity(network)
	if err != nil {
		_ = s.Close()
		_ = app.Close()
		_ = network.Close()
		return nil, err
	}
	ent := newEntry(id, ep.ConnectionID(), s.ID())
	if err := e.insert(ent); err != nil {
		_ = s.Close()
		_ = app.Close()
		_ = network.Close()
		return nil, err
	}
	e.spawn(ent, network, s, drain)

	logger.Debug("句柄代理恢复",
		"key", id.This, "conn", ep.ConnectionID().ShortString(), "stream", s.ID())
	return app, nil
}

// fuseInto 把描述交给拥有该流的既有任务，令其转为本地桥
func (e *Engine) fuseInto(ctx context.Context, owner *entry, bridge interfaces.Handle, desc types.HandleDescription, ep interfaces.ProxyEndpoint) error {
	var drain interfaces.ReceiveStream
	if desc.Ref.HasDrain() {
		var err error
		drain, err = ep.ClaimDrain(ctx, desc.Ref.Drain)
		if err != nil {
			return err
		}
	}

	select {
	case owner.fuseC <- fuseCmd{bridge: bridge, drain: drain}:
		return nil
	case <-owner.removed:
		if drain != nil {
			drain.CancelRead()
		}
		return ErrTransferCancelled
	case <-ctx.Done():
		if drain != nil {
			drain.CancelRead()
		}
		return ctx.Err()
	}
}

// CancelEntries 移除并协作取消给定键的条目，返回命中数
//
// 本地熔合消费句柄前调用：句柄两端即将都在本节点落定，
// 相关的网络代理不再有意义。
func (e *Engine) CancelEntries(keys ...types.HandleKey) int {
	e.mu.Lock()
	var hit []*entry
	for _, k := range keys {
		if ent, ok := e.entries[k]; ok {
			e.unmapLocked(ent)
			hit = append(hit, ent)
		}
	}
	e.mu.Unlock()

	for _, ent := range hit {
		ent.cancel()
	}
	if len(hit) > 0 {
		logger.Debug("代理条目取消", "count", len(hit))
	}
	return len(hit)
}

// EntryCount 返回当前条目数（诊断用）
func (e *Engine) EntryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// HasEntry 报告给定键是否有条目（诊断用）
func (e *Engine) HasEntry(k types.HandleKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[k]
	return ok
}

// ============================================================================
//                              表内务
// ============================================================================

// insert 登记条目；键已占用返回 ErrProxyCollision
func (e *Engine) insert(ent *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[ent.key]; ok {
		logger.Error("代理表键冲突", "key", ent.key)
		return ErrProxyCollision
	}
	e.entries[ent.key] = ent
	e.byStream[streamKey{conn: ent.conn, id: ent.streamID}] = ent
	if e.metrics != nil {
		e.metrics.ProxyEntries.Inc()
	}
	return nil
}

// remove 任务退出时移除自己的条目，核对记录的对端键
//
// 条目已被取消移除时为空操作。
func (e *Engine) remove(ent *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.entries[ent.key]
	if !ok || cur != ent {
		return
	}
	if cur.pairKey != ent.pairKey {
		logger.Error("移除时对端键不符", "key", ent.key,
			"recorded", cur.pairKey, "expected", ent.pairKey)
		return
	}
	e.unmapLocked(ent)
}

// unmapLocked 从两个索引中摘除条目，调用方持锁
func (e *Engine) unmapLocked(ent *entry) {
	delete(e.entries, ent.key)
	delete(e.byStream, streamKey{conn: ent.conn, id: ent.streamID})
	if e.metrics != nil {
		e.metrics.ProxyEntries.Dec()
	}
}

// spawn 启动泵任务
func (e *Engine) spawn(ent *entry, h interfaces.Handle, s interfaces.Stream, predrain interfaces.ReceiveStream) {
	t := &task{
		eng:      e,
		ent:      ent,
		h:        h,
		stream:   s,
		predrain: predrain,
	}
	if e.metrics != nil {
		e.metrics.ProxyTasksStarted.Inc()
	}
	go t.run()
}
