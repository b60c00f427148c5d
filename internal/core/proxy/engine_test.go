package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-fabric/internal/core/handle"
	"github.com/dep2p/go-fabric/internal/core/wire"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

func TestSendProxied(t *testing.T) {
	t.Run("启动代理并双向泵送", func(t *testing.T) {
		eng, conn, ep := newTestEngine()
		p1, p2 := mustPair(t)

		desc, err := eng.SendProxied(context.Background(), p2, ep)
		require.NoError(t, err)
		assert.Equal(t, types.HandleKindChannel, desc.Kind)
		assert.Equal(t, types.RightsDefault, desc.Rights)
		assert.False(t, desc.Ref.ID.IsZero())
		assert.False(t, desc.Ref.HasDrain())
		assert.Equal(t, 1, eng.EntryCount())

		far := mustTake(t, conn, desc.Ref.ID)

		// 应用 → 网络
		require.NoError(t, p1.WriteFrame(context.Background(), pf("出站")))
		assert.Equal(t, pf("出站"), recvFrame(t, far))

		// 网络 → 应用
		require.NoError(t, wire.WriteFrame(far, pf("入站")))
		assert.Equal(t, pf("入站"), readHandle(t, p1))
	})

	t.Run("同一句柄重复代理返回冲突", func(t *testing.T) {
		eng, _, ep := newTestEngine()
		_, p2 := mustPair(t)

		_, err := eng.SendProxied(context.Background(), p2, ep)
		require.NoError(t, err)

		_, err = eng.SendProxied(context.Background(), p2, ep)
		require.ErrorIs(t, err, ErrProxyCollision)
		assert.Equal(t, 1, eng.EntryCount())
	})

	t.Run("承载流打开失败不留残余", func(t *testing.T) {
		eng, conn, ep := newTestEngine()
		p1, p2 := mustPair(t)

		conn.failOpen = fmt.Errorf("连接已断开")
		_, err := eng.SendProxied(context.Background(), p2, ep)
		require.Error(t, err)
		assert.Equal(t, 0, eng.EntryCount())

		// 失败不在表中留键：恢复后同一句柄可以正常代理
		conn.failOpen = nil
		desc, err := eng.SendProxied(context.Background(), p2, ep)
		require.NoError(t, err)
		assert.Equal(t, 1, eng.EntryCount())

		far := mustTake(t, conn, desc.Ref.ID)
		require.NoError(t, p1.WriteFrame(context.Background(), pf("通")))
		assert.Equal(t, pf("通"), recvFrame(t, far))
	})
}

func TestPairingCollapse(t *testing.T) {
	eng, conn, ep := newTestEngine()
	p1, p2 := mustPair(t)

	desc1, err := eng.SendProxied(context.Background(), p2, ep)
	require.NoError(t, err)
	far := mustTake(t, conn, desc1.Ref.ID)

	// 应用侧积压：写入后无人读取旧流，帧滞留在承载流缓冲里
	require.NoError(t, p1.WriteFrame(context.Background(), pf("尾帧")))

	// 网络侧积压：对端写入的帧经泵送落入 p1 的接收队列，无人读取
	require.NoError(t, wire.WriteFrame(far, pf("积压一")))
	require.NoError(t, wire.WriteFrame(far, pf("积压二")))
	require.Eventually(t, func() bool {
		return conn.pending(desc1.Ref.ID) == 0
	}, time.Second, 5*time.Millisecond, "入站泵未消费完承载流")

	// 发送对端句柄触发配对折叠
	desc2, err := eng.SendProxied(context.Background(), p1, ep)
	require.NoError(t, err)
	assert.Equal(t, desc1.Ref.ID, desc2.Ref.ID, "折叠应交回原承载流引用")
	require.True(t, desc2.Ref.HasDrain())
	assert.Equal(t, types.HandleKindChannel, desc2.Kind)

	// 旧流：先读到冲刷的应用侧积压，随后是半关闭的 EOF
	assert.Equal(t, pf("尾帧"), recvFrame(t, far))
	expectEOF(t, far)

	// 排空流：网络侧积压按序送达，然后 EOF
	drainFar := mustTake(t, conn, desc2.Ref.Drain)
	assert.Equal(t, pf("积压一"), recvFrame(t, drainFar))
	assert.Equal(t, pf("积压二"), recvFrame(t, drainFar))
	expectEOF(t, drainFar)

	// 任务退出：条目清空，两个本地半端都被关闭
	require.Eventually(t, func() bool {
		return eng.EntryCount() == 0
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return p1.IsClosed() && p2.IsClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestCollapseOnRemovedEntry(t *testing.T) {
	eng, _, ep := newTestEngine()
	p1, p2 := mustPair(t)

	_, err := eng.SendProxied(context.Background(), p2, ep)
	require.NoError(t, err)

	id2, err := eng.runtime.Identity(p2)
	require.NoError(t, err)
	eng.mu.Lock()
	sibling := eng.entries[id2.This]
	eng.mu.Unlock()
	require.NotNil(t, sibling)

	// 条目在交接开始前消亡：折叠必须干净地报告取消
	require.Equal(t, 1, eng.CancelEntries(id2.This))
	select {
	case <-sibling.removed:
	case <-time.After(time.Second):
		t.Fatal("取消后任务未释放条目")
	}

	id1, err := eng.runtime.Identity(p1)
	require.NoError(t, err)
	_, err = eng.collapse(context.Background(), p1, id1, sibling, ep)
	require.ErrorIs(t, err, ErrTransferCancelled)
}

func TestRecvProxied(t *testing.T) {
	t.Run("恢复句柄并双向泵送", func(t *testing.T) {
		eng, conn, ep := newTestEngine()
		local := conn.open()

		desc := types.HandleDescription{
			Kind:   types.HandleKindChannel,
			Ref:    types.StreamRef{ID: local.ID()},
			Rights: types.RightsDefault,
		}
		app, err := eng.RecvProxied(context.Background(), desc, ep)
		require.NoError(t, err)
		assert.Equal(t, 1, eng.EntryCount())
		assert.Equal(t, types.HandleKindChannel, app.Kind())

		require.NoError(t, wire.WriteFrame(local, pf("入站")))
		assert.Equal(t, pf("入站"), readHandle(t, app))

		require.NoError(t, app.WriteFrame(context.Background(), pf("出站")))
		assert.Equal(t, pf("出站"), recvFrame(t, local))
	})

	t.Run("排空流先于主流送达", func(t *testing.T) {
		eng, conn, ep := newTestEngine()
		local := conn.open()
		drainLocal := conn.open()

		// 主流帧先写入，排空帧后写入：应用仍必须先看到排空帧
		require.NoError(t, wire.WriteFrame(local, pf("主流")))
		require.NoError(t, wire.WriteFrame(drainLocal, pf("排空一")))
		require.NoError(t, wire.WriteFrame(drainLocal, pf("排空二")))
		require.NoError(t, drainLocal.CloseWrite())

		desc := types.HandleDescription{
			Kind:   types.HandleKindChannel,
			Ref:    types.StreamRef{ID: local.ID(), Drain: drainLocal.ID()},
			Rights: types.RightsDefault,
		}
		app, err := eng.RecvProxied(context.Background(), desc, ep)
		require.NoError(t, err)

		assert.Equal(t, pf("排空一"), readHandle(t, app))
		assert.Equal(t, pf("排空二"), readHandle(t, app))
		assert.Equal(t, pf("主流"), readHandle(t, app))
	})

	t.Run("非法描述被拒绝", func(t *testing.T) {
		eng, _, ep := newTestEngine()

		_, err := eng.RecvProxied(context.Background(), types.HandleDescription{
			Kind: types.HandleKind(99),
			Ref:  types.StreamRef{ID: 7},
		}, ep)
		require.ErrorIs(t, err, ErrBadDescription)

		_, err = eng.RecvProxied(context.Background(), types.HandleDescription{
			Kind: types.HandleKindChannel,
		}, ep)
		require.ErrorIs(t, err, ErrBadDescription)
		assert.Equal(t, 0, eng.EntryCount())
	})

	t.Run("认领失败不留残余", func(t *testing.T) {
		eng, _, ep := newTestEngine()

		_, err := eng.RecvProxied(context.Background(), types.HandleDescription{
			Kind:   types.HandleKindChannel,
			Ref:    types.StreamRef{ID: 404},
			Rights: types.RightsDefault,
		}, ep)
		require.Error(t, err)
		assert.Equal(t, 0, eng.EntryCount())
	})
}

func TestSameNodeFuse(t *testing.T) {
	// 两个引擎共享一条连接，扮演两个节点
	conn := newFakeConn()
	ep := &fakeEndpoint{c: conn}
	engA := NewEngine(handle.NewRuntime(), nil)
	engB := NewEngine(handle.NewRuntime(), nil)

	p1, p2 := mustPair(t)

	// A 把 p2 代理给 B，B 恢复出 q1
	descAB, err := engA.SendProxied(context.Background(), p2, ep)
	require.NoError(t, err)
	q1, err := engB.RecvProxied(context.Background(), descAB, ep)
	require.NoError(t, err)

	// 两跳中继畅通
	require.NoError(t, p1.WriteFrame(context.Background(), pf("去")))
	assert.Equal(t, pf("去"), readHandle(t, q1))
	require.NoError(t, q1.WriteFrame(context.Background(), pf("回")))
	assert.Equal(t, pf("回"), readHandle(t, p1))

	// 滞留一帧在 q1 的接收队列：折叠时它将经排空流回到新持有者
	require.NoError(t, p1.WriteFrame(context.Background(), pf("滞留")))
	require.Eventually(t, func() bool {
		return conn.pending(descAB.Ref.ID) == 0
	}, time.Second, 5*time.Millisecond)

	// B 把 q1 送回 A：折叠交回同一条承载流的引用
	descBA, err := engB.SendProxied(context.Background(), q1, ep)
	require.NoError(t, err)
	assert.Equal(t, descAB.Ref.ID, descBA.Ref.ID)
	require.True(t, descBA.Ref.HasDrain())

	// A 发现描述指回自己的承载流，熔合为本地桥
	r1, err := engA.RecvProxied(context.Background(), descBA, ep)
	require.NoError(t, err)

	// 排空帧先到，之后本地桥直通
	assert.Equal(t, pf("滞留"), readHandle(t, r1))
	require.NoError(t, p1.WriteFrame(context.Background(), pf("本地去")))
	assert.Equal(t, pf("本地去"), readHandle(t, r1))
	require.NoError(t, r1.WriteFrame(context.Background(), pf("本地回")))
	assert.Equal(t, pf("本地回"), readHandle(t, p1))

	// 两侧条目都已离场，后台不再有网络泵
	require.Eventually(t, func() bool {
		return engA.EntryCount() == 0 && engB.EntryCount() == 0
	}, time.Second, 5*time.Millisecond)

	// 一侧关闭沿本地桥传播到另一侧
	require.NoError(t, p1.Close())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = r1.ReadFrame(ctx)
	require.ErrorIs(t, err, handle.ErrHandlePeerClosed)
}

func TestCancelEntries(t *testing.T) {
	eng, conn, ep := newTestEngine()
	p1, p2 := mustPair(t)

	desc, err := eng.SendProxied(context.Background(), p2, ep)
	require.NoError(t, err)
	far := mustTake(t, conn, desc.Ref.ID)

	id, err := eng.runtime.Identity(p2)
	require.NoError(t, err)
	require.True(t, eng.HasEntry(id.This))

	// 两个键中只有本端键有条目
	assert.Equal(t, 1, eng.CancelEntries(id.This, id.Pair))
	assert.Equal(t, 0, eng.EntryCount())
	assert.Equal(t, 0, eng.CancelEntries(id.This, id.Pair))

	// 任务收到取消：承载流关闭，对端读到终止
	expectStreamDead(t, far)

	// 被泵送半端关闭，应用半端读尽后收到对端关闭
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = p1.ReadFrame(ctx)
	require.ErrorIs(t, err, handle.ErrHandlePeerClosed)
}

func TestTaskSelfCleanup(t *testing.T) {
	t.Run("应用关闭句柄后任务退出", func(t *testing.T) {
		eng, conn, ep := newTestEngine()
		p1, p2 := mustPair(t)

		desc, err := eng.SendProxied(context.Background(), p2, ep)
		require.NoError(t, err)
		far := mustTake(t, conn, desc.Ref.ID)

		require.NoError(t, p1.Close())
		require.Eventually(t, func() bool {
			return eng.EntryCount() == 0
		}, time.Second, 5*time.Millisecond)
		expectStreamDead(t, far)
	})

	t.Run("承载流断开后任务退出", func(t *testing.T) {
		eng, conn, ep := newTestEngine()
		p1, p2 := mustPair(t)

		desc, err := eng.SendProxied(context.Background(), p2, ep)
		require.NoError(t, err)
		far := mustTake(t, conn, desc.Ref.ID)

		require.NoError(t, far.Close())
		require.Eventually(t, func() bool {
			return eng.EntryCount() == 0
		}, time.Second, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err = p1.ReadFrame(ctx)
		require.ErrorIs(t, err, handle.ErrHandlePeerClosed)
		_ = p2
	})
}

// ============================================================================
//                              测试辅助
// ============================================================================

func newTestEngine() (*Engine, *fakeConn, *fakeEndpoint) {
	conn := newFakeConn()
	return NewEngine(handle.NewRuntime(), nil), conn, &fakeEndpoint{c: conn}
}

func mustPair(t *testing.T) (*handle.Half, *handle.Half) {
	t.Helper()
	a, b, err := handle.NewPair(types.HandleKindChannel)
	require.NoError(t, err)
	return a, b
}

func pf(s string) types.Frame {
	return types.Frame{Payload: []byte(s)}
}

func readHandle(t *testing.T, h interfaces.Handle) types.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := h.ReadFrame(ctx)
	require.NoError(t, err)
	return f
}

// recvFrame 带超时地从流上读一帧
func recvFrame(t *testing.T, r io.Reader) types.Frame {
	t.Helper()
	type result struct {
		f   types.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := wire.ReadFrame(r)
		ch <- result{f, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.f
	case <-time.After(2 * time.Second):
		t.Fatal("读帧超时")
		return types.Frame{}
	}
}

// expectEOF 断言流的下一次读帧是干净的 EOF
func expectEOF(t *testing.T, r io.Reader) {
	t.Helper()
	ch := make(chan error, 1)
	go func() {
		_, err := wire.ReadFrame(r)
		ch <- err
	}()
	select {
	case err := <-ch:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("等待流结束超时")
	}
}

// expectStreamDead 断言流已终止（EOF 或关闭错误均可）
func expectStreamDead(t *testing.T, r io.Reader) {
	t.Helper()
	ch := make(chan error, 1)
	go func() {
		_, err := wire.ReadFrame(r)
		ch <- err
	}()
	select {
	case err := <-ch:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("等待流终止超时")
	}
}

func mustTake(t *testing.T, c *fakeConn, id types.StreamID) *fakeStream {
	t.Helper()
	s, err := c.take(id)
	require.NoError(t, err)
	return s
}

// ============================================================================
//                        内存连接与流的测试替身
// ============================================================================

// pipeBuf 单方向的内存管道：无界缓冲，支持半关闭与读截止时间
type pipeBuf struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     bytes.Buffer
	weof    bool
	rclosed bool
	dead    bool
}

func newPipeBuf() *pipeBuf {
	p := &pipeBuf{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeBuf) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.weof || p.rclosed {
		return 0, io.ErrClosedPipe
	}
	n, _ := p.buf.Write(b)
	p.cond.Broadcast()
	return n, nil
}

func (p *pipeBuf) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.buf.Len() > 0 {
			return p.buf.Read(b)
		}
		if p.rclosed {
			return 0, io.ErrClosedPipe
		}
		if p.dead {
			return 0, os.ErrDeadlineExceeded
		}
		if p.weof {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
}

func (p *pipeBuf) closeWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weof = true
	p.cond.Broadcast()
}

func (p *pipeBuf) closeRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rclosed = true
	p.cond.Broadcast()
}

func (p *pipeBuf) setDeadline(tm time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tm.IsZero() {
		p.dead = false
		return
	}
	if !tm.After(time.Now()) {
		p.dead = true
		p.cond.Broadcast()
		return
	}
	d := time.Until(tm)
	time.AfterFunc(d, func() {
		p.mu.Lock()
		p.dead = true
		p.cond.Broadcast()
		p.mu.Unlock()
	})
}

func (p *pipeBuf) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// fakeStream 双向内存流，一对 pipeBuf 各承载一个方向
type fakeStream struct {
	id  types.StreamID
	in  *pipeBuf
	out *pipeBuf
}

var _ interfaces.Stream = (*fakeStream)(nil)

func (s *fakeStream) Read(b []byte) (int, error)  { return s.in.Read(b) }
func (s *fakeStream) Write(b []byte) (int, error) { return s.out.Write(b) }
func (s *fakeStream) ID() types.StreamID          { return s.id }

func (s *fakeStream) CloseWrite() error {
	s.out.closeWrite()
	return nil
}

func (s *fakeStream) SetReadDeadline(tm time.Time) error {
	s.in.setDeadline(tm)
	return nil
}

func (s *fakeStream) Close() error {
	s.out.closeWrite()
	s.in.closeRead()
	return nil
}

// sendHalf 只写视图，Close 即半关闭写端
type sendHalf struct{ s *fakeStream }

var _ interfaces.SendStream = sendHalf{}

func (h sendHalf) Write(b []byte) (int, error) { return h.s.Write(b) }
func (h sendHalf) ID() types.StreamID          { return h.s.ID() }
func (h sendHalf) Close() error                { return h.s.CloseWrite() }

// recvHalf 只读视图
type recvHalf struct{ s *fakeStream }

var _ interfaces.ReceiveStream = recvHalf{}

func (h recvHalf) Read(b []byte) (int, error) { return h.s.Read(b) }
func (h recvHalf) ID() types.StreamID         { return h.s.ID() }
func (h recvHalf) CancelRead()                { h.s.in.closeRead() }

// fakeConn 一条连接上的流簿记：开流方持发起端，对端半流等待认领
type fakeConn struct {
	id       types.ConnectionID
	mu       sync.Mutex
	nextID   uint64
	parked   map[types.StreamID]*fakeStream
	pipes    map[types.StreamID][2]*pipeBuf
	failOpen error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		id:     types.NewConnectionID(),
		nextID: 1,
		parked: make(map[types.StreamID]*fakeStream),
		pipes:  make(map[types.StreamID][2]*pipeBuf),
	}
}

// open 造一对流半端，返回发起端，对端入认领表
func (c *fakeConn) open() *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	sid := types.StreamID(c.nextID)
	c.nextID++
	i2a, a2i := newPipeBuf(), newPipeBuf()
	init := &fakeStream{id: sid, in: a2i, out: i2a}
	c.parked[sid] = &fakeStream{id: sid, in: i2a, out: a2i}
	c.pipes[sid] = [2]*pipeBuf{i2a, a2i}
	return init
}

func (c *fakeConn) take(id types.StreamID) (*fakeStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.parked[id]
	if !ok {
		return nil, fmt.Errorf("流 %d 未在连接上等待认领", id)
	}
	delete(c.parked, id)
	return s, nil
}

// pending 两个方向上尚未被读走的字节总数
func (c *fakeConn) pending(id types.StreamID) int {
	c.mu.Lock()
	pipes, ok := c.pipes[id]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return pipes[0].pending() + pipes[1].pending()
}

// fakeEndpoint 以 fakeConn 为后盾的代理端点
type fakeEndpoint struct{ c *fakeConn }

var _ interfaces.ProxyEndpoint = (*fakeEndpoint)(nil)

func (ep *fakeEndpoint) ConnectionID() types.ConnectionID {
	return ep.c.id
}

func (ep *fakeEndpoint) OpenProxyStream(ctx context.Context) (interfaces.Stream, error) {
	if ep.c.failOpen != nil {
		return nil, ep.c.failOpen
	}
	return ep.c.open(), nil
}

func (ep *fakeEndpoint) OpenDrainStream(ctx context.Context) (interfaces.SendStream, error) {
	if ep.c.failOpen != nil {
		return nil, ep.c.failOpen
	}
	return sendHalf{s: ep.c.open()}, nil
}

func (ep *fakeEndpoint) ClaimStream(ctx context.Context, id types.StreamID) (interfaces.Stream, error) {
	return ep.c.take(id)
}

func (ep *fakeEndpoint) ClaimDrain(ctx context.Context, id types.StreamID) (interfaces.ReceiveStream, error) {
	s, err := ep.c.take(id)
	if err != nil {
		return nil, err
	}
	return recvHalf{s: s}, nil
}
