package peer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-fabric/internal/core/handle"
	"github.com/dep2p/go-fabric/internal/core/proxy"
	"github.com/dep2p/go-fabric/internal/core/servicemap"
	"github.com/dep2p/go-fabric/internal/core/transfer"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// tf 构造字符串载荷的帧
func tf(s string) types.Frame {
	return types.Frame{Payload: []byte(s)}
}

// testPeers 一对互联的对等体及两端的真实运行依赖
type testPeers struct {
	a, b *Peer

	ca, cb *duplexConn

	nodeA, nodeB types.NodeID

	engA, engB *proxy.Engine
	tabA, tabB *transfer.Table
	svcA, svcB *servicemap.Map
}

// newTestPeers 在内存双工连接上建立一对真实对等体
//
// mutate 可在启动前补充两端依赖（诊断提供者、消亡回调）。
func newTestPeers(t *testing.T, mutate func(da, db *Deps)) *testPeers {
	t.Helper()

	tp := &testPeers{
		nodeA: types.RandomNodeID(),
		nodeB: types.RandomNodeID(),
		tabA:  transfer.NewTable(nil),
		tabB:  transfer.NewTable(nil),
		svcA:  servicemap.NewMap(),
		svcB:  servicemap.NewMap(),
	}
	rtA, rtB := handle.NewRuntime(), handle.NewRuntime()
	tp.engA, tp.engB = proxy.NewEngine(rtA, nil), proxy.NewEngine(rtB, nil)
	tp.ca, tp.cb = connPair(tp.nodeA, tp.nodeB)

	da := Deps{Proxy: tp.engA, Transfers: tp.tabA, Services: tp.svcA, Runtime: rtA}
	db := Deps{Proxy: tp.engB, Transfers: tp.tabB, Services: tp.svcB, Runtime: rtB}
	if mutate != nil {
		mutate(&da, &db)
	}

	tp.a = New(tp.ca, types.RoleInitiator, da)
	tp.b = New(tp.cb, types.RoleAcceptor, db)
	t.Cleanup(func() {
		_ = tp.a.Close()
		_ = tp.b.Close()
	})
	return tp
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPeerAccessors(t *testing.T) {
	tp := newTestPeers(t, nil)

	assert.Equal(t, types.RoleInitiator, tp.a.Role())
	assert.Equal(t, types.RoleAcceptor, tp.b.Role())
	assert.Equal(t, tp.nodeB, tp.a.Node())
	assert.Equal(t, tp.nodeA, tp.b.Node())
	assert.Equal(t, tp.a.ConnectionID(), tp.b.ConnectionID())
	assert.False(t, tp.a.Established().IsZero())
	assert.False(t, tp.a.IsClosed())
	assert.Zero(t, tp.a.StreamCount())

	require.NoError(t, tp.a.Close())
	assert.True(t, tp.a.IsClosed())
	select {
	case <-tp.a.Done():
	default:
		t.Fatal("关闭后 Done 通道应已关闭")
	}
	// 幂等
	require.NoError(t, tp.a.Close())
}

func TestClaimTableSemantics(t *testing.T) {
	ctx := testCtx(t)
	tbl := newClaimTable[int]()

	// 停驻在前：认领直接取走
	require.NoError(t, tbl.park(1, 10))
	require.ErrorIs(t, tbl.park(1, 11), ErrDuplicateStream)
	assert.Equal(t, 1, tbl.len())
	got, err := tbl.claim(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.Zero(t, tbl.len())

	// 认领在前：停驻唤醒等待者
	done := make(chan int, 1)
	go func() {
		v, cerr := tbl.claim(context.Background(), 2)
		if cerr != nil {
			done <- -1
			return
		}
		done <- v
	}()
	time.Sleep(20 * time.Millisecond)
	_, err = tbl.claim(ctx, 2)
	require.ErrorIs(t, err, ErrDuplicateClaim)
	require.NoError(t, tbl.park(2, 20))
	select {
	case v := <-done:
		assert.Equal(t, 20, v)
	case <-time.After(2 * time.Second):
		t.Fatal("等待认领唤醒超时")
	}

	// 关闭交还孤儿并拒绝后续操作
	require.NoError(t, tbl.park(3, 30))
	orphans := tbl.close()
	assert.Equal(t, []int{30}, orphans)
	assert.Nil(t, tbl.close())
	require.ErrorIs(t, tbl.park(4, 40), ErrPeerClosed)
	_, err = tbl.claim(ctx, 4)
	require.ErrorIs(t, err, ErrPeerClosed)
}

func TestClaimContextCancel(t *testing.T) {
	tbl := newClaimTable[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := tbl.claim(ctx, 7)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// 放弃后同一 ID 可再次停驻与认领
	require.NoError(t, tbl.park(7, 70))
	got, err := tbl.claim(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 70, got)
}

func TestProxyStreamClaim(t *testing.T) {
	ctx := testCtx(t)
	tp := newTestPeers(t, nil)

	s, err := tp.a.OpenProxyStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tp.a.StreamCount())

	claimed, err := tp.b.ClaimStream(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), claimed.ID())

	// 字节双向可达
	_, err = s.Write([]byte("ab"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(claimed, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), buf)

	_, err = claimed.Write([]byte("cd"))
	require.NoError(t, err)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("cd"), buf)

	require.NoError(t, s.Close())
	assert.Zero(t, tp.a.StreamCount())
	require.NoError(t, claimed.Close())
	assert.Zero(t, tp.b.StreamCount())
}

func TestDrainStreamClaim(t *testing.T) {
	ctx := testCtx(t)
	tp := newTestPeers(t, nil)

	d, err := tp.a.OpenDrainStream(ctx)
	require.NoError(t, err)

	r, err := tp.b.ClaimDrain(ctx, d.ID())
	require.NoError(t, err)

	_, err = d.Write([]byte("排空载荷"))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("排空载荷"), got)
}

func TestCloseFailsPendingClaims(t *testing.T) {
	tp := newTestPeers(t, nil)

	errC := make(chan error, 1)
	go func() {
		_, err := tp.b.ClaimStream(context.Background(), 999)
		errC <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, tp.b.Close())
	select {
	case err := <-errC:
		require.ErrorIs(t, err, ErrPeerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("等待认领失败超时")
	}
}

func TestOpenServiceEcho(t *testing.T) {
	ctx := testCtx(t)
	tp := newTestPeers(t, nil)

	require.NoError(t, tp.svcB.RegisterRawService("echo", func(_ context.Context, h interfaces.Handle) error {
		go func() {
			defer h.Close()
			for {
				f, err := h.ReadFrame(context.Background())
				if err != nil {
					return
				}
				if h.WriteFrame(context.Background(), f) != nil {
					return
				}
			}
		}()
		return nil
	}))

	app, toSend, err := handle.NewPair(types.HandleKindChannel)
	require.NoError(t, err)
	require.NoError(t, tp.a.OpenService(ctx, "echo", toSend))

	// 两端各持一条代理条目承载这只句柄
	assert.Equal(t, 1, tp.engA.EntryCount())
	assert.Equal(t, 1, tp.engB.EntryCount())

	// 帧往返穿过两端泵任务
	require.NoError(t, app.WriteFrame(ctx, tf("你好，回声")))
	got, err := app.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, tf("你好，回声"), got)

	require.NoError(t, app.WriteFrame(ctx, tf("第二帧")))
	got, err = app.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, tf("第二帧"), got)
}

func TestOpenServiceUnknown(t *testing.T) {
	ctx := testCtx(t)
	tp := newTestPeers(t, nil)

	app, toSend, err := handle.NewPair(types.HandleKindChannel)
	require.NoError(t, err)

	err = tp.a.OpenService(ctx, "nowhere", toSend)
	require.ErrorIs(t, err, ErrServiceRejected)
	assert.Contains(t, err.Error(), "nowhere")

	// 可用性应答先于代理：句柄未离开本端，仍可直接使用
	assert.Zero(t, tp.engA.EntryCount())
	require.NoError(t, app.WriteFrame(ctx, tf("仍在本地")))
	got, err := toSend.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, tf("仍在本地"), got)
}

func TestOpenServiceProviderFailure(t *testing.T) {
	ctx := testCtx(t)
	tp := newTestPeers(t, nil)

	require.NoError(t, tp.svcB.RegisterRawService("broken", func(context.Context, interfaces.Handle) error {
		return assert.AnError
	}))

	_, toSend, err := handle.NewPair(types.HandleKindChannel)
	require.NoError(t, err)

	err = tp.a.OpenService(ctx, "broken", toSend)
	require.ErrorIs(t, err, ErrServiceRejected)
	assert.Contains(t, err.Error(), assert.AnError.Error())
}

func TestOpenTransferRendezvous(t *testing.T) {
	ctx := testCtx(t)
	tp := newTestPeers(t, nil)

	s, err := tp.a.OpenTransfer(ctx, "tok-会合")
	require.NoError(t, err)
	defer s.Close()

	v, err := tp.tabB.Find(ctx, "tok-会合")
	require.NoError(t, err)
	require.True(t, v.IsStream())
	defer v.Stream.Close()

	// 应答之后就是裸数据通道
	_, err = s.Write([]byte("载荷字节"))
	require.NoError(t, err)
	buf := make([]byte, len("载荷字节"))
	_, err = io.ReadFull(v.Stream, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("载荷字节"), buf)

	_, err = v.Stream.Write([]byte("回程"))
	require.NoError(t, err)
	buf = make([]byte, len("回程"))
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("回程"), buf)
}

func TestOpenTransferRejections(t *testing.T) {
	ctx := testCtx(t)
	tp := newTestPeers(t, nil)

	// 空令牌本端直接拒绝，不开流
	_, err := tp.a.OpenTransfer(ctx, "")
	require.ErrorIs(t, err, transfer.ErrEmptyToken)
	assert.Zero(t, tp.a.StreamCount())

	// 远端令牌已被占用
	fused, _, err := handle.NewPair(types.HandleKindChannel)
	require.NoError(t, err)
	require.NoError(t, tp.tabB.Post("tok-占用", interfaces.TransferValue{Fused: fused}))

	_, err = tp.a.OpenTransfer(ctx, "tok-占用")
	require.ErrorIs(t, err, ErrTransferRejected)
}

func TestQueryDiagnostics(t *testing.T) {
	ctx := testCtx(t)

	t.Run("有提供者", func(t *testing.T) {
		tp := newTestPeers(t, func(_, db *Deps) {
			db.Diag = func(context.Context) (*types.Diagnostics, error) {
				return &types.Diagnostics{
					Implementation: "fabric-test",
					Routes:         3,
					Services:       []string{"echo"},
				}, nil
			}
		})

		d, err := tp.a.QueryDiagnostics(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fabric-test", d.Implementation)
		assert.Equal(t, 3, d.Routes)
		assert.Equal(t, []string{"echo"}, d.Services)
	})

	t.Run("无提供者", func(t *testing.T) {
		tp := newTestPeers(t, nil)
		_, err := tp.a.QueryDiagnostics(ctx)
		require.Error(t, err)
	})
}

func TestConnDeathNotifies(t *testing.T) {
	type death struct {
		conn    types.ConnectionID
		routing bool
	}
	notified := make(chan death, 1)
	tp := newTestPeers(t, func(da, _ *Deps) {
		da.OnClose = func(id types.ConnectionID, dueToRoutingError bool) {
			notified <- death{conn: id, routing: dueToRoutingError}
		}
	})

	// 对端整条连接消亡
	require.NoError(t, tp.b.Close())

	select {
	case d := <-notified:
		assert.Equal(t, tp.a.ConnectionID(), d.conn)
		assert.False(t, d.routing)
	case <-time.After(2 * time.Second):
		t.Fatal("等待消亡通知超时")
	}
	assert.True(t, tp.a.IsClosed())
}

// ============================================================================
//                        内存双工连接测试替身
// ============================================================================

// errConnReset 对端主动关闭时本端观察到的断开原因
var errConnReset = errors.New("连接被对端关闭")

// duplexConn 内存双工连接的一端：本端开流即投递到对端接受队列
//
// 两端共享流 ID 计数器，任一端关闭即整条连接消亡。
type duplexConn struct {
	local  types.NodeID
	remote types.NodeID
	id     types.ConnectionID

	nextID *atomic.Uint64
	peer   *duplexConn

	bidi chan *fakeStream
	uni  chan recvHalf

	closeOnce sync.Once
	closed    chan struct{}
	errMu     sync.Mutex
	errv      error
}

var _ interfaces.Connection = (*duplexConn)(nil)

func connPair(a, b types.NodeID) (*duplexConn, *duplexConn) {
	id := types.NewConnectionID()
	counter := new(atomic.Uint64)
	ca := newDuplexEnd(a, b, id, counter)
	cb := newDuplexEnd(b, a, id, counter)
	ca.peer, cb.peer = cb, ca
	return ca, cb
}

func newDuplexEnd(local, remote types.NodeID, id types.ConnectionID, counter *atomic.Uint64) *duplexConn {
	return &duplexConn{
		local:  local,
		remote: remote,
		id:     id,
		nextID: counter,
		bidi:   make(chan *fakeStream, 16),
		uni:    make(chan recvHalf, 16),
		closed: make(chan struct{}),
	}
}

func (c *duplexConn) LocalNode() types.NodeID          { return c.local }
func (c *duplexConn) RemoteNode() types.NodeID         { return c.remote }
func (c *duplexConn) ConnectionID() types.ConnectionID { return c.id }

func (c *duplexConn) OpenStream(ctx context.Context) (interfaces.Stream, error) {
	sid := types.StreamID(c.nextID.Add(1))
	i2a, a2i := newPipeBuf(), newPipeBuf()
	mine := &fakeStream{id: sid, in: a2i, out: i2a}
	theirs := &fakeStream{id: sid, in: i2a, out: a2i}
	select {
	case c.peer.bidi <- theirs:
		return mine, nil
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *duplexConn) OpenUniStream(ctx context.Context) (interfaces.SendStream, error) {
	sid := types.StreamID(c.nextID.Add(1))
	i2a, a2i := newPipeBuf(), newPipeBuf()
	mine := &fakeStream{id: sid, in: a2i, out: i2a}
	theirs := &fakeStream{id: sid, in: i2a, out: a2i}
	select {
	case c.peer.uni <- recvHalf{s: theirs}:
		return sendHalf{s: mine}, nil
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *duplexConn) AcceptStream(ctx context.Context) (interfaces.Stream, error) {
	select {
	case s := <-c.bidi:
		return s, nil
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *duplexConn) AcceptUniStream(ctx context.Context) (interfaces.ReceiveStream, error) {
	select {
	case s := <-c.uni:
		return s, nil
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *duplexConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *duplexConn) Done() <-chan struct{} { return c.closed }

func (c *duplexConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errv
}

// Close 本端主动关闭；对端观察到被动断开
func (c *duplexConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.peer.closeOnce.Do(func() {
			c.peer.errMu.Lock()
			c.peer.errv = errConnReset
			c.peer.errMu.Unlock()
			close(c.peer.closed)
		})
	})
	return nil
}

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
