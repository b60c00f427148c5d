package fabric

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-fabric/config"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              测试辅助
// ════════════════════════════════════════════════════════════════════════════

// newMemRouter 启动一个 mem 传输、内存身份的路由器
func newMemRouter(t *testing.T) *Router {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Transport.Kind = config.TransportMem
	cfg.Transport.HelloTimeout = config.Duration(2 * time.Second)
	r, err := New(WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// bridge 用一对帧泵把两个路由器的链路面对接起来
//
// 先发布两条链路再启动泵：链路的出站队列有缓冲，发布触发的
// 首轮召唤帧在泵启动前只是排队，等双向路由就绪后一并送达，
// 不会出现应答无路可回的窗口。
func bridge(t *testing.T, a, b *Router) {
	t.Helper()

	sa, ra, ta, err := a.NewLink(b.NodeID())
	require.NoError(t, err)
	sb, rb, tb, err := b.NewLink(a.NodeID())
	require.NoError(t, err)

	require.NoError(t, a.PublishLink(ta, nil))
	require.NoError(t, b.PublishLink(tb, nil))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	pump := func(dst interfaces.LinkSender, src interfaces.LinkReceiver) {
		defer wg.Done()
		for {
			f, err := src.Recv(ctx)
			if err != nil {
				return
			}
			if dst.Send(ctx, f) != nil {
				return
			}
		}
	}
	wg.Add(2)
	go pump(sb, ra)
	go pump(sa, rb)

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// echoService 把读到的每一帧原样写回
func echoService(_ context.Context, h interfaces.Handle) error {
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
}

// ════════════════════════════════════════════════════════════════════════════
//                              创建与关闭
// ════════════════════════════════════════════════════════════════════════════

func TestNew(t *testing.T) {
	t.Run("凭据文件缺失快速失败", func(t *testing.T) {
		_, err := New(
			WithTransport(config.TransportMem),
			WithCredentialFiles("/no/such/cert.pem", "/no/such/key.pem", "/no/such/root.pem"),
		)
		require.ErrorIs(t, err, ErrCredentialFile)
	})

	t.Run("配置验证失败", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Transport.Kind = "carrier-pigeon"
		_, err := New(WithConfig(cfg))
		require.Error(t, err)
	})

	t.Run("选项报错即中止", func(t *testing.T) {
		_, err := New(WithConfig(nil))
		require.Error(t, err)
	})

	t.Run("内存身份固定节点标识", func(t *testing.T) {
		r := newMemRouter(t)
		assert.False(t, r.NodeID().IsEmpty())
		assert.NoError(t, r.Err())
	})
}

func TestRouterClose(t *testing.T) {
	r := newMemRouter(t)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, _, _, err := r.NewLink(types.RandomNodeID())
	require.ErrorIs(t, err, ErrRouterClosed)

	err = r.ConnectToService(context.Background(), types.RandomNodeID(), "echo", nil)
	require.ErrorIs(t, err, ErrRouterClosed)

	_, err = r.FindTransfer(context.Background(), types.NewTransferToken())
	require.ErrorIs(t, err, ErrRouterClosed)

	_, err = r.QueryDiagnostics(context.Background(), types.RandomNodeID())
	require.ErrorIs(t, err, ErrRouterClosed)
}

// ════════════════════════════════════════════════════════════════════════════
//                              服务接入
// ════════════════════════════════════════════════════════════════════════════

func TestConnectToService(t *testing.T) {
	t.Run("本地服务直连", func(t *testing.T) {
		r := newMemRouter(t)
		ctx := testCtx(t)

		require.NoError(t, r.RegisterRawService("echo", echoService))

		local, remote, err := r.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		defer local.Close()
		require.NoError(t, r.ConnectToService(ctx, r.NodeID(), "echo", remote))

		require.NoError(t, local.WriteFrame(ctx, types.Frame{Payload: []byte("ping")}))
		f, err := local.ReadFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("ping"), f.Payload)
	})

	t.Run("远端服务经代理接入", func(t *testing.T) {
		a := newMemRouter(t)
		b := newMemRouter(t)
		bridge(t, a, b)
		ctx := testCtx(t)

		require.NoError(t, b.RegisterRawService("echo", echoService))

		local, remote, err := a.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		defer local.Close()
		require.NoError(t, a.ConnectToService(ctx, b.NodeID(), "echo", remote))

		for _, msg := range []string{"你好", "fabric", "mesh"} {
			require.NoError(t, local.WriteFrame(ctx, types.Frame{Payload: []byte(msg)}))
			f, err := local.ReadFrame(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte(msg), f.Payload)
		}
	})

	t.Run("服务不存在返回错误", func(t *testing.T) {
		r := newMemRouter(t)
		ctx := testCtx(t)

		_, remote, err := r.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		require.Error(t, r.ConnectToService(ctx, r.NodeID(), "missing", remote))
	})

	t.Run("注销后不再可达", func(t *testing.T) {
		r := newMemRouter(t)
		ctx := testCtx(t)

		require.NoError(t, r.RegisterRawService("echo", echoService))
		r.UnregisterService("echo")

		_, remote, err := r.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		require.Error(t, r.ConnectToService(ctx, r.NodeID(), "echo", remote))
	})
}

// ════════════════════════════════════════════════════════════════════════════
//                              句柄代理
// ════════════════════════════════════════════════════════════════════════════

func TestProxyHandoff(t *testing.T) {
	a := newMemRouter(t)
	b := newMemRouter(t)
	bridge(t, a, b)
	ctx := testCtx(t)

	// 先触达一次，建立 a→b 的客户端连接
	_, err := a.QueryDiagnostics(ctx, b.NodeID())
	require.NoError(t, err)

	var connID types.ConnectionID
	found := false
	for _, pd := range a.Diagnostics().Peers {
		if pd.Role == types.RoleInitiator && pd.Node == b.NodeID() {
			connID = pd.Conn
			found = true
		}
	}
	require.True(t, found, "应存在去往 b 的客户端对等体")

	local, give, err := a.NewHandlePair(types.HandleKindChannel)
	require.NoError(t, err)
	defer local.Close()

	desc, err := a.SendProxied(ctx, give, connID)
	require.NoError(t, err)

	// 同一连接标识在 b 侧指向其接受方对等体
	got, err := b.RecvProxied(ctx, desc, connID)
	require.NoError(t, err)
	defer got.Close()

	require.NoError(t, local.WriteFrame(ctx, types.Frame{Payload: []byte("over")}))
	f, err := got.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("over"), f.Payload)

	// 回程同样通
	require.NoError(t, got.WriteFrame(ctx, types.Frame{Payload: []byte("back")}))
	f, err = local.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("back"), f.Payload)
}

func TestProxyUnknownConnection(t *testing.T) {
	r := newMemRouter(t)
	ctx := testCtx(t)

	_, h, err := r.NewHandlePair(types.HandleKindChannel)
	require.NoError(t, err)

	_, err = r.SendProxied(ctx, h, types.NewConnectionID())
	require.ErrorIs(t, err, ErrUnknownConnection)

	_, err = r.RecvProxied(ctx, types.HandleDescription{}, types.NewConnectionID())
	require.ErrorIs(t, err, ErrUnknownConnection)
}

// ════════════════════════════════════════════════════════════════════════════
//                              传递会合
// ════════════════════════════════════════════════════════════════════════════

func TestOpenTransfer(t *testing.T) {
	t.Run("本地目标熔合句柄", func(t *testing.T) {
		r := newMemRouter(t)
		ctx := testCtx(t)

		left, right, err := r.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		token := types.NewTransferToken()

		s, err := r.OpenTransfer(ctx, r.NodeID(), token, right)
		require.NoError(t, err)
		assert.Nil(t, s, "本地熔合不占用网络流")

		v, err := r.FindTransfer(ctx, token)
		require.NoError(t, err)
		require.True(t, v.IsFused())

		// 熔合值与原句柄两端仍然互通
		require.NoError(t, left.WriteFrame(ctx, types.Frame{Payload: []byte("hi")}))
		f, err := v.Fused.ReadFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("hi"), f.Payload)
	})

	t.Run("重复挂出同一令牌报错", func(t *testing.T) {
		r := newMemRouter(t)
		ctx := testCtx(t)

		_, h1, err := r.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		_, h2, err := r.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)

		token := types.NewTransferToken()
		_, err = r.OpenTransfer(ctx, r.NodeID(), token, h1)
		require.NoError(t, err)
		_, err = r.OpenTransfer(ctx, r.NodeID(), token, h2)
		require.ErrorIs(t, err, ErrDuplicateTransferPost)
	})

	t.Run("远端目标经承载流会合", func(t *testing.T) {
		a := newMemRouter(t)
		b := newMemRouter(t)
		bridge(t, a, b)
		ctx := testCtx(t)

		_, h, err := a.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		token := types.NewTransferToken()

		s, err := a.OpenTransfer(ctx, b.NodeID(), token, h)
		require.NoError(t, err)
		require.NotNil(t, s)

		v, err := b.FindTransfer(ctx, token)
		require.NoError(t, err)
		require.True(t, v.IsStream())

		_, err = s.Write([]byte("rendezvous"))
		require.NoError(t, err)
		buf := make([]byte, 32)
		n, err := v.Stream.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "rendezvous", string(buf[:n]))
	})

	t.Run("先挂出后取走恰好一次", func(t *testing.T) {
		r := newMemRouter(t)
		ctx := testCtx(t)

		_, h, err := r.NewHandlePair(types.HandleKindChannel)
		require.NoError(t, err)
		token := types.NewTransferToken()
		require.NoError(t, r.PostTransfer(token, interfaces.TransferValue{Fused: h}))

		v, err := r.FindTransfer(ctx, token)
		require.NoError(t, err)
		assert.True(t, v.IsFused())

		// 已消费令牌的再次查找重新挂起而非返回旧值
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = r.FindTransfer(shortCtx, token)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// ════════════════════════════════════════════════════════════════════════════
//                              链路与路由
// ════════════════════════════════════════════════════════════════════════════

func TestConnectingLinks(t *testing.T) {
	r := newMemRouter(t)
	other := types.RandomNodeID()

	_, _, token, err := r.NewLink(other)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ConnectingLinks())

	token.Release()
	assert.Equal(t, 0, r.ConnectingLinks())
	token.Release()
	assert.Equal(t, 0, r.ConnectingLinks())

	// 发布同样消费令牌，并登记直连路由
	_, _, token2, err := r.NewLink(other)
	require.NoError(t, err)
	require.NoError(t, r.PublishLink(token2, nil))
	assert.Equal(t, 0, r.ConnectingLinks())
	assert.True(t, r.Routes().Has(other))

	_, _, _, err = r.NewLink(r.NodeID())
	require.ErrorIs(t, err, ErrLoopbackLink)
}

func TestSetRoutes(t *testing.T) {
	r := newMemRouter(t)
	dst := types.RandomNodeID()

	table := types.ForwardingTable{dst: types.NextHop{Link: 42}}
	r.SetRoutes(table)
	assert.True(t, r.Routes().Has(dst))

	// 指向本节点的表项被剔除
	r.SetRoutes(types.ForwardingTable{r.NodeID(): types.NextHop{Link: 7}})
	assert.False(t, r.Routes().Has(r.NodeID()))
}

// TestRelayAcrossMiddleNode 三节点线型拓扑里边缘节点经中间节点互通
func TestRelayAcrossMiddleNode(t *testing.T) {
	a := newMemRouter(t)
	b := newMemRouter(t)
	c := newMemRouter(t)
	ctx := testCtx(t)

	require.NoError(t, c.RegisterRawService("echo", echoService))

	// 铸造 a↔b 与 b↔c 两对链路，先不发布
	sab, rab, tab, err := a.NewLink(b.NodeID())
	require.NoError(t, err)
	sba, rba, tba, err := b.NewLink(a.NodeID())
	require.NoError(t, err)
	sbc, rbc, tbc, err := b.NewLink(c.NodeID())
	require.NoError(t, err)
	scb, rcb, tcb, err := c.NewLink(b.NodeID())
	require.NoError(t, err)

	// 边缘节点先装好去往对侧的两跳路由（经中间节点 b）
	a.SetRoutes(types.ForwardingTable{
		c.NodeID(): {Link: tab.Link().ID(), Via: b.NodeID()},
	})
	c.SetRoutes(types.ForwardingTable{
		a.NodeID(): {Link: tcb.Link().ID(), Via: b.NodeID()},
	})

	// 全部发布后再启动泵：召唤帧在缓冲队列里等全网路由就绪
	require.NoError(t, a.PublishLink(tab, nil))
	require.NoError(t, b.PublishLink(tba, nil))
	require.NoError(t, b.PublishLink(tbc, nil))
	require.NoError(t, c.PublishLink(tcb, nil))

	pctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	pump := func(dst interfaces.LinkSender, src interfaces.LinkReceiver) {
		defer wg.Done()
		for {
			f, err := src.Recv(pctx)
			if err != nil {
				return
			}
			if dst.Send(pctx, f) != nil {
				return
			}
		}
	}
	wg.Add(4)
	go pump(sba, rab)
	go pump(sab, rba)
	go pump(scb, rbc)
	go pump(sbc, rcb)
	t.Cleanup(func() { cancel(); wg.Wait() })

	// 服务接入跨越两跳
	local, remote, err := a.NewHandlePair(types.HandleKindChannel)
	require.NoError(t, err)
	defer local.Close()
	require.NoError(t, a.ConnectToService(ctx, c.NodeID(), "echo", remote))

	require.NoError(t, local.WriteFrame(ctx, types.Frame{Payload: []byte("两跳")}))
	f, err := local.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("两跳"), f.Payload)

	// 传递会合同样跨越两跳
	_, h, err := a.NewHandlePair(types.HandleKindChannel)
	require.NoError(t, err)
	token := types.NewTransferToken()
	s, err := a.OpenTransfer(ctx, c.NodeID(), token, h)
	require.NoError(t, err)
	v, err := c.FindTransfer(ctx, token)
	require.NoError(t, err)
	require.True(t, v.IsStream())

	_, err = s.Write([]byte("relay"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := v.Stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "relay", string(buf[:n]))

	// 逻辑连接只存在于两端：中继节点从不为过境流量铸造对等体
	var conn types.ConnectionID
	found := false
	for _, pd := range a.Diagnostics().Peers {
		if pd.Node == c.NodeID() && pd.Role == types.RoleInitiator {
			conn, found = pd.Conn, true
		}
	}
	require.True(t, found, "a 应持有去往 c 的客户端对等体")
	for _, pd := range b.Diagnostics().Peers {
		assert.NotEqual(t, conn, pd.Conn, "中继节点不应持有 a–c 连接")
	}
	accepted := false
	for _, pd := range c.Diagnostics().Peers {
		if pd.Conn == conn {
			accepted = pd.Role == types.RoleAcceptor
		}
	}
	assert.True(t, accepted, "c 应以接受方角色持有同一连接")
}

// ════════════════════════════════════════════════════════════════════════════
//                              对等体管理与诊断
// ════════════════════════════════════════════════════════════════════════════

func TestRemovePeer(t *testing.T) {
	a := newMemRouter(t)
	b := newMemRouter(t)
	bridge(t, a, b)
	ctx := testCtx(t)

	_, err := a.QueryDiagnostics(ctx, b.NodeID())
	require.NoError(t, err)

	peers := a.Diagnostics().Peers
	require.NotEmpty(t, peers)
	target := peers[0].Conn

	a.RemovePeer(target, true)
	for _, pd := range a.Diagnostics().Peers {
		assert.NotEqual(t, target, pd.Conn)
	}
}

func TestDiagnostics(t *testing.T) {
	t.Run("本地快照", func(t *testing.T) {
		r := newMemRouter(t)
		require.NoError(t, r.RegisterRawService("echo", echoService))

		d := r.Diagnostics()
		assert.Equal(t, r.NodeID(), d.Node)
		assert.Equal(t, config.DefaultImplementation, d.Implementation)
		assert.Contains(t, d.Services, "echo")
		assert.Empty(t, d.Peers)

		r.SetImplementation("fabric-dev")
		assert.Equal(t, "fabric-dev", r.Implementation())
		assert.Equal(t, "fabric-dev", r.Diagnostics().Implementation)
	})

	t.Run("远端查询", func(t *testing.T) {
		a := newMemRouter(t)
		b := newMemRouter(t)
		bridge(t, a, b)
		ctx := testCtx(t)

		require.NoError(t, b.RegisterRawService("blob", echoService))
		b.SetImplementation("fabric-b")

		d, err := a.QueryDiagnostics(ctx, b.NodeID())
		require.NoError(t, err)
		assert.Equal(t, b.NodeID(), d.Node)
		assert.Equal(t, "fabric-b", d.Implementation)
		assert.Contains(t, d.Services, "blob")
		assert.NotEmpty(t, d.Peers)
	})
}

func TestClientRoutingToggle(t *testing.T) {
	r := newMemRouter(t)
	assert.True(t, r.ClientRouting())
	r.SetClientRouting(false)
	assert.False(t, r.ClientRouting())
	r.SetClientRouting(true)
	assert.True(t, r.ClientRouting())
}
