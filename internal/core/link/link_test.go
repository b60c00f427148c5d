package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-fabric/pkg/types"
)

// mkFrame 构造一帧测试帧
func mkFrame(src, dst types.NodeID) types.LinkFrame {
	return types.LinkFrame{
		Src:     src,
		Dst:     dst,
		Conn:    types.NewConnectionID(),
		Packet:  types.PacketOngoing,
		TTL:     types.DefaultLinkTTL,
		Payload: []byte("payload"),
	}
}

// TestLinkSendRecv 帧经出站队列到达驱动端点
func TestLinkSendRecv(t *testing.T) {
	remote := types.RandomNodeID()
	l := New(remote)
	defer l.Close()

	assert.NotZero(t, l.ID())
	assert.Equal(t, remote, l.Remote())
	assert.Contains(t, l.DebugID(), remote.ShortString())

	f := mkFrame(types.RandomNodeID(), remote)
	require.NoError(t, l.Send(context.Background(), f))

	out := &outboundEndpoint{link: l}
	got, err := out.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.Conn, got.Conn)
}

// TestLinkIDsUnique 铸造的链路标识互不相同且非零
func TestLinkIDsUnique(t *testing.T) {
	seen := make(map[types.LinkID]bool)
	for i := 0; i < 64; i++ {
		l := New(types.RandomNodeID())
		require.NotZero(t, l.ID(), "0 被保留给本地起源")
		require.False(t, seen[l.ID()])
		seen[l.ID()] = true
		l.Close()
	}
}

// TestLinkClose 关闭后发送报错、Done 可观察、幂等
func TestLinkClose(t *testing.T) {
	l := New(types.RandomNodeID())
	require.False(t, l.IsClosed())

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.True(t, l.IsClosed())

	select {
	case <-l.Done():
	default:
		t.Fatal("Done 通道未关闭")
	}

	err := l.Send(context.Background(), mkFrame(types.RandomNodeID(), l.Remote()))
	assert.ErrorIs(t, err, ErrLinkClosed)
}

// TestOutboundDrainsAfterClose 关闭后端点先排空残留帧再报错
func TestOutboundDrainsAfterClose(t *testing.T) {
	l := New(types.RandomNodeID())
	f := mkFrame(types.RandomNodeID(), l.Remote())
	require.NoError(t, l.Send(context.Background(), f))
	require.NoError(t, l.Close())

	out := &outboundEndpoint{link: l}
	got, err := out.Recv(context.Background())
	require.NoError(t, err, "已入队的帧不应丢失")
	assert.Equal(t, f.Conn, got.Conn)

	_, err = out.Recv(context.Background())
	assert.ErrorIs(t, err, ErrLinkClosed)
}

// TestRecvHonorsContext 无帧时取走操作服从取消
func TestRecvHonorsContext(t *testing.T) {
	l := New(types.RandomNodeID())
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := (&outboundEndpoint{link: l}).Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestTokenReleaseIdempotent 令牌多次释放只递减一次计数
func TestTokenReleaseIdempotent(t *testing.T) {
	c := NewCounter(nil)
	assert.Equal(t, 0, c.Len())

	tok1 := c.Acquire(New(types.RandomNodeID()))
	tok2 := c.Acquire(New(types.RandomNodeID()))
	assert.Equal(t, 2, c.Len())

	tok1.Release()
	tok1.Release()
	assert.Equal(t, 1, c.Len(), "重复释放不得二次递减")

	tok2.Release()
	assert.Equal(t, 0, c.Len())
}
