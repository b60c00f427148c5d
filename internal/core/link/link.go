package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("core/link")

// outboundCapacity 单条链路的出站帧队列容量
const outboundCapacity = 64

// idCounter 进程内链路标识铸造器；0 被保留表示"本地起源"
var idCounter atomic.Uint64

// nextID 铸造下一个链路标识
func nextID() types.LinkID {
	return types.LinkID(idCounter.Add(1))
}

// ============================================================================
//                              Link - 链路实现
// ============================================================================

// Link 点对点链路的仓内实现
//
// 链路本身不接触物理介质：转发面经 Send 把帧放入出站队列，
// 链路驱动经 Outbound 端点取走帧放上介质；驱动收到的帧经
// Inbound 端点递交转发面。强所有权在驱动手里，发布后注册表
// 只持弱引用（访问时剔除已关闭者）。
type Link struct {
	id     types.LinkID
	remote types.NodeID

	outC   chan types.LinkFrame
	closed chan struct{}
	once   sync.Once
}

var _ interfaces.Link = (*Link)(nil)

// New 铸造一条去往 remote 的新链路
func New(remote types.NodeID) *Link {
	return &Link{
		id:     nextID(),
		remote: remote,
		outC:   make(chan types.LinkFrame, outboundCapacity),
		closed: make(chan struct{}),
	}
}

// ID 返回本地铸造的链路标识
func (l *Link) ID() types.LinkID {
	return l.id
}

// Remote 返回链路另一端的邻居节点
func (l *Link) Remote() types.NodeID {
	return l.remote
}

// Send 把一帧放入出站队列，由链路驱动取走
func (l *Link) Send(ctx context.Context, f types.LinkFrame) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	select {
	case l.outC <- f:
		return nil
	case <-l.closed:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DebugID 返回人类可读的链路标识
func (l *Link) DebugID() string {
	return fmt.Sprintf("link-%d→%s", l.id, l.remote.ShortString())
}

// IsClosed 报告链路是否已关闭
func (l *Link) IsClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Done 返回链路关闭时被 close 的通道
func (l *Link) Done() <-chan struct{} {
	return l.closed
}

// Close 关闭链路；幂等
func (l *Link) Close() error {
	l.once.Do(func() {
		close(l.closed)
		logger.Debug("链路已关闭", "link", l.DebugID())
	})
	return nil
}

// ============================================================================
//                          链路驱动端点实现
// ============================================================================

// inboundEndpoint 驱动的入站端点：收到的帧递交转发面
type inboundEndpoint struct {
	plane *Plane
	link  *Link
}

var _ interfaces.LinkSender = (*inboundEndpoint)(nil)

// Send 递交一帧给本节点的转发面
func (e *inboundEndpoint) Send(ctx context.Context, f types.LinkFrame) error {
	if e.link.IsClosed() {
		return ErrLinkClosed
	}
	return e.plane.Deliver(ctx, f, e.link.ID())
}

// Close 关闭端点；链路整体随之关闭
func (e *inboundEndpoint) Close() error {
	return e.link.Close()
}

// outboundEndpoint 驱动的出站端点：取走转发面想经此链路发出的帧
type outboundEndpoint struct {
	link *Link
}

var _ interfaces.LinkReceiver = (*outboundEndpoint)(nil)

// Recv 取走下一帧
//
// 关闭后先排空队列中已入队的帧，再返回 ErrLinkClosed。
func (e *outboundEndpoint) Recv(ctx context.Context) (types.LinkFrame, error) {
	select {
	case f := <-e.link.outC:
		return f, nil
	default:
	}
	select {
	case f := <-e.link.outC:
		return f, nil
	case <-e.link.closed:
		// 关闭与入队竞态：最后一次机会取走残留帧
		select {
		case f := <-e.link.outC:
			return f, nil
		default:
			return types.LinkFrame{}, ErrLinkClosed
		}
	case <-ctx.Done():
		return types.LinkFrame{}, ctx.Err()
	}
}

// Close 关闭端点；链路整体随之关闭
func (e *outboundEndpoint) Close() error {
	return e.link.Close()
}
