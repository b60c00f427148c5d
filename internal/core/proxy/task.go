package proxy

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/dep2p/go-fabric/internal/core/wire"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              task - 代理泵任务
// ============================================================================

// task 一个代理条目的后台泵
//
// 两个泵各自独立搬运数据：入站泵把网络帧写入句柄，出站泵把句柄
// 帧写上网络。控制 goroutine 只等待一个事件——交接、熔合、取消，
// 或任一泵结束——然后执行对应的收尾choreography。
type task struct {
	eng      *Engine
	ent      *entry
	h        interfaces.Handle
	stream   interfaces.Stream
	predrain interfaces.ReceiveStream

	ictx    context.Context
	icancel context.CancelFunc
	octx    context.Context
	ocancel context.CancelFunc

	inDone  chan struct{}
	outDone chan struct{}

	// inLeft 交接打断入站泵时悬置在手的一帧，归排空路径
	inLeft *types.Frame

	releaseOnce sync.Once
}

func (t *task) run() {
	defer t.release()

	// 接收侧先排空：描述附带的排空流中的帧先于主流帧送达应用
	if t.predrain != nil {
		if err := drainInto(t.predrain, t.h); err != nil {
			logger.Warn("排空流读取失败", "stream", t.stream.ID(), "err", err)
			_ = t.stream.Close()
			_ = t.h.Close()
			return
		}
	}

	t.ictx, t.icancel = context.WithCancel(context.Background())
	t.octx, t.ocancel = context.WithCancel(context.Background())
	t.inDone = make(chan struct{})
	t.outDone = make(chan struct{})
	go t.inPump()
	go t.outPump()

	select {
	case cmd := <-t.ent.transferC:
		t.handoff(cmd)
	case cmd := <-t.ent.fuseC:
		t.fuse(cmd)
	case <-t.ent.cancelC:
		t.teardown()
	case <-t.inDone:
		t.teardown()
	case <-t.outDone:
		t.teardown()
	}
}

// inPump 网络 → 句柄
func (t *task) inPump() {
	defer close(t.inDone)
	for {
		f, err := wire.ReadFrame(t.stream)
		if err != nil {
			if t.ictx.Err() == nil && err != io.EOF {
				logger.Debug("入站泵结束", "stream", t.stream.ID(), "err", err)
			}
			return
		}
		if err := t.h.WriteFrame(t.ictx, f); err != nil {
			if t.ictx.Err() != nil {
				ff := f
				t.inLeft = &ff
			}
			return
		}
	}
}

// outPump 句柄 → 网络
func (t *task) outPump() {
	defer close(t.outDone)
	for {
		f, err := t.h.ReadFrame(t.octx)
		if err != nil {
			return
		}
		if err := wire.WriteFrame(t.stream, f); err != nil {
			logger.Debug("出站泵结束", "stream", t.stream.ID(), "err", err)
			return
		}
	}
}

// teardown 常规收尾：关闭两侧并等泵退净
//
// 先关流再等待：卡在流写或流读上的泵由关闭动作解除阻塞。
func (t *task) teardown() {
	t.icancel()
	t.ocancel()
	_ = t.stream.Close()
	_ = t.h.Close()
	<-t.inDone
	<-t.outDone
}

// handoff 配对折叠交接
//
// 句柄对整体离开本节点：应用侧积压冲进旧网络流并半关闭写端，
// 网络侧积压冲进排空流，交回流引用后关闭两个本地句柄退出。
// 旧网络流不关闭——它的所有权随描述转移给新的持有者。
func (t *task) handoff(cmd transferCmd) {
	// 停出站泵，冲刷应用侧积压到旧流
	t.ocancel()
	<-t.outDone
	for {
		f, ok := t.h.TryReadFrame()
		if !ok {
			break
		}
		if err := wire.WriteFrame(t.stream, f); err != nil {
			break
		}
	}
	// 半关闭写端：对端读到 EOF 即知旧代理不再产出
	_ = t.stream.CloseWrite()

	// 停入站泵；读截止时间打断可能阻塞的网络读
	t.icancel()
	_ = t.stream.SetReadDeadline(time.Now())
	<-t.inDone

	// 网络侧积压进排空流：先是已入队未被应用读走的帧，
	// 再是入站泵手中的悬置帧
	for {
		f, ok := cmd.paired.TryReadFrame()
		if !ok {
			break
		}
		if err := wire.WriteFrame(cmd.drain, f); err != nil {
			break
		}
	}
	if t.inLeft != nil {
		_ = wire.WriteFrame(cmd.drain, *t.inLeft)
	}
	_ = cmd.drain.Close()

	// 应答后本任务不再做任何 I/O
	cmd.replyC <- types.StreamRef{ID: t.stream.ID()}

	_ = t.h.Close()
	_ = cmd.paired.Close()
	logger.Debug("交接完成", "stream", t.stream.ID())
}

// fuse 同节点熔合
//
// 描述指回了本任务自己的承载流：句柄对的两端都已落在本节点。
// 排空流先行送入新对，入站泵walk到对端半关闭留下的 EOF 为止，
// 之后本任务放弃网络流，转为两个本地句柄之间的纯本地桥。
func (t *task) fuse(cmd fuseCmd) {
	t.ocancel()
	<-t.outDone

	if cmd.drain != nil {
		if err := drainInto(cmd.drain, cmd.bridge); err != nil {
			logger.Warn("熔合排空失败", "stream", t.stream.ID(), "err", err)
		}
	}

	// 对端交接时半关闭了写端，入站泵自然走到 EOF；
	// 尾帧仍送往原应用半端
	<-t.inDone
	_ = t.stream.Close()

	// 条目此刻离开表；任务作为本地桥继续存活
	t.release()
	logger.Debug("转为本地桥", "stream", t.stream.ID())
	bridgeHandles(t.h, cmd.bridge)
}

// release 移除条目并发布一次性移除通知，幂等
func (t *task) release() {
	t.releaseOnce.Do(func() {
		t.eng.remove(t.ent)
		close(t.ent.removed)
	})
}

// ============================================================================
//                              辅助泵
// ============================================================================

// drainInto 把排空流读到 EOF，帧依次写入 dst
func drainInto(r interfaces.ReceiveStream, dst interfaces.Handle) error {
	ctx := context.Background()
	for {
		f, err := wire.ReadFrame(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := dst.WriteFrame(ctx, f); err != nil {
			return err
		}
	}
}

// bridgeHandles 双向泵送两个本地句柄，任一侧关闭则两侧一起关闭
func bridgeHandles(a, b interfaces.Handle) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = a.Close()
			_ = b.Close()
		})
	}
	go func() {
		defer closeBoth()
		bridgePump(a, b)
	}()
	defer closeBoth()
	bridgePump(b, a)
}

// bridgePump 单方向搬运：src 读出的帧写入 dst
func bridgePump(src, dst interfaces.Handle) {
	ctx := context.Background()
	for {
		f, err := src.ReadFrame(ctx)
		if err != nil {
			return
		}
		if err := dst.WriteFrame(ctx, f); err != nil {
			return
		}
	}
}
