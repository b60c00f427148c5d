package interfaces

import (
	"context"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                              Handle - 句柄契约
// ============================================================================

// Handle 可跨网络代理的本地能力句柄
//
// 句柄总是成对创建；一端写入的帧出现在另一端的读取队列。
// 三种类型（通道/套接字/信号）共享同一帧接口，类型只决定
// 语义约定，不改变泵送逻辑。
type Handle interface {
	// Kind 返回句柄类型
	Kind() types.HandleKind

	// Rights 返回句柄的访问权限位
	Rights() types.Rights

	// WriteFrame 向对端写入一帧
	//
	// 本端已关闭返回 ErrHandleClosed；对端已关闭返回 ErrHandlePeerClosed。
	WriteFrame(ctx context.Context, f types.Frame) error

	// ReadFrame 读取对端写入的一帧
	//
	// 对端关闭后仍会先读尽已入队的帧，之后返回 ErrHandlePeerClosed。
	ReadFrame(ctx context.Context) (types.Frame, error)

	// TryReadFrame 非阻塞读取一帧；队列为空返回 ok=false
	TryReadFrame() (f types.Frame, ok bool)

	// IsClosed 报告本端是否已关闭
	IsClosed() bool

	// Done 返回本端关闭时被 close 的通道
	Done() <-chan struct{}

	// Close 关闭本端
	Close() error
}

// ============================================================================
//                          HandleRuntime - 句柄运行时
// ============================================================================

// HandleRuntime 句柄身份提取与创建的多态提供者
//
// 代理引擎只通过它接触句柄的底层身份，从不自行解释。
type HandleRuntime interface {
	// Identity 返回句柄的身份对，在句柄生命周期内稳定
	//
	// 同一对象的两端返回互换位置的键。
	Identity(h Handle) (types.HandleIdentity, error)

	// NewPair 创建指定类型的新句柄对
	NewPair(kind types.HandleKind) (Handle, Handle, error)
}
