package link

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-fabric/internal/core/observable"
	"github.com/dep2p/go-fabric/pkg/types"
)

// statusInterval 链路状态快照的聚合周期
const statusInterval = time.Second

// ============================================================================
//                    StatusAggregator - 链路状态聚合
// ============================================================================

// StatusAggregator 链路状态的聚合发布者
//
// 链路的增删只投一个"变了"的信号；聚合循环按周期把信号
// 折叠成一次注册表快照发布。高频抖动的链路集合因此最多
// 每周期产生一份快照，订阅者永远只看到最新值。
type StatusAggregator struct {
	clk  clock.Clock
	reg  *Registry
	out  *observable.Value[[]types.LinkDiag]
	kick chan struct{}
}

// NewStatusAggregator 创建聚合器；clk 为 nil 时使用真实时钟
func NewStatusAggregator(clk clock.Clock, reg *Registry) *StatusAggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &StatusAggregator{
		clk:  clk,
		reg:  reg,
		out:  observable.NewValueOf([]types.LinkDiag{}),
		kick: make(chan struct{}, 1),
	}
}

// Notify 投递一个变化信号；从不阻塞，重复信号被折叠
func (a *StatusAggregator) Notify() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Current 返回最近发布的链路状态快照
func (a *StatusAggregator) Current() []types.LinkDiag {
	if v, ok := a.out.Get(); ok {
		return v
	}
	return nil
}

// Watch 订阅链路状态快照序列（保留最新语义）
func (a *StatusAggregator) Watch() (<-chan []types.LinkDiag, func()) {
	sub := a.out.Subscribe()
	return sub.C(), sub.Close
}

// Run 运行聚合循环直到 ctx 取消
//
// 常驻任务之一，由根门面的监护组启动。
func (a *StatusAggregator) Run(ctx context.Context) error {
	a.out.Set(a.reg.Snapshot())

	ticker := a.clk.Ticker(statusInterval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.kick:
			dirty = true
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			snap := a.reg.Snapshot()
			a.out.Set(snap)
			logger.Debug("链路状态快照已发布", "links", len(snap))
		}
	}
}
