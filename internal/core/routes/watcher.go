package routes

import (
	"bytes"
	"context"
	"sort"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                        Watcher - 转发表监视者
// ============================================================================

// ClientSource 按节点取得客户端对等体的来源
type ClientSource interface {
	GetClient(ctx context.Context, remote types.NodeID) (interfaces.Peer, error)
}

// Watcher 监视转发表快照并召唤客户端对等体
//
// 每个快照触发一轮召唤：对快照中每个目的节点确保存在客户端
// 对等体。首个失败即中止本轮——下一个快照会重试，不在轮内重试。
type Watcher struct {
	routes  interfaces.Routes
	clients ClientSource
	metrics *metrics.Metrics
}

// NewWatcher 创建转发表监视者
func NewWatcher(routes interfaces.Routes, clients ClientSource, m *metrics.Metrics) *Watcher {
	return &Watcher{routes: routes, clients: clients, metrics: m}
}

// Run 驱动监视循环直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) error {
	ch, cancel := w.routes.Watch()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ch:
			if !ok {
				return nil
			}
			w.summon(ctx, t)
		}
	}
}

// summon 对快照中的每个目的节点确保客户端对等体在场
func (w *Watcher) summon(ctx context.Context, t types.ForwardingTable) {
	dsts := t.Destinations()
	sort.Slice(dsts, func(i, j int) bool {
		return bytes.Compare(dsts[i].Bytes(), dsts[j].Bytes()) < 0
	})

	for _, dst := range dsts {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.clients.GetClient(ctx, dst); err != nil {
			logger.Warn("召唤客户端失败，中止本轮",
				"node", dst.ShortString(), "err", err)
			if w.metrics != nil {
				w.metrics.SummonFailures.Inc()
			}
			return
		}
	}
	if w.metrics != nil {
		w.metrics.SummonPasses.Inc()
	}
	logger.Debug("召唤一轮完成", "destinations", len(dsts))
}
