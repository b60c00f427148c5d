// Package transfer 实现句柄传递的令牌会合表
//
// 两个方向在同一令牌上相遇：一侧投递解析值（本地熔合句柄或
// 远端承载流），另一侧取回。投递与取回的先后任意；每个令牌
// 的记录经历 不存在 → 等待 → 完成 → 不存在（被取走）的状态序列，
// 同一令牌的二次投递是硬性违规。
package transfer

import (
	"context"
	"sync"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("core/transfer")

// ============================================================================
//                              record - 会合记录
// ============================================================================

// record 一个令牌的会合记录
//
// complete 为 nil 时处于等待态，waiting 在投递时被 close；
// complete 非 nil 时处于完成态，等待取回。
type record struct {
	complete *interfaces.TransferValue
	waiting  chan struct{}
	waiters  int
}

// ============================================================================
//                              Table - 传递表
// ============================================================================

// Table 令牌会合表
type Table struct {
	mu      sync.Mutex
	records map[types.TransferToken]*record
	metrics *metrics.Metrics
}

// NewTable 创建传递表
func NewTable(m *metrics.Metrics) *Table {
	return &Table{
		records: make(map[types.TransferToken]*record),
		metrics: m,
	}
}

// Post 投递令牌的解析值
//
// 无记录时创建完成态记录等待取回；有等待者时唤醒它们。
// 令牌已处于完成态时返回 ErrDuplicateTransferPost。
func (t *Table) Post(token types.TransferToken, v interfaces.TransferValue) error {
	if token.IsEmpty() {
		return ErrEmptyToken
	}
	if !v.IsFused() && !v.IsStream() {
		return ErrEmptyValue
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[token]
	if !ok {
		t.records[token] = &record{complete: &v}
		t.bumpRecords(1)
		logger.Debug("投递先到，等待取回", "token", token.ShortString(), "fused", v.IsFused())
		if t.metrics != nil {
			t.metrics.TransferPosts.Inc()
		}
		return nil
	}
	if r.complete != nil {
		logger.Error("同一令牌的二次投递", "token", token.ShortString())
		return ErrDuplicateTransferPost
	}

	// 等待 → 完成：唤醒所有取回者，恰好一个消费
	r.complete = &v
	close(r.waiting)
	logger.Debug("投递唤醒等待者", "token", token.ShortString(), "waiters", r.waiters)
	if t.metrics != nil {
		t.metrics.TransferPosts.Inc()
	}
	return nil
}

// Find 取回令牌的解析值，无则阻塞等待
//
// 多个并发取回者中恰好一个拿到解析值并清除记录；其余继续等待
// 下一次投递。ctx 取消时放弃等待并清理自己安置的等待记录。
func (t *Table) Find(ctx context.Context, token types.TransferToken) (interfaces.TransferValue, error) {
	if token.IsEmpty() {
		return interfaces.TransferValue{}, ErrEmptyToken
	}

	for {
		t.mu.Lock()
		r, ok := t.records[token]
		if !ok {
			r = &record{waiting: make(chan struct{})}
			t.records[token] = r
			t.bumpRecords(1)
		}
		if r.complete != nil {
			v := *r.complete
			delete(t.records, token)
			t.bumpRecords(-1)
			t.mu.Unlock()
			if t.metrics != nil {
				t.metrics.TransferFinds.Inc()
			}
			logger.Debug("取回完成", "token", token.ShortString(), "fused", v.IsFused())
			return v, nil
		}
		r.waiters++
		w := r.waiting
		t.mu.Unlock()

		select {
		case <-w:
			t.mu.Lock()
			r.waiters--
			t.mu.Unlock()
			// 回到循环头争抢解析值；抢不到则重新等待

		case <-ctx.Done():
			t.mu.Lock()
			r.waiters--
			// 仅当记录仍是自己参与的等待态且再无他人等待时清理
			if cur, live := t.records[token]; live && cur == r && r.complete == nil && r.waiters == 0 {
				delete(t.records, token)
				t.bumpRecords(-1)
			}
			t.mu.Unlock()
			return interfaces.TransferValue{}, ctx.Err()
		}
	}
}

// Len 返回当前记录数（诊断用）
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// bumpRecords 调整记录数指标，调用方持锁
func (t *Table) bumpRecords(delta float64) {
	if t.metrics != nil {
		t.metrics.TransferRecords.Add(delta)
	}
}
