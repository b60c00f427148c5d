package link

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-fabric/internal/core/metrics"
)

// ============================================================================
//                       Counter - 建立中链路计数
// ============================================================================

// Counter 建立中链路的计数器
//
// 链路从铸造到发布（或放弃）期间处于"建立中"状态；上层用该
// 计数判断"是否还有链路可能送来新的对等体"，避免网格静默期
// 被误判为空网。
type Counter struct {
	n atomic.Int64
	m *metrics.Metrics
}

// NewCounter 创建计数器
func NewCounter(m *metrics.Metrics) *Counter {
	if m == nil {
		m = metrics.Nop()
	}
	return &Counter{m: m}
}

// Acquire 为一条铸造中的链路签发令牌并递增计数
func (c *Counter) Acquire(pending *Link) *Token {
	c.n.Add(1)
	c.m.ConnectingLinks.Inc()
	return &Token{pending: pending, counter: c}
}

// Len 返回当前建立中的链路数
func (c *Counter) Len() int {
	return int(c.n.Load())
}

// release 递减计数
func (c *Counter) release() {
	c.n.Add(-1)
	c.m.ConnectingLinks.Dec()
}

// ============================================================================
//                        Token - 建立中链路令牌
// ============================================================================

// Token 一条建立中链路的作用域令牌
//
// NewLink 签发，发布成功或调用方放弃时释放；Release 幂等，
// 所有退出路径（包括发布本身）调用它都安全，计数恰好递减一次。
type Token struct {
	pending *Link
	counter *Counter
	once    sync.Once
}

// Release 释放令牌并递减建立中计数；幂等
func (t *Token) Release() {
	t.once.Do(func() {
		t.counter.release()
	})
}

// Link 返回令牌对应的待发布链路
func (t *Token) Link() *Link {
	return t.pending
}
