// Package routes 维护并发布转发表快照
//
// 快照有两层来源：上层路由协议经 SetRoutes 注入的整表，以及链路
// 发布自动登记的直连条目。两层合成一张只读快照经可观察值发布，
// 同一目的节点的直连条目优先（邻居关系是地面实况）。
// 去往本节点自身的条目在两层都被静默剔除。
package routes

import (
	"sync"

	"github.com/dep2p/go-fabric/internal/core/observable"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("core/routes")

// ============================================================================
//                           Publisher - 转发表发布者
// ============================================================================

// Publisher 转发表的仓内实现
type Publisher struct {
	local types.NodeID

	mu     sync.Mutex
	manual types.ForwardingTable
	direct map[types.NodeID]types.NextHop

	val *observable.Value[types.ForwardingTable]
}

var (
	_ interfaces.Routes          = (*Publisher)(nil)
	_ interfaces.RoutesPublisher = (*Publisher)(nil)
)

// NewPublisher 创建转发表发布者
//
// 初始快照为空表：订阅者从一开始就有确定的值可看。
func NewPublisher(local types.NodeID) *Publisher {
	return &Publisher{
		local:  local,
		manual: types.ForwardingTable{},
		direct: make(map[types.NodeID]types.NextHop),
		val:    observable.NewValueOf(types.ForwardingTable{}),
	}
}

// Current 返回最近发布的快照
func (p *Publisher) Current() types.ForwardingTable {
	t, _ := p.val.Get()
	return t
}

// Watch 订阅快照序列
func (p *Publisher) Watch() (<-chan types.ForwardingTable, func()) {
	sub := p.val.Subscribe()
	return sub.C(), sub.Close
}

// SetRoutes 整表替换手动层
func (p *Publisher) SetRoutes(t types.ForwardingTable) {
	p.mu.Lock()
	manual := make(types.ForwardingTable, t.Len())
	for node, hop := range t {
		if node.Equal(p.local) {
			continue
		}
		manual[node] = hop
	}
	p.manual = manual
	p.publishLocked()
	p.mu.Unlock()
	logger.Debug("手动路由更新", "routes", manual.Len())
}

// AddDirect 登记直连路由
func (p *Publisher) AddDirect(node types.NodeID, l types.LinkID) {
	if node.Equal(p.local) || node.IsEmpty() {
		return
	}
	p.mu.Lock()
	p.direct[node] = types.NextHop{Link: l, Via: node}
	p.publishLocked()
	p.mu.Unlock()
	logger.Debug("直连路由登记", "node", node.ShortString(), "link", l)
}

// RemoveDirect 删除直连路由，仅当现存条目经由链路 l
func (p *Publisher) RemoveDirect(node types.NodeID, l types.LinkID) {
	p.mu.Lock()
	hop, ok := p.direct[node]
	if !ok || hop.Link != l {
		p.mu.Unlock()
		return
	}
	delete(p.direct, node)
	p.publishLocked()
	p.mu.Unlock()
	logger.Debug("直连路由删除", "node", node.ShortString(), "link", l)
}

// publishLocked 合成两层并发布快照，调用方持锁
func (p *Publisher) publishLocked() {
	t := p.manual.Clone()
	if t == nil {
		t = types.ForwardingTable{}
	}
	for node, hop := range p.direct {
		t[node] = hop
	}
	p.val.Set(t)
}
