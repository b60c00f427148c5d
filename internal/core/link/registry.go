package link

import (
	"sort"
	"sync"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                         Registry - 链路注册表
// ============================================================================

// published 已发布链路及其路由类别
type published struct {
	link  interfaces.Link
	class types.LinkClass
}

// Registry 已发布链路的弱引用注册表
//
// 强所有权在链路创建方手里，这里只按 ID 索引；任何访问都会
// 顺手剔除已关闭的链路，注册表自身绝不延长链路的生命期。
type Registry struct {
	mu    sync.Mutex
	links map[types.LinkID]published
	m     *metrics.Metrics
}

// NewRegistry 创建空的链路注册表
func NewRegistry(m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.Nop()
	}
	return &Registry{
		links: make(map[types.LinkID]published),
		m:     m,
	}
}

// Publish 登记一条已建立的链路
func (r *Registry) Publish(l interfaces.Link, class types.LinkClass) error {
	if l == nil {
		return ErrNilLink
	}
	if l.IsClosed() {
		return ErrLinkClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[l.ID()]; ok {
		return ErrLinkExists
	}
	r.links[l.ID()] = published{link: l, class: class}
	r.m.LinksActive.Inc()
	logger.Info("链路已发布", "link", l.DebugID(), "class", int(class))
	return nil
}

// Get 按 ID 取回链路；已关闭的链路被剔除并视为不存在
func (r *Registry) Get(id types.LinkID) (interfaces.Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.links[id]
	if !ok {
		return nil, false
	}
	if p.link.IsClosed() {
		r.dropLocked(id)
		return nil, false
	}
	return p.link, true
}

// ClassOf 返回链路的路由类别
func (r *Registry) ClassOf(id types.LinkID) (types.LinkClass, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.links[id]
	if !ok {
		return types.LinkClassNetwork, false
	}
	if p.link.IsClosed() {
		r.dropLocked(id)
		return types.LinkClassNetwork, false
	}
	return p.class, true
}

// Remove 注销链路；不存在时为空操作
func (r *Registry) Remove(id types.LinkID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[id]; ok {
		r.dropLocked(id)
	}
}

// Links 返回当前存活链路
func (r *Registry) Links() []interfaces.Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	out := make([]interfaces.Link, 0, len(r.links))
	for _, p := range r.links {
		out = append(out, p.link)
	}
	return out
}

// Len 返回当前存活链路数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.links)
}

// Snapshot 构造链路诊断快照
func (r *Registry) Snapshot() []types.LinkDiag {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	out := make([]types.LinkDiag, 0, len(r.links))
	for id, p := range r.links {
		out = append(out, types.LinkDiag{
			ID:     id,
			Remote: p.link.Remote(),
			Class:  p.class,
			Debug:  p.link.DebugID(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// pruneLocked 剔除所有已关闭链路
func (r *Registry) pruneLocked() {
	for id, p := range r.links {
		if p.link.IsClosed() {
			r.dropLocked(id)
		}
	}
}

// dropLocked 删除一个已存在的表项并回落指标
func (r *Registry) dropLocked(id types.LinkID) {
	delete(r.links, id)
	r.m.LinksActive.Dec()
}
