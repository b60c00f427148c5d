// Package registry 维护本节点的对等体注册表
//
// 三个索引共同描述在场的对等体：connections 以逻辑连接标识为准，
// 是唯一的权威索引；clients 每个远端节点至多一个（本节点主动拨出），
// servers 每个远端节点零或多个（远端拨入）。
//
// 客户端对等体按需创建并去重：并发的 GetClient 只产生一次拨号。
// 服务端对等体只在"发起"报文上创建，后续报文找不到连接即报错。
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-fabric/internal/core/metrics"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("core/registry")

// reviveTimeout 复活拨号的时限
const reviveTimeout = 10 * time.Second

// ============================================================================
//                           Registry - 对等体注册表
// ============================================================================

// Registry 对等体注册表
type Registry struct {
	local   types.NodeID
	factory interfaces.PeerFactory
	routes  interfaces.Routes
	metrics *metrics.Metrics

	mu          sync.Mutex
	closed      bool
	clients     map[types.NodeID]interfaces.Peer
	servers     map[types.NodeID][]interfaces.Peer
	connections map[types.ConnectionID]interfaces.Peer

	flight singleflight.Group
}

// NewRegistry 创建对等体注册表
func NewRegistry(local types.NodeID, factory interfaces.PeerFactory, routes interfaces.Routes, m *metrics.Metrics) *Registry {
	return &Registry{
		local:       local,
		factory:     factory,
		routes:      routes,
		metrics:     m,
		clients:     make(map[types.NodeID]interfaces.Peer),
		servers:     make(map[types.NodeID][]interfaces.Peer),
		connections: make(map[types.ConnectionID]interfaces.Peer),
	}
}

// GetClient 取得通往 remote 的客户端对等体，没有则拨号创建
//
// 去往本节点自身的请求直接拒绝，绝不建表。并发请求经 singleflight
// 合并为一次拨号。
func (r *Registry) GetClient(ctx context.Context, remote types.NodeID) (interfaces.Peer, error) {
	if remote.IsEmpty() || remote.Equal(r.local) {
		return nil, ErrLoopbackPeer
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if p, ok := r.clients[remote]; ok {
		r.mu.Unlock()
		if !p.Node().Equal(remote) {
			logger.Error("客户端表项节点不符", "want", remote.ShortString(), "got", p.Node().ShortString())
			return nil, ErrNodeIDMismatch
		}
		return p, nil
	}
	r.mu.Unlock()

	v, err, _ := r.flight.Do("client/"+remote.String(), func() (interface{}, error) {
		// 合流窗口内可能已有他人建好
		r.mu.Lock()
		if p, ok := r.clients[remote]; ok {
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		p, err := r.factory.NewPeer(ctx, types.RoleInitiator, remote, types.NewConnectionID())
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = p.Close()
			return nil, ErrRegistryClosed
		}
		r.clients[remote] = p
		r.connections[p.ConnectionID()] = p
		r.mu.Unlock()

		r.bumpCreated(types.RoleInitiator)
		logger.Info("客户端对等体建立",
			"node", remote.ShortString(), "conn", p.ConnectionID().ShortString())
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(interfaces.Peer), nil
}

// Lookup 按连接标识定位对等体
//
// 已登记的连接核对节点标识后返回。未登记时只有"发起"报文会以
// 服务端角色创建对等体；"后续"报文返回 ErrUnknownConnection。
func (r *Registry) Lookup(ctx context.Context, connID types.ConnectionID, packet types.PacketType, remote types.NodeID) (interfaces.Peer, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if p, ok := r.connections[connID]; ok {
		r.mu.Unlock()
		if !p.Node().Equal(remote) {
			logger.Error("连接表项节点不符",
				"conn", connID.ShortString(), "want", remote.ShortString(), "got", p.Node().ShortString())
			return nil, ErrNodeIDMismatch
		}
		return p, nil
	}
	r.mu.Unlock()

	if packet != types.PacketInitiation {
		return nil, ErrUnknownConnection
	}
	if remote.IsEmpty() || remote.Equal(r.local) {
		return nil, ErrLoopbackPeer
	}

	// 同一连接的重复发起报文合并为一次创建
	v, err, _ := r.flight.Do("server/"+connID.ShortString(), func() (interface{}, error) {
		r.mu.Lock()
		if p, ok := r.connections[connID]; ok {
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		p, err := r.factory.NewPeer(ctx, types.RoleAcceptor, remote, connID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = p.Close()
			return nil, ErrRegistryClosed
		}
		r.servers[remote] = append(r.servers[remote], p)
		r.connections[connID] = p
		r.mu.Unlock()

		r.bumpCreated(types.RoleAcceptor)
		logger.Info("服务端对等体建立",
			"node", remote.ShortString(), "conn", connID.ShortString())
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := v.(interfaces.Peer)
	if !p.Node().Equal(remote) {
		return nil, ErrNodeIDMismatch
	}
	return p, nil
}

// Remove 按连接标识移除对等体并关闭它
//
// clients/servers 槽位按对象同一性摘除：槽位可能已被更新的对等体
// 占据，此时只动连接索引。被移除的是客户端、且移除并非路由错误
// 所致、且当前转发快照仍有通往该节点的路由时，立即在后台尝试
// 复活；失败只记日志，由转发表监视者在下一个快照重试。
func (r *Registry) Remove(connID types.ConnectionID, dueToRoutingError bool) {
	r.mu.Lock()
	p, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, connID)

	node := p.Node()
	wasClient := false
	if cur, ok := r.clients[node]; ok && cur == p {
		delete(r.clients, node)
		wasClient = true
	}
	if list, ok := r.servers[node]; ok {
		kept := list[:0]
		for _, sp := range list {
			if sp != p {
				kept = append(kept, sp)
			}
		}
		if len(kept) == 0 {
			delete(r.servers, node)
		} else {
			r.servers[node] = kept
		}
	}
	closed := r.closed
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PeersActive.WithLabelValues(p.Role().String()).Dec()
	}
	_ = p.Close()
	logger.Debug("对等体移除",
		"node", node.ShortString(), "conn", connID.ShortString(),
		"routing_error", dueToRoutingError)

	if closed || !wasClient || dueToRoutingError {
		return
	}
	if r.routes == nil || !r.routes.Current().Has(node) {
		return
	}
	go r.revive(node)
}

// revive 客户端对等体意外消亡后的即时重建
func (r *Registry) revive(node types.NodeID) {
	ctx, cancel := context.WithTimeout(context.Background(), reviveTimeout)
	defer cancel()
	if _, err := r.GetClient(ctx, node); err != nil {
		logger.Warn("对等体复活失败", "node", node.ShortString(), "err", err)
		return
	}
	if r.metrics != nil {
		r.metrics.PeerRevivals.Inc()
	}
	logger.Info("对等体已复活", "node", node.ShortString())
}

// Get 按连接标识查找在场对等体；不存在时返回 nil
func (r *Registry) Get(connID types.ConnectionID) interfaces.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections[connID]
}

// List 返回全部在场对等体的快照（诊断用）
func (r *Registry) List() []interfaces.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interfaces.Peer, 0, len(r.connections))
	for _, p := range r.connections {
		out = append(out, p)
	}
	return out
}

// Len 返回在场对等体数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Close 关闭注册表和所有对等体
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	peers := make([]interfaces.Peer, 0, len(r.connections))
	for _, p := range r.connections {
		peers = append(peers, p)
	}
	r.clients = make(map[types.NodeID]interfaces.Peer)
	r.servers = make(map[types.NodeID][]interfaces.Peer)
	r.connections = make(map[types.ConnectionID]interfaces.Peer)
	r.mu.Unlock()

	var errs error
	for _, p := range peers {
		errs = multierr.Append(errs, p.Close())
	}
	return errs
}

func (r *Registry) bumpCreated(role types.PeerRole) {
	if r.metrics == nil {
		return
	}
	r.metrics.PeersCreated.WithLabelValues(role.String()).Inc()
	r.metrics.PeersActive.WithLabelValues(role.String()).Inc()
}
