package types

import "golang.org/x/exp/maps"

// ============================================================================
//                         ForwardingTable - 转发表快照
// ============================================================================

// NextHop 去往某目的节点的下一跳
type NextHop struct {
	// Link 承载下一跳的链路
	Link LinkID
	// Via 下一跳邻居节点
	Via NodeID
}

// ForwardingTable 转发表快照
//
// 不可变：每次更新由 Routes 协作者整表替换，绝不增量修改。
// 持有者只读；需要修改时先 Clone。
// 快照中绝不包含去往本节点自身的路由。
type ForwardingTable map[NodeID]NextHop

// Has 检查快照中是否存在去往 node 的路由
func (t ForwardingTable) Has(node NodeID) bool {
	_, ok := t[node]
	return ok
}

// NextHopTo 查询去往 node 的下一跳
func (t ForwardingTable) NextHopTo(node NodeID) (NextHop, bool) {
	hop, ok := t[node]
	return hop, ok
}

// Destinations 返回快照中所有可达目的节点
func (t ForwardingTable) Destinations() []NodeID {
	return maps.Keys(t)
}

// Clone 返回快照的可修改副本
func (t ForwardingTable) Clone() ForwardingTable {
	return maps.Clone(t)
}

// Len 返回快照中的路由条数
func (t ForwardingTable) Len() int {
	return len(t)
}
