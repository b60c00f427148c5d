package interfaces

import "github.com/dep2p/go-fabric/pkg/types"

// ============================================================================
//                              Routes - 路由协作者
// ============================================================================

// Routes 转发表的只读视图
//
// 快照整表替换、绝不增量修改；快照中绝不包含去往本节点的路由。
type Routes interface {
	// Current 返回最近一次发布的转发表快照
	Current() types.ForwardingTable

	// Watch 订阅快照序列
	//
	// 保留最新语义：订阅后立即收到当前快照（若已有），其后每次
	// 发布送达最新值，慢消费者只看到最后一个。返回的取消函数
	// 释放订阅，之后通道被关闭。
	Watch() (<-chan types.ForwardingTable, func())
}

// RoutesPublisher 可写的转发表来源
//
// 仓内自带的 Routes 实现；链路发布自动登记直连路由，
// 测试与上层路由协议通过 SetRoutes 注入完整快照。
type RoutesPublisher interface {
	Routes

	// SetRoutes 整表替换快照；去往本节点的条目被静默剔除
	SetRoutes(t types.ForwardingTable)

	// AddDirect 登记经由链路 l 直达 node 的路由
	AddDirect(node types.NodeID, l types.LinkID)

	// RemoveDirect 删除去往 node 的直连路由
	//
	// 只在现存条目确实经由链路 l 时生效：迟到的关闭通知
	// 不得误伤已经顶替上来的新链路。
	RemoveDirect(node types.NodeID, l types.LinkID)
}
