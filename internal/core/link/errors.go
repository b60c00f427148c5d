package link

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrLinkClosed 链路已关闭
	ErrLinkClosed = errors.New("链路已关闭")

	// ErrLinkExists 链路标识已登记
	ErrLinkExists = errors.New("链路已发布")

	// ErrNilLink 链路不能为空
	ErrNilLink = errors.New("链路为空")

	// ErrNilToken 建立中令牌不能为空
	ErrNilToken = errors.New("链路令牌为空")

	// ErrLoopbackLink 不允许铸造指向本节点的链路
	ErrLoopbackLink = errors.New("拒绝回环链路：目标就是本节点")

	// ErrNoRouteToNode 转发表中没有去往目的节点的路由
	ErrNoRouteToNode = errors.New("无路由可达目的节点")

	// ErrTTLExceeded 帧跳数耗尽
	ErrTTLExceeded = errors.New("帧跳数耗尽")

	// ErrNoFrameHandler 本地帧处理器未注册
	ErrNoFrameHandler = errors.New("本地帧处理器未注册")

	// ErrClientRoutingOff 客户中转被策略关闭
	ErrClientRoutingOff = errors.New("客户链路中转已被策略关闭")
)
