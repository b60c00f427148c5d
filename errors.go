package fabric

import (
	"errors"

	"github.com/dep2p/go-fabric/internal/core/link"
	"github.com/dep2p/go-fabric/internal/core/peer"
	"github.com/dep2p/go-fabric/internal/core/proxy"
	"github.com/dep2p/go-fabric/internal/core/registry"
	"github.com/dep2p/go-fabric/internal/core/security"
	"github.com/dep2p/go-fabric/internal/core/transfer"
)

// ════════════════════════════════════════════════════════════════════════════
//                              公开错误
// ════════════════════════════════════════════════════════════════════════════

// 调用方可用 errors.Is 判别的稳定错误集。内部包各自定义哨兵，
// 这里按原名转出，公开面只此一处。

var (
	// ErrRouterClosed 路由器已关闭
	ErrRouterClosed = errors.New("路由器已关闭")

	// ErrCredentialFile 凭据文件缺失或不可读
	//
	// New 在装配任何组件之前返回它；三个路径（证书、私钥、信任根）
	// 任一有问题都落在这里。
	ErrCredentialFile = security.ErrCredentialFile

	// ErrLoopbackPeer 拒绝以本节点为目标建立对等体
	ErrLoopbackPeer = registry.ErrLoopbackPeer

	// ErrNodeIDMismatch 对端披露的节点身份与期望不符
	ErrNodeIDMismatch = registry.ErrNodeIDMismatch

	// ErrUnknownConnection 连接标识在注册表中没有在场对等体
	ErrUnknownConnection = registry.ErrUnknownConnection

	// ErrPeerClosed 对等体已关闭
	ErrPeerClosed = peer.ErrPeerClosed

	// ErrNoRoute 转发表中没有到达目的节点的路径
	ErrNoRoute = link.ErrNoRouteToNode

	// ErrLoopbackLink 拒绝以本节点为远端铸造链路
	ErrLoopbackLink = link.ErrLoopbackLink

	// ErrTTLExceeded 帧跳数耗尽
	ErrTTLExceeded = link.ErrTTLExceeded

	// ErrProxyCollision 代理表键冲突
	ErrProxyCollision = proxy.ErrProxyCollision

	// ErrPairMismatch 配对坍缩时记录的对端键不符
	ErrPairMismatch = proxy.ErrPairMismatch

	// ErrTransferCancelled 代理条目在传递中被撤销
	ErrTransferCancelled = proxy.ErrTransferCancelled

	// ErrDuplicateTransferPost 同一令牌重复挂出传递值
	ErrDuplicateTransferPost = transfer.ErrDuplicateTransferPost
)
