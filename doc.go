// Package fabric 提供网格覆盖网络的路由与能力转发核心
//
// Fabric 把一组节点组成可多跳转发的网格：节点之间经链路互联，
// 帧按转发表逐跳送达；任意两个节点之上可以建立逻辑连接，承载
// 服务接入、句柄代理与传递会合三类能力。
//
// # 核心概念
//
// Fabric 围绕四个核心概念构建：
//
//   - Router: 网格节点的根门面，用户交互的主入口
//   - Peer: 两个节点之间的一条逻辑半连接，按发起方/接受方分角色
//   - Link: 把帧送到直接邻居的点对点链路，转发面在其上做多跳路由
//   - Handle: 可在节点间移交承载权的双向通道端点
//
// # 快速开始
//
//	import "github.com/dep2p/go-fabric"
//
//	// 1. 创建并启动路由器
//	router, err := fabric.New(
//	    fabric.WithListenAddr("0.0.0.0:4433"),
//	    fabric.WithCredentialFiles("node.crt", "node.key", "root.crt"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer router.Close()
//
//	// 2. 注册本地服务
//	router.RegisterRawService("echo", func(ctx context.Context, h interfaces.Handle) error {
//	    go echoLoop(h)
//	    return nil
//	})
//
//	// 3. 接入远端服务
//	local, remote, _ := runtime.NewPair(types.HandleKindBytes)
//	if err := router.ConnectToService(ctx, peerNode, "echo", remote); err != nil {
//	    log.Fatal(err)
//	}
//
// # 能力
//
// 服务接入把句柄交给远端注册的服务提供者；句柄代理把句柄的
// 承载权移交到另一节点，两半句柄代理在同一连接上时自动配对
// 坍缩；传递会合以令牌为约定点交接流或熔合句柄。
//
// 对等体按需建立：向某节点首次发起操作时自动拨号；因路由错误
// 消亡的客户端对等体按策略自动复活。转发表由外部控制面经
// SetRoutes 安装，链路发布自动登记直连路由。
package fabric
