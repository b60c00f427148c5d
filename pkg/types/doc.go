// Package types 定义 Fabric 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 fabric 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据：
//
//   - 标识类型：NodeID、ConnectionID、StreamID、LinkID
//   - 枚举类型：HandleKind、PeerRole、PacketType、LinkClass
//   - 代理类型：Frame、StreamRef、HandleDescription
//   - 传递类型：TransferToken
//   - 路由类型：ForwardingTable、NextHop
//   - 诊断类型：Diagnostics、PeerDiag、LinkDiag
package types
