// Package interfaces 定义 Fabric 核心组件之间的契约
//
// 本包只有接口与少量值类型，不含实现：
//   - Connection / Stream：传输层连接与流（QUIC 或内存传输提供）
//   - Peer / PeerFactory：与远端节点的逻辑半连接及其工厂
//   - Handle / HandleRuntime：可跨网络代理的本地能力句柄
//   - Routes / ServiceMap / SecurityContext：路由、服务、安全协作者
//   - Link 及其端点：点对点链路抽象
//
// 实现位于 internal/core 下的各引擎包；依赖方向始终是实现依赖契约。
package interfaces
