// Package mocks 提供统一的测试 Mock 实现
//
// 本包为核心接口提供标准化的测试双（Test Doubles），
// 供注册表、转发表监视器等单元测试注入可控行为。
//
// # 核心 Mock
//
//   - MockPeer: 模拟 interfaces.Peer，记录关闭次数，支持覆盖各流操作
//   - MockPeerFactory: 模拟 interfaces.PeerFactory，支持注入失败与人为延迟
//   - MockRoutes: 模拟 interfaces.Routes，直接以内存转发表应答
//
// # 设计原则
//
// 1. 函数式注入: 每个 Mock 都支持通过 XxxFunc 字段注入自定义行为
// 2. 调用记录: 关键 Mock 记录调用历史，便于验证测试行为
// 3. 简化实现: 部分 Mock 不完全实现接口，仅提供测试所需的核心功能
//
// # 使用示例
//
// 基础用法:
//
//	import "github.com/dep2p/go-fabric/tests/mocks"
//
//	func TestRegistry(t *testing.T) {
//	    factory := &mocks.MockPeerFactory{}
//	    // 使用默认行为：工厂铸造 MockPeer 并记录
//	}
//
// 自定义行为:
//
//	factory := &mocks.MockPeerFactory{
//	    FailWith: errors.New("dial refused"),
//	}
//
// 验证调用:
//
//	if factory.CallCount() != 2 {
//	    t.Errorf("期望 2 次创建，实际 %d", factory.CallCount())
//	}
package mocks
