package interfaces

// ============================================================================
//                          TransferValue - 传递解析值
// ============================================================================

// TransferValue 传递会合的解析值
//
// 恰好设置两个字段之一：
//   - Fused：两端都在本节点，句柄直接熔合，不经网络
//   - Stream：远端打开的承载流，句柄数据经由它传递
type TransferValue struct {
	Fused  Handle
	Stream Stream
}

// IsFused 报告解析值是否为本地熔合句柄
func (v TransferValue) IsFused() bool {
	return v.Fused != nil
}

// IsStream 报告解析值是否为网络承载流
func (v TransferValue) IsStream() bool {
	return v.Stream != nil
}
