package types

// ============================================================================
//                         HandleIdentity - 句柄身份
// ============================================================================

// HandleKey 句柄身份键
//
// 从句柄底层内核对象身份派生的不透明标识，在句柄生命周期内稳定。
type HandleKey uint64

// IsZero 检查键是否为零值
func (k HandleKey) IsZero() bool {
	return k == 0
}

// HandleIdentity 句柄身份对
//
// 同一内核对象的两端持有互换位置的键：
// 若 a 与 b 互为对端，则 a.This == b.Pair 且 a.Pair == b.This。
type HandleIdentity struct {
	// This 本端键
	This HandleKey
	// Pair 对端键
	Pair HandleKey
}

// Swap 返回对端视角的身份
func (id HandleIdentity) Swap() HandleIdentity {
	return HandleIdentity{This: id.Pair, Pair: id.This}
}

// IsZero 检查身份是否为零值
func (id HandleIdentity) IsZero() bool {
	return id.This.IsZero() && id.Pair.IsZero()
}
