package handle

import (
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                           Runtime - 句柄运行时
// ============================================================================

// Runtime 进程内句柄运行时
//
// 身份提取只认本包创建的半端；代理引擎从不自行解释句柄内部。
type Runtime struct{}

var _ interfaces.HandleRuntime = (*Runtime)(nil)

// NewRuntime 创建句柄运行时
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Identity 返回句柄的身份对
func (rt *Runtime) Identity(h interfaces.Handle) (types.HandleIdentity, error) {
	half, ok := h.(*Half)
	if !ok {
		return types.HandleIdentity{}, ErrForeignHandle
	}
	return half.Identity(), nil
}

// NewPair 创建指定类型的新句柄对
func (rt *Runtime) NewPair(kind types.HandleKind) (interfaces.Handle, interfaces.Handle, error) {
	a, b, err := NewPair(kind)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
