package quic

import (
	"fmt"
	"net"
	"sync"

	"github.com/dep2p/go-fabric/pkg/types"
)

// ============================================================================
//                          AddressBook - 地址簿
// ============================================================================

// AddressBook 节点到 UDP 地址的映射
//
// 本核心不含节点发现：地址由配置或上层应用登记。
type AddressBook struct {
	mu    sync.RWMutex
	addrs map[types.NodeID]*net.UDPAddr
}

// NewAddressBook 创建空地址簿
func NewAddressBook() *AddressBook {
	return &AddressBook{addrs: make(map[types.NodeID]*net.UDPAddr)}
}

// SetAddr 登记节点的 "host:port" 地址
func (b *AddressBook) SetAddr(node types.NodeID, addr string) error {
	udp, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("解析地址 %q: %w", addr, err)
	}
	b.SetUDPAddr(node, udp)
	return nil
}

// SetUDPAddr 登记节点的 UDP 地址
func (b *AddressBook) SetUDPAddr(node types.NodeID, addr *net.UDPAddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs[node] = addr
}

// Resolve 查出节点的 UDP 地址
func (b *AddressBook) Resolve(node types.NodeID) (*net.UDPAddr, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.addrs[node]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, node.ShortString())
	}
	return addr, nil
}

// Remove 移除节点的地址；不存在时为空操作
func (b *AddressBook) Remove(node types.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addrs, node)
}

// Len 返回登记的地址数
func (b *AddressBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addrs)
}
