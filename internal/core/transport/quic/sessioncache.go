package quic

import (
	"crypto/tls"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ============================================================================
//                      sessionCache - TLS 会话票据缓存
// ============================================================================

// sessionCache 按服务端地址缓存 TLS 会话票据，支撑 0-RTT 重连
//
// LRU 淘汰：对失联已久的节点，票据迟早被活跃节点挤出。
type sessionCache struct {
	entries *lru.Cache[string, *tls.ClientSessionState]
}

var _ tls.ClientSessionCache = (*sessionCache)(nil)

// newSessionCache 创建容量为 size 的票据缓存
func newSessionCache(size int) (*sessionCache, error) {
	entries, err := lru.New[string, *tls.ClientSessionState](size)
	if err != nil {
		return nil, err
	}
	return &sessionCache{entries: entries}, nil
}

// Get 取出 sessionKey 对应的票据
func (c *sessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	return c.entries.Get(sessionKey)
}

// Put 存入票据；cs 为 nil 表示作废既有票据
func (c *sessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	if cs == nil {
		c.entries.Remove(sessionKey)
		return
	}
	c.entries.Add(sessionKey, cs)
}

// Len 当前缓存的票据数
func (c *sessionCache) Len() int {
	return c.entries.Len()
}
