// Package observable 提供保留最新值的观察者原语
//
// 一个 Value 持有某类型的最新值；订阅者在订阅时立即收到当前值，
// 其后每次 Set 收到新值。慢消费者只看到最后一个值（中间值被换掉），
// 适合"整表替换"类快照的分发。
package observable

import "sync"

// ============================================================================
//                              Value - 可观察值
// ============================================================================

// Value 保留最新语义的可观察值
type Value[T any] struct {
	mu   sync.Mutex
	cur  T
	set  bool
	subs map[*Subscription[T]]struct{}
}

// NewValue 创建尚无值的 Value
func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[*Subscription[T]]struct{})}
}

// NewValueOf 创建带初始值的 Value
func NewValueOf[T any](initial T) *Value[T] {
	v := NewValue[T]()
	v.cur = initial
	v.set = true
	return v
}

// Set 发布新值
//
// 所有订阅者收到新值；尚未消费旧值的订阅者只看到新值。
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = val
	v.set = true
	for s := range v.subs {
		s.push(val)
	}
}

// Get 返回当前值；从未 Set 过时 ok=false
func (v *Value[T]) Get() (val T, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur, v.set
}

// Subscribe 创建一个订阅
//
// 若已有当前值，订阅通道立即可读到它。
func (v *Value[T]) Subscribe() *Subscription[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := &Subscription[T]{src: v, ch: make(chan T, 1)}
	v.subs[s] = struct{}{}
	if v.set {
		s.push(v.cur)
	}
	return s
}

// ============================================================================
//                           Subscription - 订阅
// ============================================================================

// Subscription 对一个 Value 的订阅
type Subscription[T any] struct {
	src *Value[T]
	ch  chan T
}

// C 返回接收通道；订阅关闭后通道被 close
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close 取消订阅并关闭接收通道
//
// 幂等；关闭后 Value 不再持有对订阅的引用。
func (s *Subscription[T]) Close() {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if _, ok := s.src.subs[s]; !ok {
		return
	}
	delete(s.src.subs, s)
	close(s.ch)
}

// push 投递新值，未消费的旧值被换掉
//
// 调用方持有 Value 锁，与 Close 互斥，不会写已关闭的通道。
func (s *Subscription[T]) push(val T) {
	select {
	case s.ch <- val:
	default:
		// 腾掉旧值再放新值：容量为一，排空后写入必然成功
		select {
		case <-s.ch:
		default:
		}
		s.ch <- val
	}
}
