package compiler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/qinglongcn/covenant/cache"
)

// Session 一次编译会话。会话内的编译结果共享缓存，会话之间互不影响。
type Session struct {
	cache *cache.Cache[*Object]

	mu       sync.Mutex
	waits    map[cache.Key]map[cache.Key]int // 父键 -> 正在等待的子键
	poisoned error

	evaluations atomic.Int64
}

// NewSession 创建空会话
func NewSession() *Session {
	return &Session{
		cache: cache.New[*Object](),
		waits: make(map[cache.Key]map[cache.Key]int),
	}
}

// Lookup 按键读取已编译的合约
func (s *Session) Lookup(key cache.Key) (*Object, bool) {
	return s.cache.Get(key)
}

// Len 会话中已编译的合约数量
func (s *Session) Len() int {
	return s.cache.Len()
}

// Keys 按完成顺序返回所有键
func (s *Session) Keys() []cache.Key {
	return s.cache.Keys()
}

// Evaluations 延续被求值的次数
func (s *Session) Evaluations() int64 {
	return s.evaluations.Load()
}

// Reset 清空会话缓存与中毒状态
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Clear()
	s.waits = make(map[cache.Key]map[cache.Key]int)
	s.poisoned = nil
}

func (s *Session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned != nil {
		return fmt.Errorf("%w: %v", ErrPoisoned, s.poisoned)
	}
	return nil
}

func (s *Session) poison(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned == nil {
		s.poisoned = err
	}
}

// await 登记 parent 的求值正在等待 child。
// 如果 child 的求值（传递地）正在等待 parent，等待会形成死锁，说明合约图有环。
func (s *Session) await(parent, child cache.Key) (release func(), cycle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parent == child || s.reachable(child, parent) {
		return nil, true
	}
	edges := s.waits[parent]
	if edges == nil {
		edges = make(map[cache.Key]int)
		s.waits[parent] = edges
	}
	edges[child]++

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if edges := s.waits[parent]; edges != nil {
			if edges[child]--; edges[child] <= 0 {
				delete(edges, child)
			}
			if len(edges) == 0 {
				delete(s.waits, parent)
			}
		}
	}, false
}

// reachable 调用方持有 mu
func (s *Session) reachable(from, to cache.Key) bool {
	seen := map[cache.Key]bool{from: true}
	stack := []cache.Key{from}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range s.waits[k] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
