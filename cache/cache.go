// 会话级编译缓存。
//
// 同一个键的并发请求只求值一次（singleflight 合并），完成的条目只追加不修改，
// 失败的求值不会被缓存。

package cache

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/sync/singleflight"
)

// Commitment 一个模板承诺：模板哈希和模板的线格式字节
type Commitment struct {
	Hash     chainhash.Hash
	Template []byte
}

// Value 可缓存的编译结果
type Value interface {
	// Fingerprint 覆盖结果全部内容的摘要，用于发现同键不同值
	Fingerprint() chainhash.Hash
	// Commitments 结果承诺的全部模板，无法序列化任何一个模板时返回错误
	Commitments() ([]Commitment, error)
}

// ConsistencyError 同一个键得到不同结果，或同一个模板哈希对应不同的模板字节
type ConsistencyError struct {
	Key    Key
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("cache consistency violated for %s: %s", e.Key.Short(), e.Reason)
}

// Cache 会话级编译缓存
type Cache[V Value] struct {
	mu      sync.RWMutex
	entries map[Key]V
	order   []Key
	commits map[chainhash.Hash][]byte

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New 创建空缓存
func New[V Value]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[Key]V),
		commits: make(map[chainhash.Hash][]byte),
	}
}

// Get 读取已完成的条目
func (c *Cache[V]) Get(key Key) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Do 返回 key 对应的结果。缓存未命中时调用 fn 求值，
// 并发的同键调用者等待同一次求值并共享其结果或错误。
func (c *Cache[V]) Do(key Key, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}

	res, err, _ := c.group.Do(string(key[:]), func() (interface{}, error) {
		// 上一轮 singleflight 可能刚刚完成并写入
		if v, ok := c.Get(key); ok {
			c.hits.Add(1)
			return v, nil
		}
		c.misses.Add(1)
		v, err := fn()
		if err != nil {
			return nil, err
		}
		return c.insert(key, v)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Put 直接写入一个结果，规则与 Do 的写入相同
func (c *Cache[V]) Put(key Key, v V) (V, error) {
	return c.insert(key, v)
}

// insert 追加条目。已有相同结果时返回已有值；结果不同或模板承诺冲突时返回 *ConsistencyError。
func (c *Cache[V]) insert(key Key, v V) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		if existing.Fingerprint() != v.Fingerprint() {
			var zero V
			return zero, &ConsistencyError{Key: key, Reason: "divergent result for identical inputs"}
		}
		return existing, nil
	}

	commits, err := v.Commitments()
	if err != nil {
		var zero V
		return zero, &ConsistencyError{Key: key, Reason: fmt.Sprintf("commitments unavailable: %v", err)}
	}
	for _, cm := range commits {
		if prev, ok := c.commits[cm.Hash]; ok && !bytes.Equal(prev, cm.Template) {
			var zero V
			return zero, &ConsistencyError{Key: key, Reason: fmt.Sprintf("template hash %s committed to different transactions", cm.Hash)}
		}
	}
	for _, cm := range commits {
		if _, ok := c.commits[cm.Hash]; !ok {
			c.commits[cm.Hash] = cm.Template
		}
	}

	c.entries[key] = v
	c.order = append(c.order, key)
	return v, nil
}

// Len 已完成条目数
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys 按写入顺序返回所有键
func (c *Cache[V]) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Key(nil), c.order...)
}

// Stats 命中与未命中次数
func (c *Cache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear 清空缓存，只能在会话边界调用
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]V)
	c.commits = make(map[chainhash.Hash][]byte)
	c.order = nil
}
