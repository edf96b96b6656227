// Package cache 提供进程内的问答结果缓存。
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"company-qa-go/internal/model"
	"company-qa-go/pkg/log"
)

const defaultMaxSize = 256

// entry 是一条缓存记录。
type entry struct {
	result    model.ChatResult
	timestamp time.Time
}

// ResponseCache 是一个容量有限、带 TTL 的 LRU 缓存，键为规范化查询文本的哈希。
//
// Get 与 Put 各自是原子的；Get 命中会把条目移到最近使用的位置。过期只在 Get 时
// 惰性检查并删除，没有后台清理。存取的都是结果的副本，调用方修改返回值不会影响缓存。
type ResponseCache struct {
	entries *lru.Cache[string, *entry]
	ttl     time.Duration
	now     func() time.Time
	// mu 串行化 Put 与过期删除，避免删掉刚写入的新条目
	mu sync.Mutex
}

// Option 用于定制 ResponseCache。
type Option func(*ResponseCache)

// WithClock 替换时间来源，用于测试。
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// New 创建一个最多容纳 maxSize 条、条目存活 ttl 的缓存。
func New(maxSize int, ttl time.Duration, opts ...Option) *ResponseCache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	entries, err := lru.New[string, *entry](maxSize)
	if err != nil {
		// 只有 size <= 0 时才会出错
		panic(err)
	}
	c := &ResponseCache{entries: entries, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key 返回查询的缓存键：去除首尾空白并转小写后取 sha256。
func Key(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get 返回未过期的缓存结果。
func (c *ResponseCache) Get(query string) (model.ChatResult, bool) {
	key := Key(query)
	e, ok := c.entries.Get(key)
	if !ok {
		return model.ChatResult{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.timestamp) > c.ttl {
		c.removeIfSame(key, e)
		log.Debugf("[ResponseCache] 缓存已过期, key: %s", key[:12])
		return model.ChatResult{}, false
	}
	return e.result.Clone(), true
}

// Put 写入结果；容量已满时先淘汰最久未使用的条目。同一键后写覆盖先写。
func (c *ResponseCache) Put(query string, result model.ChatResult) {
	key := Key(query)
	stored := result.Clone()
	stored.Cached = false
	e := &entry{result: stored, timestamp: c.now()}
	c.mu.Lock()
	evicted := c.entries.Add(key, e)
	c.mu.Unlock()
	if evicted {
		log.Debugf("[ResponseCache] 容量已满，淘汰最久未使用的条目")
	}
}

// removeIfSame 仅当 key 仍指向过期条目 stale 时删除它。
func (c *ResponseCache) removeIfSame(key string, stale *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries.Peek(key); ok && cur == stale {
		c.entries.Remove(key)
	}
}

// Clear 无条件清空缓存，在知识库变更后调用。
func (c *ResponseCache) Clear() {
	n := c.entries.Len()
	c.entries.Purge()
	log.Infof("[ResponseCache] 缓存已清空, 移除 %d 条", n)
}

// Len 返回当前条目数（包含尚未被惰性删除的过期条目）。
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}
