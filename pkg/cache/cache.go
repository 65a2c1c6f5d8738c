package cache

import (
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Clear()
	Size() int
}

// InMemoryCache 内存缓存实现（TTL + 容量上限，满时淘汰最早写入的项）
type InMemoryCache[K comparable, V any] struct {
	items      map[K]*cacheItem[V]
	order      []orderEntry[K] // 写入顺序，用于容量淘汰
	seq        uint64
	mu         sync.RWMutex
	defaultTTL time.Duration
	maxItems   int
	now        func() time.Time
	stopOnce   sync.Once
	stopCh     chan struct{}
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
	seq       uint64
}

// orderEntry 记录写入时的 seq；key 删除后重新写入会拿到新 seq，旧条目随之失效
type orderEntry[K comparable] struct {
	key K
	seq uint64
}

// Option 缓存选项
type Option func(*options)

type options struct {
	maxItems        int
	cleanupInterval time.Duration
	now             func() time.Time
}

// WithMaxItems 设置容量上限（<=0 表示不限制）
func WithMaxItems(n int) Option {
	return func(o *options) { o.maxItems = n }
}

// WithCleanupInterval 设置后台清理周期（<=0 表示不启动清理 goroutine）
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewInMemoryCache 创建新的内存缓存
func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration, opts ...Option) *InMemoryCache[K, V] {
	o := options{cleanupInterval: time.Minute, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	c := &InMemoryCache[K, V]{
		items:      make(map[K]*cacheItem[V]),
		defaultTTL: defaultTTL,
		maxItems:   o.maxItems,
		now:        o.now,
		stopCh:     make(chan struct{}),
	}
	if o.cleanupInterval > 0 {
		go c.startCleanup(o.cleanupInterval)
	}
	return c
}

// Get 获取缓存值（过期视为不存在）
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || c.now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set 设置缓存值；ttl 为 0 时使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	item, exists := c.items[key]
	if !exists {
		c.seq++
		item = &cacheItem[V]{seq: c.seq}
		c.items[key] = item
		c.order = append(c.order, orderEntry[K]{key: key, seq: item.seq})
	}
	item.value = value
	item.expiresAt = c.now().Add(ttl)
	c.evictLocked()
}

// Delete 删除缓存项
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear 清空缓存
func (c *InMemoryCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*cacheItem[V])
	c.order = nil
}

// Size 获取缓存大小（含尚未清理的过期项）
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close 停止后台清理
func (c *InMemoryCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// live 条目仍对应当前的缓存项
func (c *InMemoryCache[K, V]) live(e orderEntry[K]) bool {
	item, ok := c.items[e.key]
	return ok && item.seq == e.seq
}

// evictLocked 超过容量时按写入顺序淘汰；失效条目直接跳过
func (c *InMemoryCache[K, V]) evictLocked() {
	if c.maxItems <= 0 {
		return
	}
	for len(c.items) > c.maxItems && len(c.order) > 0 {
		e := c.order[0]
		c.order = c.order[1:]
		if c.live(e) {
			delete(c.items, e.key)
		}
	}
	// 删除和过期清理不动 order，偶尔压缩一次
	if len(c.order) > 4*c.maxItems {
		c.compactLocked()
	}
}

func (c *InMemoryCache[K, V]) compactLocked() {
	compact := make([]orderEntry[K], 0, len(c.items))
	for _, e := range c.order {
		if c.live(e) {
			compact = append(compact, e)
		}
	}
	c.order = compact
}

func (c *InMemoryCache[K, V]) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *InMemoryCache[K, V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
	c.compactLocked()
}

// ClosedIDSet 最近关闭（成交/撤单）的订单 id 集合。
// 迟到的下单响应在 id 已关闭后不能再把订单登记回去。
type ClosedIDSet struct {
	cache *InMemoryCache[int64, struct{}]
}

// NewClosedIDSet 创建集合；capacity 为容量上限，ttl 为保留时长
func NewClosedIDSet(capacity int, ttl time.Duration, opts ...Option) *ClosedIDSet {
	opts = append([]Option{WithMaxItems(capacity)}, opts...)
	return &ClosedIDSet{cache: NewInMemoryCache[int64, struct{}](ttl, opts...)}
}

// Mark 标记 id 已关闭
func (s *ClosedIDSet) Mark(id int64) {
	s.cache.Set(id, struct{}{}, 0)
}

// Contains 判断 id 是否最近关闭过
func (s *ClosedIDSet) Contains(id int64) bool {
	_, ok := s.cache.Get(id)
	return ok
}

// Len 当前条目数
func (s *ClosedIDSet) Len() int {
	return s.cache.Size()
}

// Close 停止后台清理
func (s *ClosedIDSet) Close() {
	s.cache.Close()
}
