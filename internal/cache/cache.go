package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache: LRU с TTL. Ограничение по числу записей.
type Cache struct {
	mu sync.Mutex

	items     map[string]*list.Element
	evictList *list.List // front = самый свежий

	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	hits, misses, evicted uint64
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Metrics: снимок статистики кэша.
type Metrics struct {
	Hits    uint64
	Misses  uint64
	Evicted uint64
	Len     int
}

func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// New создаёт кэш. maxEntries <= 0: без ограничения, ttl <= 0: без истечения.
func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := elem.Value.(*entry)
	if !ent.expiresAt.IsZero() && c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}
	c.evictList.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

// Set кладёт значение с TTL по умолчанию.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = exp
		c.evictList.MoveToFront(elem)
		return
	}

	elem := c.evictList.PushFront(&entry{key: key, value: value, expiresAt: exp})
	c.items[key] = elem

	for c.maxEntries > 0 && c.evictList.Len() > c.maxEntries {
		if oldest := c.evictList.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evicted++
		}
	}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{Hits: c.hits, Misses: c.misses, Evicted: c.evicted, Len: c.evictList.Len()}
}

// removeElement: вызывать под c.mu
func (c *Cache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
