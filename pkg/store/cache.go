package store

import (
	"container/list"
	"sync"

	"github.com/lemonberrylabs/bindc/pkg/compiler"
	"github.com/lemonberrylabs/bindc/pkg/datacontext"
)

// DefaultCacheSize is used when NewBindingCache gets a non-positive size.
const DefaultCacheSize = 256

type cacheEntry struct {
	key      string
	stack    *datacontext.Stack
	compiled *compiler.CompiledExpression
}

// BindingCache is a thread-safe LRU cache of compiled bindings keyed by
// expression text and data context stack.
type BindingCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string][]*list.Element
}

// NewBindingCache creates a cache holding at most capacity entries.
func NewBindingCache(capacity int) *BindingCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &BindingCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string][]*list.Element),
	}
}

// Stacks built from distinct run-time types can render identically, so
// entries under one key are told apart with Stack.Equal.
func cacheKey(expression string, stack *datacontext.Stack) string {
	return expression + "\x00" + stack.String()
}

// Get returns a cached compilation and marks it most recently used.
func (c *BindingCache) Get(expression string, stack *datacontext.Stack) (*compiler.CompiledExpression, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, el := range c.items[cacheKey(expression, stack)] {
		e := el.Value.(*cacheEntry)
		if e.stack.Equal(stack) {
			c.ll.MoveToFront(el)
			return e.compiled, true
		}
	}
	return nil, false
}

// Put stores a compilation, evicting the least recently used entry when
// the cache is full.
func (c *BindingCache) Put(expression string, stack *datacontext.Stack, compiled *compiler.CompiledExpression) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(expression, stack)
	for _, el := range c.items[key] {
		e := el.Value.(*cacheEntry)
		if e.stack.Equal(stack) {
			e.compiled = compiled
			c.ll.MoveToFront(el)
			return
		}
	}

	if c.ll.Len() >= c.capacity {
		c.evictLocked()
	}
	el := c.ll.PushFront(&cacheEntry{key: key, stack: stack, compiled: compiled})
	c.items[key] = append(c.items[key], el)
}

// Len returns the number of cached entries.
func (c *BindingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Clear removes all entries.
func (c *BindingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string][]*list.Element)
}

func (c *BindingCache) evictLocked() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	key := el.Value.(*cacheEntry).key
	bucket := c.items[key]
	for i, other := range bucket {
		if other == el {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.items, key)
	} else {
		c.items[key] = bucket
	}
}
