package index

import (
	"sync"

	"hermes/redis/resp"
)

// HashMap 内置 map 实现的无序索引，默认索引类型
type HashMap struct {
	m    map[string]resp.Frame
	lock *sync.RWMutex
}

func NewHashMap() *HashMap {
	return &HashMap{
		m:    make(map[string]resp.Frame),
		lock: new(sync.RWMutex),
	}
}

func (h *HashMap) Put(key string, value resp.Frame) (resp.Frame, bool) {
	h.lock.Lock()
	old, ok := h.m[key]
	h.m[key] = value
	h.lock.Unlock()
	return old, ok
}

func (h *HashMap) Get(key string) (resp.Frame, bool) {
	h.lock.RLock()
	value, ok := h.m[key]
	h.lock.RUnlock()
	return value, ok
}

func (h *HashMap) Delete(key string) (resp.Frame, bool) {
	h.lock.Lock()
	old, ok := h.m[key]
	delete(h.m, key)
	h.lock.Unlock()
	return old, ok
}

func (h *HashMap) Size() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.m)
}

func (h *HashMap) Iterator(reverse bool) Iterator {
	h.lock.RLock()
	values := make([]*Item, 0, len(h.m))
	for k, v := range h.m {
		values = append(values, &Item{key: k, value: v})
	}
	h.lock.RUnlock()
	return newSnapshotIterator(values, reverse)
}

func (h *HashMap) Close() error {
	return nil
}
