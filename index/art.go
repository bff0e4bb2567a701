package index

import (
	"sync"

	art "github.com/plar/go-adaptive-radix-tree"

	"hermes/redis/resp"
)

// AdaptiveRadixTree 自适应基数树索引
type AdaptiveRadixTree struct {
	tree art.Tree
	lock *sync.RWMutex
}

func NewART() *AdaptiveRadixTree {
	return &AdaptiveRadixTree{
		tree: art.New(),
		lock: new(sync.RWMutex),
	}
}

func (a *AdaptiveRadixTree) Put(key string, value resp.Frame) (resp.Frame, bool) {
	a.lock.Lock()
	oldValue, updated := a.tree.Insert(art.Key(key), value)
	a.lock.Unlock()
	if !updated || oldValue == nil {
		return resp.Frame{}, false
	}
	return oldValue.(resp.Frame), true
}

func (a *AdaptiveRadixTree) Get(key string) (resp.Frame, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	value, found := a.tree.Search(art.Key(key))
	if !found {
		return resp.Frame{}, false
	}
	return value.(resp.Frame), true
}

func (a *AdaptiveRadixTree) Delete(key string) (resp.Frame, bool) {
	a.lock.Lock()
	oldValue, deleted := a.tree.Delete(art.Key(key))
	a.lock.Unlock()
	if !deleted || oldValue == nil {
		return resp.Frame{}, false
	}
	return oldValue.(resp.Frame), true
}

func (a *AdaptiveRadixTree) Size() int {
	a.lock.RLock()
	size := a.tree.Size()
	a.lock.RUnlock()
	return size
}

// Iterator 这里相当于创建一个快照
func (a *AdaptiveRadixTree) Iterator(reverse bool) Iterator {
	a.lock.RLock()
	values := make([]*Item, 0, a.tree.Size())
	a.tree.ForEach(func(node art.Node) bool {
		values = append(values, &Item{
			key:   string(node.Key()),
			value: node.Value().(resp.Frame),
		})
		return true
	})
	a.lock.RUnlock()
	return newSnapshotIterator(values, reverse)
}

func (a *AdaptiveRadixTree) Close() error {
	return nil
}
