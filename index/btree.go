package index

import (
	"sync"

	"github.com/google/btree"

	"hermes/redis/resp"
)

// BTree 索引，封装了 google 的 btree 库
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

func NewBTree() *BTree {
	return &BTree{
		tree: btree.New(32),
		lock: new(sync.RWMutex),
	}
}

func (bt *BTree) Put(key string, value resp.Frame) (resp.Frame, bool) {
	it := &Item{key: key, value: value}
	bt.lock.Lock()
	oldItem := bt.tree.ReplaceOrInsert(it)
	bt.lock.Unlock()
	if oldItem == nil {
		return resp.Frame{}, false
	}
	return oldItem.(*Item).value, true
}

func (bt *BTree) Get(key string) (resp.Frame, bool) {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	it := bt.tree.Get(&Item{key: key})
	if it == nil {
		return resp.Frame{}, false
	}
	return it.(*Item).value, true
}

func (bt *BTree) Delete(key string) (resp.Frame, bool) {
	bt.lock.Lock()
	oldItem := bt.tree.Delete(&Item{key: key})
	bt.lock.Unlock()
	if oldItem == nil {
		return resp.Frame{}, false
	}
	return oldItem.(*Item).value, true
}

func (bt *BTree) Size() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

func (bt *BTree) Iterator(reverse bool) Iterator {
	bt.lock.RLock()
	values := make([]*Item, 0, bt.tree.Len())
	bt.tree.Ascend(func(i btree.Item) bool {
		it := i.(*Item)
		values = append(values, &Item{key: it.key, value: it.value})
		return true
	})
	bt.lock.RUnlock()
	return newSnapshotIterator(values, reverse)
}

func (bt *BTree) Close() error {
	return nil
}
