package index

import (
	"math/rand"
	"sync"

	"hermes/redis/resp"
)

const (
	// 跳表索引最⼤层数，可根据实际情况进⾏调整
	maxLevel int = 18
	// 用于决定在哪些层级上创建索引
	probability float64 = 0.5
)

type Node struct {
	key     string
	value   resp.Frame
	forward []*Node // 各层的下一个指针
}

type SkipList struct {
	head   *Node
	level  int
	length int
	lock   *sync.RWMutex
}

func newNode(key string, value resp.Frame, level int) *Node {
	return &Node{
		key:     key,
		value:   value,
		forward: make([]*Node, level),
	}
}

func NewSkipList() *SkipList {
	head := newNode("", resp.Frame{}, maxLevel)
	return &SkipList{
		head:   head,
		level:  1,
		length: 0,
		lock:   new(sync.RWMutex),
	}
}

func (sl *SkipList) randomLevel() int {
	level := 1
	for rand.Float64() < probability && level < maxLevel {
		level++
	}
	return level
}

func (sl *SkipList) Put(key string, value resp.Frame) (resp.Frame, bool) {
	sl.lock.Lock()
	defer sl.lock.Unlock()

	update := make([]*Node, maxLevel)
	current := sl.head

	for i := sl.level - 1; i >= 0; i-- {
		// 在当前层查找插入位置
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		update[i] = current
	}

	if next := current.forward[0]; next != nil && next.key == key {
		// 如果键已存在，更新值并返回旧值
		oldVal := next.value
		next.value = value
		return oldVal, true
	}

	level := sl.randomLevel()
	if level > sl.level {
		// 如果新节点的层数大于当前层数，需要更新 update 切片
		for i := sl.level; i < level; i++ {
			update[i] = sl.head
		}
		sl.level = level
	}

	node := newNode(key, value, level)
	for i := 0; i < level; i++ {
		// 更新节点的各层指针
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	sl.length++
	return resp.Frame{}, false
}

func (sl *SkipList) Get(key string) (resp.Frame, bool) {
	sl.lock.RLock()
	defer sl.lock.RUnlock()

	current := sl.head

	for i := sl.level - 1; i >= 0; i-- {
		// 在当前层查找键值对
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		if next := current.forward[i]; next != nil && next.key == key {
			return next.value, true
		}
	}

	return resp.Frame{}, false
}

func (sl *SkipList) Delete(key string) (resp.Frame, bool) {
	sl.lock.Lock()
	defer sl.lock.Unlock()

	update := make([]*Node, maxLevel)
	current := sl.head

	for i := sl.level - 1; i >= 0; i-- {
		// 在当前层查找要删除的节点
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		update[i] = current
	}

	target := current.forward[0]
	if target == nil || target.key != key {
		return resp.Frame{}, false
	}

	// 找到要删除的节点并更新指针
	for i := 0; i < sl.level; i++ {
		if update[i].forward[i] != target {
			break
		}
		update[i].forward[i] = target.forward[i]
	}
	for sl.level > 1 && sl.head.forward[sl.level-1] == nil {
		sl.level--
	}
	sl.length--
	return target.value, true
}

func (sl *SkipList) Size() int {
	sl.lock.RLock()
	defer sl.lock.RUnlock()
	return sl.length
}

func (sl *SkipList) Iterator(reverse bool) Iterator {
	sl.lock.RLock()
	values := make([]*Item, 0, sl.length)
	for current := sl.head.forward[0]; current != nil; current = current.forward[0] {
		values = append(values, &Item{key: current.key, value: current.value})
	}
	sl.lock.RUnlock()
	return newSnapshotIterator(values, reverse)
}

func (sl *SkipList) Close() error {
	return nil
}
