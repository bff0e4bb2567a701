package index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/btree"

	"hermes/redis/resp"
	"hermes/settings"
)

var ErrUnsupportedIndex = errors.New("index: unsupported index type")

// Indexer 抽象索引接口，key 到 Frame 的映射，实现自己负责并发安全
type Indexer interface {
	// Put 写入 key 对应的值，返回旧值以及旧值是否存在
	Put(key string, value resp.Frame) (resp.Frame, bool)

	// Get 根据 key 取出对应的值
	Get(key string) (resp.Frame, bool)

	// Delete 根据 key 删除对应的值
	Delete(key string) (resp.Frame, bool)

	// Size 索引中的数据量
	Size() int

	// Iterator 索引迭代器，迭代的是创建时刻的快照
	Iterator(reverse bool) Iterator

	// Close 关闭索引
	Close() error
}

// NewIndexer 根据类型初始化索引
func NewIndexer(typ settings.IndexerType) (Indexer, error) {
	switch typ {
	case settings.BTree:
		return NewBTree(), nil
	case settings.ART:
		return NewART(), nil
	case settings.Skiplist:
		return NewSkipList(), nil
	case settings.HashMap:
		return NewHashMap(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedIndex, typ)
	}
}

// Item 索引中的一条数据
type Item struct {
	key   string
	value resp.Frame
}

func (it *Item) Less(than btree.Item) bool {
	return it.key < than.(*Item).key
}

// Iterator 通用索引迭代器
type Iterator interface {
	// Rewind 重新回到迭代器的起点，即第一个数据
	Rewind()

	// Seek 根据传入的 key 查找到第一个大于（或小于）等于的目标 key，从这个 key 开始遍历
	Seek(key string)

	// Next 跳转到下一个 key
	Next()

	// Valid 是否有效，即是否已经遍历完了所有的 key，用于退出遍历
	Valid() bool

	// Key 当前遍历位置的 Key 数据
	Key() string

	// Value 当前遍历位置的 Value 数据
	Value() resp.Frame

	// Close 关闭迭代器，释放相应资源
	Close()
}

// snapshotIterator 基于有序快照的迭代器，各索引共用
type snapshotIterator struct {
	currIndex int     // 当前遍历的下标位置
	reverse   bool    // 是否反向遍历
	values    []*Item // key + value
}

func newSnapshotIterator(values []*Item, reverse bool) *snapshotIterator {
	sort.Slice(values, func(i, j int) bool {
		if reverse {
			return values[i].key > values[j].key
		}
		return values[i].key < values[j].key
	})
	return &snapshotIterator{
		currIndex: 0,
		reverse:   reverse,
		values:    values,
	}
}

func (s *snapshotIterator) Rewind() {
	s.currIndex = 0
}

func (s *snapshotIterator) Seek(key string) {
	if s.reverse {
		s.currIndex = sort.Search(len(s.values), func(i int) bool {
			return s.values[i].key <= key
		})
	} else {
		s.currIndex = sort.Search(len(s.values), func(i int) bool {
			return s.values[i].key >= key
		})
	}
}

func (s *snapshotIterator) Next() {
	s.currIndex += 1
}

func (s *snapshotIterator) Valid() bool {
	return s.currIndex < len(s.values)
}

func (s *snapshotIterator) Key() string {
	return s.values[s.currIndex].key
}

func (s *snapshotIterator) Value() resp.Frame {
	return s.values[s.currIndex].value
}

func (s *snapshotIterator) Close() {
	s.values = nil
}
