// Package hermes is an in-memory key-value store that speaks the redis
// protocol and offers a minimal publish/subscribe facility.
package hermes

import (
	"github.com/tidwall/match"

	"hermes/index"
	"hermes/redis/resp"
	"hermes/settings"
)

// DB 存储引擎，所有连接共享同一个实例
type DB struct {
	index index.Indexer
}

// Open 根据配置创建存储引擎
func Open(opts *settings.DBConfig) (*DB, error) {
	idx, err := index.NewIndexer(opts.IndexType)
	if err != nil {
		return nil, err
	}
	return &DB{index: idx}, nil
}

// Get 取出 key 对应的值，key 不存在时返回 Null
func (db *DB) Get(key string) resp.Frame {
	value, ok := db.index.Get(key)
	if !ok {
		return resp.NewNull()
	}
	return value
}

// Set 整体替换 key 对应的值
func (db *DB) Set(key string, value resp.Frame) {
	db.index.Put(key, value)
}

// Del 删除若干 key，返回实际删除的个数
func (db *DB) Del(keys ...string) int {
	n := 0
	for _, key := range keys {
		if _, ok := db.index.Delete(key); ok {
			n++
		}
	}
	return n
}

// Exists 返回存在的 key 的个数，重复的 key 重复计数
func (db *DB) Exists(keys ...string) int {
	n := 0
	for _, key := range keys {
		if _, ok := db.index.Get(key); ok {
			n++
		}
	}
	return n
}

// Keys 返回匹配 glob 模式的所有 key，按字典序排列
func (db *DB) Keys(pattern string) []string {
	iter := db.index.Iterator(false)
	defer iter.Close()

	keys := make([]string, 0)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if pattern == "*" || match.Match(iter.Key(), pattern) {
			keys = append(keys, iter.Key())
		}
	}
	return keys
}

// Size 数据量
func (db *DB) Size() int {
	return db.index.Size()
}

func (db *DB) Close() error {
	return db.index.Close()
}
