package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/redis/resp"
	"hermes/settings"
)

var indexTypes = map[string]settings.IndexerType{
	"btree":    settings.BTree,
	"art":      settings.ART,
	"skiplist": settings.Skiplist,
	"hashmap":  settings.HashMap,
}

func TestNewIndexer_Unsupported(t *testing.T) {
	idx, err := NewIndexer(settings.IndexerType(99))
	assert.Nil(t, idx)
	assert.ErrorIs(t, err, ErrUnsupportedIndex)
}

func TestIndexer_PutGetDelete(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			idx, err := NewIndexer(typ)
			require.NoError(t, err)
			defer idx.Close()

			_, ok := idx.Get("a")
			assert.False(t, ok)

			_, ok = idx.Put("a", resp.NewBulkString("1"))
			assert.False(t, ok)
			old, ok := idx.Put("a", resp.NewBulkString("2"))
			assert.True(t, ok)
			assert.Equal(t, "1", old.Text())

			v, ok := idx.Get("a")
			assert.True(t, ok)
			assert.Equal(t, "2", v.Text())
			assert.Equal(t, 1, idx.Size())

			old, ok = idx.Delete("a")
			assert.True(t, ok)
			assert.Equal(t, "2", old.Text())
			_, ok = idx.Delete("a")
			assert.False(t, ok)
			assert.Equal(t, 0, idx.Size())
		})
	}
}

func TestIndexer_Iterator(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			idx, err := NewIndexer(typ)
			require.NoError(t, err)
			for _, k := range []string{"ccc", "aaa", "bbb", "ddd"} {
				idx.Put(k, resp.NewBulkString(k))
			}

			var keys []string
			iter := idx.Iterator(false)
			for iter.Rewind(); iter.Valid(); iter.Next() {
				keys = append(keys, iter.Key())
				assert.Equal(t, iter.Key(), iter.Value().Text())
			}
			iter.Close()
			assert.Equal(t, []string{"aaa", "bbb", "ccc", "ddd"}, keys)

			iter = idx.Iterator(false)
			iter.Seek("bbc")
			assert.True(t, iter.Valid())
			assert.Equal(t, "ccc", iter.Key())

			keys = keys[:0]
			iter = idx.Iterator(true)
			for iter.Rewind(); iter.Valid(); iter.Next() {
				keys = append(keys, iter.Key())
			}
			assert.Equal(t, []string{"ddd", "ccc", "bbb", "aaa"}, keys)

			iter.Seek("bbc")
			assert.True(t, iter.Valid())
			assert.Equal(t, "bbb", iter.Key())
		})
	}
}

func TestIndexer_Concurrent(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			idx, err := NewIndexer(typ)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						key := fmt.Sprintf("g%d-%d", g, i)
						idx.Put(key, resp.NewInteger(int64(i)))
						v, ok := idx.Get(key)
						assert.True(t, ok)
						assert.Equal(t, int64(i), v.Int())
					}
				}(g)
			}
			wg.Wait()
			assert.Equal(t, 8*200, idx.Size())
		})
	}
}
