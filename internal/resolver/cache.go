package resolver

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arthurfait/perfgrind/internal/profile"
)

type cacheKey struct {
	fileName   string
	objectSize uint64
}

// Cache memoizes resolvers per object file and object size, so several
// memory objects backed by the same image with the same size parse its
// symbol metadata once while the entry stays cached.
type Cache struct {
	resolvers *lru.Cache[cacheKey, *Resolver]
}

func NewCache(size int) (*Cache, error) {
	resolvers, err := lru.New[cacheKey, *Resolver](size)
	if err != nil {
		return nil, err
	}
	return &Cache{resolvers: resolvers}, nil
}

// Open returns a resolver for the file, building one on a cache miss.
// Failed builds are not cached, so a file that appears later is picked
// up on the next attempt. It satisfies profile.OpenSymbolizerFunc.
func (c *Cache) Open(fileName string, objectSize uint64) (profile.Symbolizer, error) {
	key := cacheKey{fileName: fileName, objectSize: objectSize}
	if r, ok := c.resolvers.Get(key); ok {
		return r, nil
	}
	r, err := New(fileName, objectSize)
	if err != nil {
		return nil, err
	}
	c.resolvers.Add(key, r)
	return r, nil
}
