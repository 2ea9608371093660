package tagstore

import (
	"context"
	"sort"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps tags in process memory. Values are lost on restart.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (m *MemoryStore) Get(_ context.Context, name string) ([]byte, bool, error) {
	v, ok := m.c.Get(name)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, name string, value []byte) error {
	m.c.Set(name, append([]byte(nil), value...), cache.NoExpiration)
	return nil
}

// Names lists stored tag names in sorted order.
func (m *MemoryStore) Names() []string {
	items := m.c.Items()
	names := make([]string, 0, len(items))
	for k := range items {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (m *MemoryStore) Close() error {
	m.c.Flush()
	return nil
}
