package paramstore

import (
	"context"
	"errors"
	"sync"
)

// Cache memoizes successful lookups for the lifetime of the process. Failed
// lookups are not cached, so a transient SSM error is retried on the next
// request instead of poisoning the warm Lambda container.
type Cache struct {
	next Getter

	mu   sync.RWMutex
	vals map[string]string
}

// NewCache wraps next with a success-only cache.
func NewCache(next Getter) (*Cache, error) {
	if next == nil {
		return nil, errors.New("paramstore: cache source must not be nil")
	}
	return &Cache{next: next, vals: make(map[string]string)}, nil
}

func (c *Cache) GetParameter(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.vals[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.next.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.vals[name] = v
	c.mu.Unlock()
	return v, nil
}
