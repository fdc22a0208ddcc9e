package crm

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

// ContactFunc performs one contact lookup.
type ContactFunc func(ctx context.Context, id int64) (models.Contact, error)

type contactResult struct {
	contact models.Contact
	err     error
}

// ContactCache memoizes contact lookups for one run. Concurrent requests for the
// same id share a single in-flight lookup and failures are memoized too, so each
// id reaches the CRM at most once.
type ContactCache struct {
	fetch ContactFunc
	group singleflight.Group

	mu   sync.Mutex
	done map[int64]contactResult
}

func NewContactCache(fetch ContactFunc) *ContactCache {
	return &ContactCache{fetch: fetch, done: make(map[int64]contactResult)}
}

func (c *ContactCache) Get(ctx context.Context, id int64) (models.Contact, error) {
	if r, ok := c.lookup(id); ok {
		return r.contact, r.err
	}
	v, _, _ := c.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		if r, ok := c.lookup(id); ok {
			return r, nil
		}
		contact, err := c.fetch(ctx, id)
		r := contactResult{contact: contact, err: err}
		c.mu.Lock()
		c.done[id] = r
		c.mu.Unlock()
		return r, nil
	})
	r := v.(contactResult)
	return r.contact, r.err
}

// Len is the number of distinct ids looked up so far.
func (c *ContactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}

func (c *ContactCache) lookup(id int64) (contactResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.done[id]
	return r, ok
}
