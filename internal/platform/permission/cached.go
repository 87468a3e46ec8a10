package permission

import (
	"context"
	"time"

	"github.com/xray/xray/internal/platform/auth"
	"github.com/xray/xray/internal/platform/cache"
)

// Cached memoizes another Checker's answers per user and codename. Errors are
// passed through and never stored.
type Cached struct {
	next  Checker
	store *cache.Store[bool]
	ttl   time.Duration
}

func NewCached(next Checker, store *cache.Store[bool], ttl time.Duration) *Cached {
	return &Cached{next: next, store: store, ttl: ttl}
}

func (c *Cached) HasPermission(ctx context.Context, codename string) (bool, error) {
	user := auth.UserIDFromContext(ctx)
	if user == "" {
		return c.next.HasPermission(ctx, codename)
	}

	key := user + "\x00" + codename
	if ok, hit := c.store.Get(key); hit {
		return ok, nil
	}
	ok, err := c.next.HasPermission(ctx, codename)
	if err != nil {
		return false, err
	}
	c.store.Set(key, ok, c.ttl)
	return ok, nil
}

// Forget drops every cached decision.
func (c *Cached) Forget() {
	c.store.Clear()
}
