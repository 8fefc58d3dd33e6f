package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/commhub/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

type Debouncer struct {
	rdb *goredis.Client
}

var _ domain.Debouncer = (*Debouncer)(nil)

func NewDebouncer(rdb *goredis.Client) *Debouncer {
	return &Debouncer{rdb: rdb}
}

// ShouldTrigger returns true only for the first call per key within ttl.
func (d *Debouncer) ShouldTrigger(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := goredis.SetArgs{TTL: ttl, Mode: "NX"}
	_, err := d.rdb.SetArgs(ctx, "debounce:"+key, "1", args).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set debounce key: %w", err)
	}
	return true, nil
}
