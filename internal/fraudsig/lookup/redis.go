package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

// Redis reads accounts stored as hashes under prefix+account_id with fields
// name, email, phone and address.
type Redis struct {
	c      *redis.Client
	prefix string
}

// OpenRedis parses a redis:// or rediss:// URL and pings once.
func OpenRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lookup: parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("lookup: redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "account:"
	}
	return &Redis{c: c, prefix: prefix}, nil
}

func (r *Redis) Get(ctx context.Context, id string) (model.Account, bool, error) {
	m, err := r.c.HGetAll(ctx, r.prefix+id).Result()
	if err != nil {
		return model.Account{}, false, err
	}
	a, ok := accountFromHash(id, m)
	return a, ok, nil
}

// accountFromHash maps an HGETALL reply; a missing key replies with no fields.
func accountFromHash(id string, m map[string]string) (model.Account, bool) {
	if len(m) == 0 {
		return model.Account{}, false
	}
	return model.Account{
		AccountID: id,
		Name:      m["name"],
		Email:     m["email"],
		Phone:     m["phone"],
		Address:   m["address"],
	}, true
}

func (r *Redis) Close() error { return r.c.Close() }
