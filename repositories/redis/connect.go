package redis

import (
	// Go Internal Packages
	"context"
	"strings"

	// External Packages
	"github.com/redis/go-redis/v9"
)

// Connect connects to redis and returns the client. uri is either host:port or a
// redis:// URL; a non empty password overrides the one in the URL.
func Connect(ctx context.Context, uri, password string) (*redis.Client, error) {
	opts := &redis.Options{Addr: uri}
	if strings.Contains(uri, "://") {
		parsed, err := redis.ParseURL(uri)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}
	if password != "" {
		opts.Password = password
	}
	opts.ClientName = "tx-tracker"

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
