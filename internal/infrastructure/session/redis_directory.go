package session

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
)

const (
	sessionKeyPrefix  = "mcpgw:session:"
	defaultSessionTTL = 30 * time.Minute
	redisScanBatch    = 100
)

// RedisDirectory mirrors sessions into redis so that operators of several
// gateway replicas can see who is connected. Entries expire on their own if
// a replica dies without cleaning up.
type RedisDirectory struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// RedisDirectoryOption configures a RedisDirectory
type RedisDirectoryOption func(*RedisDirectory)

// WithTTL sets how long an entry lives without being refreshed.
func WithTTL(ttl time.Duration) RedisDirectoryOption {
	return func(d *RedisDirectory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// NewRedisDirectory creates a directory backed by rdb.
func NewRedisDirectory(rdb redis.UniversalClient, options ...RedisDirectoryOption) *RedisDirectory {
	d := &RedisDirectory{rdb: rdb, ttl: defaultSessionTTL}
	for _, option := range options {
		option(d)
	}
	return d
}

// NewRedisDirectoryFromURL parses a redis:// URL and connects.
func NewRedisDirectoryFromURL(ctx context.Context, url string, options ...RedisDirectoryOption) (*RedisDirectory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisDirectory(rdb, options...), nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Put records or refreshes a session.
func (d *RedisDirectory) Put(ctx context.Context, info domain.SessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return errors.Wrap(d.rdb.Set(ctx, sessionKey(info.ID), data, d.ttl).Err(), "store session")
}

// Delete removes a session.
func (d *RedisDirectory) Delete(ctx context.Context, id string) error {
	return errors.Wrap(d.rdb.Del(ctx, sessionKey(id)).Err(), "delete session")
}

// List returns all recorded sessions ordered by id.
func (d *RedisDirectory) List(ctx context.Context) ([]domain.SessionInfo, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := d.rdb.Scan(ctx, cursor, sessionKeyPrefix+"*", redisScanBatch).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scan sessions")
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sessions := make([]domain.SessionInfo, 0, len(keys))
	for _, key := range keys {
		data, err := d.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", key)
		}
		var info domain.SessionInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, errors.Wrapf(err, "decode %s", key)
		}
		sessions = append(sessions, info)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// Close releases the redis connection.
func (d *RedisDirectory) Close() error {
	return d.rdb.Close()
}
