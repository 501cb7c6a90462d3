package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type presenceEntry struct {
	Address string    `json:"address"`
	Since   time.Time `json:"since"`
}

// RedisPresence mirrors the PlayerRegistry into a Redis hash keyed by username so that
// other tools can see who is connected through this proxy.
type RedisPresence struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	stop   context.CancelFunc
}

var _ PresenceObserver = (*RedisPresence)(nil)

func NewRedisPresence(ctx context.Context, config RedisConfig) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis connection failed")
	}

	presence := &RedisPresence{
		client: client,
		key:    config.Key,
		ttl:    config.TTL,
	}

	// entries of a previous run are stale since no connection survives a restart
	if err := client.Del(pingCtx, presence.key).Err(); err != nil {
		logrus.WithError(err).WithField("key", presence.key).Warn("Could not clear presence hash")
	}

	refreshCtx, stop := context.WithCancel(ctx)
	presence.stop = stop
	if presence.ttl > 0 {
		// players can stay connected far longer than the TTL without anyone new joining
		go refreshPeriodically(refreshCtx, presence.ttl/2, presence.refreshExpiry)
	}

	logrus.
		WithField("addr", config.Addr).
		WithField("key", config.Key).
		Info("Mirroring connected players to redis")
	return presence, nil
}

func (p *RedisPresence) refreshExpiry(ctx context.Context) error {
	// Expire reports false when the hash is absent, which is fine with nobody connected
	if err := p.client.Expire(ctx, p.key, p.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis presence expiry refresh failed")
	}
	return nil
}

// refreshPeriodically calls refresh every interval until ctx is done
func refreshPeriodically(ctx context.Context, interval time.Duration, refresh func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := refresh(ctx); err != nil {
				logrus.WithError(err).Warn("Could not refresh presence expiry")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *RedisPresence) PlayerJoined(ctx context.Context, username string, address string) error {
	value, err := json.Marshal(presenceEntry{Address: address, Since: time.Now()})
	if err != nil {
		return errors.Wrap(err, "marshal presence entry")
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.key, username, value)
	if p.ttl > 0 {
		pipe.Expire(ctx, p.key, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis presence update failed")
	}
	return nil
}

func (p *RedisPresence) PlayerLeft(ctx context.Context, username string) error {
	if err := p.client.HDel(ctx, p.key, username).Err(); err != nil {
		return errors.Wrap(err, "redis presence removal failed")
	}
	return nil
}

func (p *RedisPresence) Close() error {
	p.stop()
	return p.client.Close()
}
