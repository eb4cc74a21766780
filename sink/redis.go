package sink

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"obd-signal-core/codec"
	"obd-signal-core/logger"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	// History is how many points are kept per signal; 0 disables history.
	History int64
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// Redis publishes samples on a channel and keeps a bounded history list
// per signal.
type Redis struct {
	client redisClient
	opts   RedisOptions
}

// point is one history entry.
type point struct {
	Time time.Time `json:"time"`
	codec.Measurement
}

func (p point) MarshalJSON() ([]byte, error) {
	m, err := p.Measurement.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(m, &fields); err != nil {
		return nil, err
	}
	fields["time"] = p.Time
	return json.Marshal(fields)
}

func DialRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect redis %s", opts.Addr)
	}
	logger.G(ctx).WithField("addr", opts.Addr).Info("connected to redis")
	return newRedis(client, opts), nil
}

func newRedis(client redisClient, opts RedisOptions) *Redis {
	if opts.Channel == "" {
		opts.Channel = "obd:samples"
	}
	return &Redis{client: client, opts: opts}
}

func HistoryKey(signalID string) string {
	return "obd:" + signalID + ":history"
}

func (r *Redis) Publish(ctx context.Context, s Sample) error {
	payload, err := encode(s)
	if err != nil {
		return errors.Wrap(err, "encode sample")
	}
	if err := r.client.Publish(ctx, r.opts.Channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "redis publish %s", r.opts.Channel)
	}
	if r.opts.History <= 0 {
		return nil
	}

	for id, m := range s.Values {
		data, err := encode(point{Time: s.Time, Measurement: m})
		if err != nil {
			return errors.Wrapf(err, "encode %s", id)
		}
		key := HistoryKey(id)
		if err := r.client.LPush(ctx, key, data).Err(); err != nil {
			logger.G(ctx).WithError(err).WithField("key", key).Warn("history push failed")
			continue
		}
		if err := r.client.LTrim(ctx, key, 0, r.opts.History-1).Err(); err != nil {
			logger.G(ctx).WithError(err).WithField("key", key).Warn("history trim failed")
		}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
