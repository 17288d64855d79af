package results

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each ranker's series in a Redis sorted set scored by
// iteration, so that points from separate processes interleave correctly.
// Keys live under "oltr:results:<run id>:".
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and scopes the store to one run.
func NewRedisStore(url, runID string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "oltr:results:" + runID + ":",
		ttl:    7 * 24 * time.Hour,
	}, nil
}

// SetTTL sets how long a run's keys are kept after the last write.
func (rs *RedisStore) SetTTL(ttl time.Duration) {
	rs.ttl = ttl
}

func (rs *RedisStore) namesKey() string { return rs.prefix + "rankers" }

func (rs *RedisStore) seriesKey(ranker string) string { return rs.prefix + "series:" + ranker }

// Append implements Store.
func (rs *RedisStore) Append(ctx context.Context, ranker string, p Point) error {
	member, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding point: %w", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.ZAdd(ctx, rs.seriesKey(ranker), redis.Z{
		Score:  float64(p.Iteration),
		Member: string(member),
	})
	pipe.SAdd(ctx, rs.namesKey(), ranker)
	if rs.ttl > 0 {
		pipe.Expire(ctx, rs.seriesKey(ranker), rs.ttl)
		pipe.Expire(ctx, rs.namesKey(), rs.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving point: %w", err)
	}
	return nil
}

// Series implements Store.
func (rs *RedisStore) Series(ctx context.Context) (Series, error) {
	names, err := rs.client.SMembers(ctx, rs.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing rankers: %w", err)
	}
	sort.Strings(names)

	out := make(Series, len(names))
	for _, name := range names {
		members, err := rs.client.ZRange(ctx, rs.seriesKey(name), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("loading series %s: %w", name, err)
		}
		points := make([]Point, 0, len(members))
		for _, m := range members {
			var p Point
			if err := json.Unmarshal([]byte(m), &p); err != nil {
				// Skip invalid entries
				continue
			}
			points = append(points, p)
		}
		out[name] = points
	}
	return out, nil
}

// Delete removes every key of the run.
func (rs *RedisStore) Delete(ctx context.Context) error {
	names, err := rs.client.SMembers(ctx, rs.namesKey()).Result()
	if err != nil {
		return fmt.Errorf("listing rankers: %w", err)
	}
	keys := []string{rs.namesKey()}
	for _, name := range names {
		keys = append(keys, rs.seriesKey(name))
	}
	if err := rs.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return nil
}

// Close implements Store.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
