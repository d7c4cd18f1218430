package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps deadlines in a sorted set scored by due time, with the
// deadline body stored under its own key.
type RedisTracker struct {
	client redis.UniversalClient
	prefix string
}

var _ DeadlineTracker = (*RedisTracker)(nil)

func NewRedisTracker(client redis.UniversalClient, prefix string) *RedisTracker {
	if prefix == "" {
		prefix = "ordersaga"
	}
	return &RedisTracker{client: client, prefix: prefix}
}

func (r *RedisTracker) indexKey() string {
	return r.prefix + ":deadlines"
}

func (r *RedisTracker) deadlineKey(member string) string {
	return r.prefix + ":deadline:" + member
}

func (r *RedisTracker) Track(ctx context.Context, d Deadline) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deadline: %w", err)
	}
	member := d.Key().String()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.deadlineKey(member), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(d.Due.UnixMilli()), Member: member})
		return nil
	})
	if err != nil {
		return fmt.Errorf("track deadline %s: %w", member, err)
	}
	return nil
}

func (r *RedisTracker) Pending(ctx context.Context, key Key) (Deadline, bool, error) {
	return r.load(ctx, r.client, key)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisTracker) load(ctx context.Context, c getter, key Key) (Deadline, bool, error) {
	raw, err := c.Get(ctx, r.deadlineKey(key.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return Deadline{}, false, nil
	}
	if err != nil {
		return Deadline{}, false, fmt.Errorf("load deadline %s: %w", key, err)
	}
	var d Deadline
	if err := json.Unmarshal(raw, &d); err != nil {
		return Deadline{}, false, fmt.Errorf("decode deadline %s: %w", key, err)
	}
	return d, true, nil
}

// advanceAttempts bounds optimistic retries when the deadline key changes
// between WATCH and EXEC.
const advanceAttempts = 3

func (r *RedisTracker) Advance(ctx context.Context, key Key, eventID string, next *Deadline) (bool, error) {
	member := key.String()
	var data []byte
	if next != nil {
		var err error
		if data, err = json.Marshal(next); err != nil {
			return false, fmt.Errorf("marshal deadline: %w", err)
		}
	}

	for i := 0; i < advanceAttempts; i++ {
		swapped := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, ok, err := r.load(ctx, tx, key)
			if err != nil || !ok || !cur.InFlight(eventID) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.ZRem(ctx, r.indexKey(), member)
					pipe.Del(ctx, r.deadlineKey(member))
					return nil
				}
				pipe.Set(ctx, r.deadlineKey(member), data, 0)
				pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(next.Due.UnixMilli()), Member: member})
				return nil
			})
			swapped = err == nil
			return err
		}, r.deadlineKey(member))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("advance deadline %s: %w", member, err)
		}
		return swapped, nil
	}
	return false, fmt.Errorf("advance deadline %s: %w", member, redis.TxFailedErr)
}

func (r *RedisTracker) Clear(ctx context.Context, key Key) error {
	member := key.String()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.indexKey(), member)
		pipe.Del(ctx, r.deadlineKey(member))
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear deadline %s: %w", member, err)
	}
	return nil
}

func (r *RedisTracker) Expired(ctx context.Context, now time.Time, limit int) ([]Deadline, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	members, err := r.client.ZRangeByScore(ctx, r.indexKey(), by).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("query expired deadlines: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.deadlineKey(m)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load expired deadlines: %w", err)
	}

	out := make([]Deadline, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// body is gone, drop the dangling index entry
			r.client.ZRem(ctx, r.indexKey(), members[i])
			continue
		}
		var d Deadline
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode deadline %s: %w", members[i], err)
		}
		out = append(out, d)
	}
	return out, nil
}
