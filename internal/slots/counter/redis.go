package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// decrScript checks and decrements in one server-side step. Returns 1 when a
// slot was taken, 0 when the count is already zero, -1 when the key is absent.
var decrScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then
    return -1
end
current = tonumber(current)
if current > 0 then
    redis.call('DECR', KEYS[1])
    return 1
end
return 0
`)

type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func slotKey(classID string) string {
	return fmt.Sprintf("class:%s:slots", classID)
}

func (c *RedisCounter) Get(ctx context.Context, classID string) (int, bool, error) {
	value, err := c.rdb.Get(ctx, slotKey(classID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get slot counter: %w", err)
	}
	return value, true, nil
}

func (c *RedisCounter) SetIfAbsent(ctx context.Context, classID string, value int) (bool, error) {
	set, err := c.rdb.SetNX(ctx, slotKey(classID), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to initialize slot counter: %w", err)
	}
	return set, nil
}

func (c *RedisCounter) DecrementIfPositive(ctx context.Context, classID string) (Result, error) {
	result, err := decrScript.Run(ctx, c.rdb, []string{slotKey(classID)}).Int()
	if err != nil {
		return Absent, fmt.Errorf("failed to decrement slot counter: %w", err)
	}

	switch result {
	case 1:
		return Decremented, nil
	case 0:
		return Exhausted, nil
	default:
		return Absent, nil
	}
}

func (c *RedisCounter) Increment(ctx context.Context, classID string) error {
	if err := c.rdb.Incr(ctx, slotKey(classID)).Err(); err != nil {
		return fmt.Errorf("failed to increment slot counter: %w", err)
	}
	return nil
}

func (c *RedisCounter) Delete(ctx context.Context, classID string) error {
	if err := c.rdb.Del(ctx, slotKey(classID)).Err(); err != nil {
		return fmt.Errorf("failed to delete slot counter: %w", err)
	}
	return nil
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
