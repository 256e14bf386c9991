package offline

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// redisQueue keeps entry ids in arrival order in a list and entry bodies in
// a hash. Both structures change together inside MULTI/EXEC.
type redisQueue struct {
	client  *redis.Client
	listKey string
	hashKey string
}

func NewRedisQueue(client *redis.Client, key string) Queue {
	return &redisQueue{
		client:  client,
		listKey: key,
		hashKey: key + ":entries",
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return WrapError(ErrorInvalidPayload, "encode entry", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.hashKey, entry.ID, body)
		pipe.RPush(ctx, q.listKey, entry.ID)
		return nil
	})
	if err != nil {
		return WrapError(ErrorStorage, "enqueue entry", err)
	}
	return nil
}

func (q *redisQueue) Pending(ctx context.Context) ([]Entry, error) {
	ids, err := q.client.LRange(ctx, q.listKey, 0, -1).Result()
	if err != nil {
		return nil, WrapError(ErrorStorage, "read queue", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bodies, err := q.client.HMGet(ctx, q.hashKey, ids...).Result()
	if err != nil {
		return nil, WrapError(ErrorStorage, "read entries", err)
	}

	entries := make([]Entry, 0, len(ids))
	for i, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			// id without a body: a concurrent Remove got there first.
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(body), &entry); err != nil {
			return nil, WrapError(ErrorStorage, "decode entry "+ids[i], err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (q *redisQueue) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.LRem(ctx, q.listKey, 1, id)
		}
		pipe.HDel(ctx, q.hashKey, ids...)
		return nil
	})
	if err != nil {
		return WrapError(ErrorStorage, "remove entries", err)
	}
	return nil
}

func (q *redisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.listKey).Result()
	if err != nil {
		return 0, WrapError(ErrorStorage, "count queue", err)
	}
	return int(n), nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
