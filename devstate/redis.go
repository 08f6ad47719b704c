package devstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(binID string) string {
	return fmt.Sprintf("cleanroute:bin:%s:state", binID)
}

const allBinsKey = "cleanroute:bins"

func (r *RedisStore) SetBinState(ctx context.Context, state *BinState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, stateKey(state.BinID), data, 0)
	pipe.SAdd(ctx, allBinsKey, state.BinID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetBinState(ctx context.Context, binID string) (*BinState, error) {
	data, err := r.client.Get(ctx, stateKey(binID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state BinState
	return &state, json.Unmarshal(data, &state)
}

func (r *RedisStore) GetAllBinIDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, allBinsKey).Result()
}

func (r *RedisStore) RemoveBin(ctx context.Context, binID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, stateKey(binID))
	pipe.SRem(ctx, allBinsKey, binID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	ids, err := r.GetAllBinIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		r.RemoveBin(ctx, id)
	}
	return r.client.Del(ctx, allBinsKey).Err()
}
