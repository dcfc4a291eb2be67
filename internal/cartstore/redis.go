// Package cartstore provides persistence backends for storefront carts: a
// Redis store for real deployments and an in-process store for tests and the
// cashier terminal. Both satisfy the cart.Storage port.
package cartstore

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"puntoventa/backend/internal/domain"
)

// channel used for change notifications across consumers of the same process
// group (badge counters, secondary views).
const broadcastChannel = "puntoventa:cart-events"

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr string, password string, db int, ttl time.Duration) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load returns the items stored under key. A missing key or a payload that no
// longer unmarshals is an empty cart, never an error the caller must handle.
func (s *RedisStore) Load(ctx context.Context, key string) ([]domain.LineItem, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var items []domain.LineItem
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		log.Printf("[cartstore] WARN: malformed payload for key=%s, treating as empty: %v", key, err)
		return nil, nil
	}
	return items, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, items []domain.LineItem) error {
	if len(items) == 0 {
		return s.client.Del(ctx, key).Err()
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, s.ttl).Err()
}

func (s *RedisStore) Broadcast(ctx context.Context, event string) error {
	return s.client.Publish(ctx, broadcastChannel, event).Err()
}

// Subscribe delivers broadcast events to fn until ctx is cancelled. Used by
// in-process listeners such as the storefront badge refresher.
func (s *RedisStore) Subscribe(ctx context.Context, fn func(event string)) error {
	sub := s.client.Subscribe(ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}
