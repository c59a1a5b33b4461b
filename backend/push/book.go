package push

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

const addressKeyPrefix = "push_addr:"

// MemoryBook is the in-process address book.
type MemoryBook struct {
	mx *sync.Mutex
	db map[string]string
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{
		mx: &sync.Mutex{},
		db: make(map[string]string),
	}
}

func (mb *MemoryBook) Get(_ context.Context, userID string) (string, error) {
	mb.mx.Lock()
	defer mb.mx.Unlock()

	addr, ok := mb.db[userID]
	if !ok {
		return "", ErrNoAddress
	}
	return addr, nil
}

func (mb *MemoryBook) Put(_ context.Context, userID, addr string) error {
	mb.mx.Lock()
	defer mb.mx.Unlock()
	mb.db[userID] = addr
	return nil
}

func (mb *MemoryBook) Delete(_ context.Context, userID string) error {
	mb.mx.Lock()
	defer mb.mx.Unlock()
	delete(mb.db, userID)
	return nil
}

// RedisBook keeps addresses in Redis so several signaling instances can
// share one address book.
type RedisBook struct {
	rdb *redis.Client
}

func NewRedisBook(rdb *redis.Client) *RedisBook {
	return &RedisBook{rdb: rdb}
}

func (rb *RedisBook) Get(ctx context.Context, userID string) (string, error) {
	addr, err := rb.rdb.Get(ctx, addressKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoAddress
		}
		return "", err
	}
	return addr, nil
}

func (rb *RedisBook) Put(ctx context.Context, userID, addr string) error {
	return rb.rdb.Set(ctx, addressKeyPrefix+userID, addr, 0).Err()
}

func (rb *RedisBook) Delete(ctx context.Context, userID string) error {
	return rb.rdb.Del(ctx, addressKeyPrefix+userID).Err()
}
