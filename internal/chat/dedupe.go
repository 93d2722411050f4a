package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type ReservationState int

const (
	// Reserved means the key was unseen and now belongs to the caller.
	Reserved ReservationState = iota
	// Pending means another send with the same key has not finished.
	Pending
	// Done means the key already produced a confirmed message.
	Done
)

type Reservation struct {
	State   ReservationState
	Message *Message
}

// Deduper remembers recently sent client message ids.
type Deduper interface {
	Reserve(ctx context.Context, key string) (Reservation, error)
	Complete(ctx context.Context, key string, msg *Message) error
	Release(ctx context.Context, key string) error
}

type memEntry struct {
	msg *Message
	exp time.Time
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	m    map[string]*memEntry
	ttl  time.Duration
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{m: make(map[string]*memEntry), ttl: ttl, now: time.Now, stop: make(chan struct{})}
}

func (d *MemoryDeduper) Reserve(_ context.Context, key string) (Reservation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if e, ok := d.m[key]; ok && now.Before(e.exp) {
		if e.msg == nil {
			return Reservation{State: Pending}, nil
		}
		cp := *e.msg
		return Reservation{State: Done, Message: &cp}, nil
	}
	d.m[key] = &memEntry{exp: now.Add(d.ttl)}
	return Reservation{State: Reserved}, nil
}

func (d *MemoryDeduper) Complete(_ context.Context, key string, msg *Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *msg
	d.m[key] = &memEntry{msg: &cp, exp: d.now().Add(d.ttl)}
	return nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
	return nil
}

// Run evicts expired keys until Stop is called.
func (d *MemoryDeduper) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.gc()
		}
	}
}

func (d *MemoryDeduper) gc() {
	now := d.now()
	d.mu.Lock()
	for k, e := range d.m {
		if !now.Before(e.exp) {
			delete(d.m, k)
		}
	}
	d.mu.Unlock()
}

func (d *MemoryDeduper) Stop() {
	d.once.Do(func() { close(d.stop) })
}

const redisPending = "pending"

// RedisDeduper shares dedupe state between server instances.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) Reserve(ctx context.Context, key string) (Reservation, error) {
	k := d.prefix + key
	// One retry covers a key that expires between SETNX and GET.
	for i := 0; i < 2; i++ {
		ok, err := d.client.SetNX(ctx, k, redisPending, d.ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("dedupe reserve: %w", err)
		}
		if ok {
			return Reservation{State: Reserved}, nil
		}
		val, err := d.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("dedupe lookup: %w", err)
		}
		if val == redisPending {
			return Reservation{State: Pending}, nil
		}
		var msg Message
		if err := json.Unmarshal([]byte(val), &msg); err != nil {
			return Reservation{}, fmt.Errorf("dedupe decode: %w", err)
		}
		return Reservation{State: Done, Message: &msg}, nil
	}
	return Reservation{State: Pending}, nil
}

func (d *RedisDeduper) Complete(ctx context.Context, key string, msg *Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return d.client.Set(ctx, d.prefix+key, b, d.ttl).Err()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}
