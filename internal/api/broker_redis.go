package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API
// replica sees adjustments published by the others.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisBrokerClient(redis.NewClient(opt)), nil
}

func NewRedisBrokerClient(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(routeID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(routeID))
	// wait for the subscription confirmation so a publish right after
	// Subscribe returns is not lost
	if _, err := ps.Receive(ctx); err != nil {
		log.Printf("[broker] subscribe route=%s err=%v", routeID, err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the underlying PubSub; ch is closed once its reader
// goroutine drains.
func (b *RedisBroker) Unsubscribe(routeID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(routeID string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(routeID), data).Err(); err != nil {
		log.Printf("[broker] publish route=%s type=%s err=%v", routeID, evt.Type, err)
	}
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) chanName(routeID string) string { return "route:" + routeID }
