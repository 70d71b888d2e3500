package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"messaging-gateway/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Broker 在實例之間轉發事件，每個實例再寫入本地訂閱者
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe 註冊本地分發函數，必須在 Publish 之前調用
	Subscribe(ctx context.Context, deliver func(Delivery)) error
	Close() error
}

// LocalBroker 進程內代理
type LocalBroker struct {
	mu      sync.RWMutex
	deliver func(Delivery)
}

// NewLocalBroker 創建進程內代理
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, d Delivery) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()
	if deliver != nil {
		deliver(d)
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, deliver func(Delivery)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = deliver
	return nil
}

func (b *LocalBroker) Close() error { return nil }

// RedisBroker 基於 Redis Pub/Sub 的多實例代理
type RedisBroker struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBroker 創建 Redis 代理
func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	if channel == "" {
		channel = "messaging-gateway:events"
	}
	return &RedisBroker{client: client, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(Delivery)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return errors.New("redis broker already subscribed")
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	// 等待訂閱確認，否則早期發布的事件會遺失
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	b.pubsub = pubsub
	b.done = make(chan struct{})

	go func(ch <-chan *redis.Message, done chan struct{}) {
		defer close(done)
		for msg := range ch {
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				logger.Warning(context.Background(), "忽略無法解析的 Redis 事件",
					logger.WithDetails(map[string]interface{}{"channel": msg.Channel, "error": err.Error()}))
				continue
			}
			deliver(d)
		}
	}(pubsub.Channel(), b.done)
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	<-b.done
	b.pubsub = nil
	return err
}
