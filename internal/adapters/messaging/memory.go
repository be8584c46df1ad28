package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/google/uuid"
)

// MemoryBus MessagingPort в памяти процесса: используется, когда Kafka не настроена, и в тестах
type MemoryBus struct {
	mu       sync.Mutex
	messages map[string][]*interfaces.Message
	handlers map[string][]interfaces.MessageHandler
}

// NewMemoryBus создает шину в памяти
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		messages: make(map[string][]*interfaces.Message),
		handlers: make(map[string][]interfaces.MessageHandler),
	}
}

// Publish реализация MessagingPort
func (b *MemoryBus) Publish(ctx context.Context, topic string, message []byte) error {
	return b.PublishWithKey(ctx, topic, "", message)
}

// PublishWithKey реализация MessagingPort; подписчики вызываются синхронно
func (b *MemoryBus) PublishWithKey(ctx context.Context, topic, key string, message []byte) error {
	msg := &interfaces.Message{
		ID:          uuid.New().String(),
		Topic:       topic,
		Key:         key,
		Value:       append([]byte(nil), message...),
		Headers:     map[string]string{},
		PublishedAt: time.Now(),
	}

	b.mu.Lock()
	b.messages[topic] = append(b.messages[topic], msg)
	handlers := append([]interfaces.MessageHandler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe реализация MessagingPort
func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	idx := len(b.handlers[topic]) - 1
	b.mu.Unlock()

	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[topic]
		if idx < len(hs) {
			hs[idx] = func(context.Context, *interfaces.Message) error { return nil }
		}
		return nil
	}, nil
}

// Messages возвращает опубликованные в топик сообщения
func (b *MemoryBus) Messages(topic string) []*interfaces.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*interfaces.Message(nil), b.messages[topic]...)
}

// Close реализация MessagingPort
func (b *MemoryBus) Close() error {
	return nil
}
