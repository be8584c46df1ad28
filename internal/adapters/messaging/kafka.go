package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

// KafkaMessaging реализация MessagingPort с использованием Kafka
type KafkaMessaging struct {
	producer       *kafka.Producer
	consumers      map[string]*kafka.Consumer
	consumersMutex sync.RWMutex
	brokers        string
	groupID        string
	logger         interfaces.LoggerPort
}

// NewKafkaMessaging создает новый экземпляр KafkaMessaging
func NewKafkaMessaging(brokers []string, groupID string, logger interfaces.LoggerPort) (*KafkaMessaging, error) {
	servers := strings.Join(brokers, ",")
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            servers,
		"client.id":                    "catalog-sync-producer",
		"acks":                         "all",
		"retries":                      5,
		"retry.backoff.ms":             500,
		"compression.type":             "snappy",
		"linger.ms":                    10,
		"message.max.bytes":            1000000,
		"queue.buffering.max.messages": 100000,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka producer: %w", err)
	}

	k := &KafkaMessaging{
		producer:  producer,
		consumers: make(map[string]*kafka.Consumer),
		brokers:   servers,
		groupID:   groupID,
		logger:    logger,
	}
	go k.drainDeliveryReports()
	return k, nil
}

// drainDeliveryReports читает отчеты о доставке, иначе канал producer переполнится
func (k *KafkaMessaging) drainDeliveryReports() {
	for ev := range k.producer.Events() {
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			k.logger.Error("Сообщение не доставлено в Kafka",
				interfaces.LogField{Key: "topic", Value: *m.TopicPartition.Topic},
				interfaces.LogField{Key: "error", Value: m.TopicPartition.Error.Error()},
			)
		}
	}
}

// toKafkaMessage преобразует сообщение в kafka.Message
func toKafkaMessage(topic string, message []byte, key string, headers map[string]string) *kafka.Message {
	var kafkaHeaders []kafka.Header
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	kafkaHeaders = append(kafkaHeaders,
		kafka.Header{Key: "message_id", Value: []byte(uuid.New().String())},
		kafka.Header{Key: "timestamp", Value: []byte(strconv.FormatInt(time.Now().UnixNano(), 10))},
	)

	var keyBytes []byte
	if key != "" {
		keyBytes = []byte(key)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
		Key:            keyBytes,
		Headers:        kafkaHeaders,
	}
}

// fromKafkaMessage преобразует kafka.Message в Message
func fromKafkaMessage(msg *kafka.Message) *interfaces.Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	publishedAt := msg.Timestamp
	if tsStr, ok := headers["timestamp"]; ok {
		if ns, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			publishedAt = time.Unix(0, ns)
		}
	}

	var topic string
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}

	return &interfaces.Message{
		ID:          headers["message_id"],
		Topic:       topic,
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		PublishedAt: publishedAt,
	}
}

// Publish публикует сообщение в указанную тему
func (k *KafkaMessaging) Publish(ctx context.Context, topic string, message []byte) error {
	return k.PublishWithKey(ctx, topic, "", message)
}

// PublishWithKey публикует сообщение с указанным ключом
func (k *KafkaMessaging) PublishWithKey(ctx context.Context, topic string, key string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.producer.Produce(toKafkaMessage(topic, message, key, nil), nil)
}

// Subscribe подписывается на тему; сообщения обрабатываются последовательно,
// смещение фиксируется только после успешной обработки
func (k *KafkaMessaging) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	config := &interfaces.ConsumerConfig{
		GroupID:     k.groupID,
		AutoCommit:  false,
		PollTimeout: 100 * time.Millisecond,
	}

	handlerID := uuid.New().String()

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":     k.brokers,
		"group.id":              config.GroupID,
		"auto.offset.reset":     "earliest",
		"enable.auto.commit":    config.AutoCommit,
		"session.timeout.ms":    30000,
		"max.poll.interval.ms":  900000,
		"heartbeat.interval.ms": 3000,
		"reconnect.backoff.ms":  50,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka consumer: %w", err)
	}

	if err := consumer.Subscribe(topic, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("ошибка подписки на топик %s: %w", topic, err)
	}

	k.consumersMutex.Lock()
	k.consumers[handlerID] = consumer
	k.consumersMutex.Unlock()

	go k.consumeMessages(ctx, consumer, handler, config)

	unsubscribe := func() error {
		k.consumersMutex.Lock()
		c := k.consumers[handlerID]
		delete(k.consumers, handlerID)
		k.consumersMutex.Unlock()

		if c != nil {
			return c.Close()
		}
		return nil
	}

	return unsubscribe, nil
}

// consumeMessages обрабатывает сообщения из Kafka
func (k *KafkaMessaging) consumeMessages(ctx context.Context, consumer *kafka.Consumer, handler interfaces.MessageHandler, config *interfaces.ConsumerConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := consumer.Poll(int(config.PollTimeout.Milliseconds()))
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			msg := fromKafkaMessage(e)
			if err := handler(ctx, msg); err != nil {
				k.logger.Error("Ошибка обработки сообщения",
					interfaces.LogField{Key: "topic", Value: msg.Topic},
					interfaces.LogField{Key: "message_id", Value: msg.ID},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
				continue
			}
			if !config.AutoCommit {
				if _, err := consumer.CommitMessage(e); err != nil {
					k.logger.Warn("Не удалось зафиксировать смещение",
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
				}
			}

		case kafka.Error:
			k.logger.Error("Ошибка Kafka", interfaces.LogField{Key: "error", Value: e.Error()})
			if e.Code() == kafka.ErrAllBrokersDown {
				return
			}
		}
	}
}

// CreateTopic создает тему, если ее еще нет
func (k *KafkaMessaging) CreateTopic(ctx context.Context, topic string, partitions int, replicationFactor int) error {
	adminClient, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("ошибка создания Kafka admin client: %w", err)
	}
	defer adminClient.Close()

	result, err := adminClient.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	}}, kafka.SetAdminOperationTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("ошибка создания топика %s: %w", topic, err)
	}

	for _, r := range result {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("ошибка создания топика %s: %s", r.Topic, r.Error.String())
		}
	}

	return nil
}

// Close закрывает соединение с системой обмена сообщениями
func (k *KafkaMessaging) Close() error {
	k.consumersMutex.Lock()
	for id, consumer := range k.consumers {
		consumer.Close()
		delete(k.consumers, id)
	}
	k.consumersMutex.Unlock()

	k.producer.Flush(15 * 1000)
	k.producer.Close()

	return nil
}
