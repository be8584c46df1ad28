package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

type KafkaEvent = string

const (
	RunCompletedEvent KafkaEvent = "sync_run_completed"
	ItemOutcomeEvent  KafkaEvent = "sync_item_outcome"
	RunCommandEvent   KafkaEvent = "sync_run_requested"
)

// Топики по умолчанию
const (
	DefaultEventsTopic   = "catalog-sync-events"
	DefaultCommandsTopic = "catalog-sync-commands"
)

// Envelope общий формат событий синхронизации
type Envelope struct {
	Type       KafkaEvent      `json:"type"`
	RunID      string          `json:"run_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// RunCommand команда на запуск прогона
type RunCommand struct {
	RequestedBy string        `json:"requested_by,omitempty"`
	Choice      models.Choice `json:"choice"`
}

// EventPublisher публикует итоги прогонов
type EventPublisher struct {
	bus   interfaces.MessagingPort
	topic string
}

// NewEventPublisher создает публикатор событий
func NewEventPublisher(bus interfaces.MessagingPort, topic string) *EventPublisher {
	if topic == "" {
		topic = DefaultEventsTopic
	}
	return &EventPublisher{bus: bus, topic: topic}
}

// PublishRun публикует сводку прогона и итоги по элементам; ключ сообщения
// run_id, поэтому события одного прогона попадают в одну партицию
func (p *EventPublisher) PublishRun(ctx context.Context, snap models.ReportSnapshot) error {
	for _, o := range snap.Outcomes {
		if err := p.publish(ctx, ItemOutcomeEvent, snap.RunID, o); err != nil {
			return err
		}
	}
	return p.publish(ctx, RunCompletedEvent, snap.RunID, snap)
}

func (p *EventPublisher) publish(ctx context.Context, typ KafkaEvent, runID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события %s: %w", typ, err)
	}
	env, err := json.Marshal(Envelope{Type: typ, RunID: runID, OccurredAt: time.Now().UTC(), Payload: raw})
	if err != nil {
		return fmt.Errorf("ошибка сериализации конверта: %w", err)
	}
	if err := p.bus.PublishWithKey(ctx, p.topic, runID, env); err != nil {
		return fmt.Errorf("ошибка публикации события %s: %w", typ, err)
	}
	return nil
}

// EncodeRunCommand сериализует команду запуска
func EncodeRunCommand(cmd RunCommand) ([]byte, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: RunCommandEvent, OccurredAt: time.Now().UTC(), Payload: raw})
}

// DecodeRunCommand разбирает команду запуска из сообщения
func DecodeRunCommand(msg *interfaces.Message) (RunCommand, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return RunCommand{}, fmt.Errorf("некорректный конверт: %w", err)
	}
	if env.Type != RunCommandEvent {
		return RunCommand{}, fmt.Errorf("неожиданный тип события %q", env.Type)
	}
	var cmd RunCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return RunCommand{}, fmt.Errorf("некорректная команда: %w", err)
	}
	if err := cmd.Choice.Validate(); err != nil {
		return RunCommand{}, err
	}
	return cmd, nil
}

// CommandPublisher ставит прогоны в очередь через топик команд
type CommandPublisher struct {
	bus   interfaces.MessagingPort
	topic string
}

// NewCommandPublisher создает публикатор команд
func NewCommandPublisher(bus interfaces.MessagingPort, topic string) *CommandPublisher {
	if topic == "" {
		topic = DefaultCommandsTopic
	}
	return &CommandPublisher{bus: bus, topic: topic}
}

// Trigger публикует команду запуска прогона
func (p *CommandPublisher) Trigger(ctx context.Context, cmd RunCommand) error {
	raw, err := EncodeRunCommand(cmd)
	if err != nil {
		return fmt.Errorf("ошибка сериализации команды: %w", err)
	}
	if err := p.bus.Publish(ctx, p.topic, raw); err != nil {
		return fmt.Errorf("ошибка публикации команды: %w", err)
	}
	return nil
}
