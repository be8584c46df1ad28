package app

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// Runner выполняет прогон по записи выбора
type Runner interface {
	Run(ctx context.Context, choice models.Choice) (*models.RunReport, error)
}

// CommandHandler обработчик топика команд. Прогоны выполняются строго по одному;
// некорректная команда пропускается, чтобы не блокировать очередь.
func CommandHandler(runner Runner, log interfaces.LoggerPort) interfaces.MessageHandler {
	var mu sync.Mutex
	return func(ctx context.Context, msg *interfaces.Message) error {
		cmd, err := messaging.DecodeRunCommand(msg)
		if err != nil {
			log.Error("Команда отброшена",
				interfaces.LogField{Key: "message_id", Value: msg.ID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			commandsProcessed.WithLabelValues("rejected").Inc()
			return nil
		}

		mu.Lock()
		defer mu.Unlock()

		started := time.Now()
		log.InfoWithContext(ctx, "Получена команда прогона",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "requested_by", Value: cmd.RequestedBy},
		)
		report, err := runner.Run(ctx, cmd.Choice)
		commandDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			commandsProcessed.WithLabelValues("error").Inc()
			return err
		}
		snap := report.Snapshot()
		commandsProcessed.WithLabelValues("ok").Inc()
		log.InfoWithContext(ctx, "Команда выполнена",
			interfaces.LogField{Key: "run_id", Value: snap.RunID},
			interfaces.LogField{Key: "exit_code", Value: snap.ExitCode},
		)
		return nil
	}
}
