package services

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/metrics"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// TrackerConfig расписание опроса асинхронных заданий
type TrackerConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Budget предельное время жизни задания от начала опроса
	Budget time.Duration
}

// DefaultTrackerConfig 1s, удвоение до 15s, бюджет 5 минут
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{InitialDelay: time.Second, MaxDelay: 15 * time.Second, Budget: 5 * time.Minute}
}

// Poller опрашивает задание маркетплейса
type Poller interface {
	Marketplace() models.Marketplace
	PollJob(ctx context.Context, job models.BatchJob) (models.BatchJob, error)
}

// Tracker доводит асинхронные задания до конечного состояния
type Tracker struct {
	cfg    TrackerConfig
	logger interfaces.LoggerPort
}

// NewTracker создает трекер; незаданные значения берутся по умолчанию
func NewTracker(cfg TrackerConfig, logger interfaces.LoggerPort) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.InitialDelay)
	}
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	return &Tracker{cfg: cfg, logger: logger}
}

// TrackAll опрашивает задания параллельно, по горутине на задание.
// Результаты возвращаются в порядке входа.
func (t *Tracker) TrackAll(ctx context.Context, p Poller, jobs []models.BatchJob) []models.BatchJob {
	out := make([]models.BatchJob, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job models.BatchJob) {
			defer wg.Done()
			out[i] = t.Track(ctx, p, job)
		}(i, job)
	}
	wg.Wait()
	return out
}

// Track опрашивает задание до конечного состояния.
//
// Задержка начинается с InitialDelay и удваивается до MaxDelay. Ошибка вида transient
// (в том числе ограничение частоты) не завершает задание. По истечении бюджета или
// при отмене контекста задание становится timed-out и больше не опрашивается.
func (t *Tracker) Track(ctx context.Context, p Poller, job models.BatchJob) models.BatchJob {
	m := p.Marketplace()
	log := t.logger.WithFields(
		interfaces.LogField{Key: "marketplace", Value: string(m)},
		interfaces.LogField{Key: "job_id", Value: job.ExternalID},
	)
	if job.Status.IsTerminal() {
		return job
	}

	deadline := time.Now().Add(t.cfg.Budget)
	delay := t.cfg.InitialDelay
	for {
		if err := sleepCtx(ctx, min(delay, max(time.Until(deadline), 0))); err != nil {
			return t.finish(log, timeOut(job, apperrors.KindCancelled, "polling cancelled"))
		}

		metrics.PollAttempts.WithLabelValues(string(m)).Inc()
		polled, err := p.PollJob(ctx, job)
		switch {
		case err == nil:
			polled.Polls = max(polled.Polls, job.Polls+1)
			polled.LastPolledAt = time.Now()
			job = polled
			if job.Status.IsTerminal() {
				return t.finish(log, job)
			}
			if job.Status == models.JobSubmitted {
				job.Status = models.JobInProgress
			}
		case apperrors.IsTransient(err):
			job.Polls++
			job.LastPolledAt = time.Now()
			log.Debug("Опрос задания отложен", interfaces.LogField{Key: "error", Value: err.Error()})
		case apperrors.KindOf(err) == apperrors.KindCancelled || ctx.Err() != nil:
			return t.finish(log, timeOut(job, apperrors.KindCancelled, "polling cancelled"))
		default:
			job.Status = models.JobFailed
			job.ErrKind = apperrors.KindOf(err)
			if job.ErrKind == apperrors.KindUnknown {
				job.ErrKind = apperrors.KindUnavailable
			}
			job.Reason = apperrors.Reason(err)
			return t.finish(log, job)
		}

		if !time.Now().Before(deadline) {
			return t.finish(log, timeOut(job, apperrors.KindTimeout, "poll budget "+t.cfg.Budget.String()+" exceeded"))
		}
		delay = min(delay*2, t.cfg.MaxDelay)
	}
}

func timeOut(job models.BatchJob, kind apperrors.Kind, reason string) models.BatchJob {
	job.Status = models.JobTimedOut
	job.ErrKind = kind
	job.Reason = reason
	return job
}

func (t *Tracker) finish(log interfaces.LoggerPort, job models.BatchJob) models.BatchJob {
	metrics.JobsTerminal.WithLabelValues(string(job.Marketplace), string(job.Status)).Inc()
	if job.Status == models.JobSucceeded {
		log.Debug("Задание завершено", interfaces.LogField{Key: "polls", Value: job.Polls})
	} else {
		log.Warn("Задание завершено неуспешно",
			interfaces.LogField{Key: "status", Value: string(job.Status)},
			interfaces.LogField{Key: "reason", Value: job.Reason},
		)
	}
	return job
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
