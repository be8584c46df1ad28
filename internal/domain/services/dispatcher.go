package services

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/metrics"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// DispatcherConfig настройки диспетчера
type DispatcherConfig struct {
	// QueueSize емкость очереди пакетов одного маркетплейса
	QueueSize int
}

// Dispatcher исполняет намерения. Маркетплейсы обрабатываются параллельно,
// внутри маркетплейса отправки идут строго по очереди в порядке намерений.
type Dispatcher struct {
	cfg     DispatcherConfig
	tracker *Tracker
	logger  interfaces.LoggerPort
}

// NewDispatcher создает диспетчер
func NewDispatcher(cfg DispatcherConfig, tracker *Tracker, logger interfaces.LoggerPort) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Dispatcher{cfg: cfg, tracker: tracker, logger: logger}
}

// batch намерения, уходящие в маркетплейс одной отправкой
type batch struct {
	kind    models.IntentKind
	intents []models.UpdateIntent
}

// stockCodes stock codes пакета без повторов в порядке первого появления
func (b batch) stockCodes() []string {
	seen := make(map[string]struct{}, len(b.intents))
	out := make([]string, 0, len(b.intents))
	for _, in := range b.intents {
		if _, ok := seen[in.StockCode]; ok {
			continue
		}
		seen[in.StockCode] = struct{}{}
		out = append(out, in.StockCode)
	}
	return out
}

// planBatches объединяет подряд идущие намерения одного вида в пакеты не больше bulk
// разных stock code. Создание всегда отправляется по одному черновику.
func planBatches(intents []models.UpdateIntent, bulk int) []batch {
	bulk = max(bulk, 1)
	var out []batch
	var cur *batch
	codes := make(map[string]struct{})
	for _, in := range intents {
		kind := in.Kind()
		_, known := codes[in.StockCode]
		full := !known && len(codes) >= bulk
		if cur == nil || cur.kind != kind || kind == models.IntentCreate || full {
			out = append(out, batch{kind: kind})
			cur = &out[len(out)-1]
			codes = make(map[string]struct{})
		}
		cur.intents = append(cur.intents, in)
		codes[in.StockCode] = struct{}{}
	}
	return out
}

// Dispatch отправляет намерения и записывает итог каждого в отчет. Упавшее намерение
// не повторяется в этом прогоне и не влияет на другие маркетплейсы.
func (d *Dispatcher) Dispatch(ctx context.Context, adapters map[models.Marketplace]marketplace.Adapter, intents []models.UpdateIntent, report *models.RunReport) []models.ItemOutcome {
	byTarget := make(map[models.Marketplace][]models.UpdateIntent)
	var order []models.Marketplace
	var outcomes []models.ItemOutcome
	var mu sync.Mutex
	record := func(o models.ItemOutcome) {
		report.RecordOutcome(o)
		metrics.IntentsTotal.WithLabelValues(string(o.Marketplace), string(o.Status)).Inc()
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	for _, in := range intents {
		if err := in.Validate(); err != nil {
			record(failedOutcome(in, apperrors.KindMalformedRequest, err.Error(), ""))
			continue
		}
		if _, ok := byTarget[in.Target]; !ok {
			order = append(order, in.Target)
		}
		byTarget[in.Target] = append(byTarget[in.Target], in)
	}

	var wg sync.WaitGroup
	for _, m := range order {
		a, ok := adapters[m]
		if !ok || !report.IsAvailable(m) {
			for _, in := range byTarget[m] {
				record(failedOutcome(in, apperrors.KindUnavailable, "adapter unavailable", ""))
			}
			continue
		}
		w := &worker{
			d:       d,
			adapter: a,
			report:  report,
			record:  record,
			logger:  d.logger.WithMarketplace(string(m)),
		}
		queue := make(chan batch, d.cfg.QueueSize)
		batches := planBatches(byTarget[m], a.Limits().BulkSize)

		wg.Add(2)
		go func() {
			defer wg.Done()
			defer close(queue)
			for i, b := range batches {
				select {
				case queue <- b:
				case <-ctx.Done():
					for _, rest := range batches[i:] {
						w.failAll(rest, apperrors.KindCancelled, "dropped from queue")
					}
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			w.run(ctx, queue)
		}()
	}
	wg.Wait()
	return outcomes
}

// worker последовательно отправляет пакеты одного маркетплейса
type worker struct {
	d          *Dispatcher
	adapter    marketplace.Adapter
	report     *models.RunReport
	record     func(models.ItemOutcome)
	logger     interfaces.LoggerPort
	lastSubmit time.Time
	disabled   string
}

func (w *worker) run(ctx context.Context, queue <-chan batch) {
	for b := range queue {
		switch {
		case w.disabled != "":
			w.failAll(b, apperrors.KindAuth, w.disabled)
		case ctx.Err() != nil:
			w.failAll(b, apperrors.KindCancelled, "dropped from queue")
		default:
			w.submit(ctx, b)
		}
	}
}

// wait выдерживает минимальный интервал между отправками
func (w *worker) wait(ctx context.Context) error {
	spacing := w.adapter.Limits().MinSpacing
	if spacing > 0 && !w.lastSubmit.IsZero() {
		if d := time.Until(w.lastSubmit.Add(spacing)); d > 0 {
			if err := sleepCtx(ctx, d); err != nil {
				return err
			}
		}
	}
	w.lastSubmit = time.Now()
	return nil
}

func (w *worker) submit(ctx context.Context, b batch) {
	if err := w.wait(ctx); err != nil {
		w.failAll(b, apperrors.KindCancelled, "dropped from queue")
		return
	}
	m := w.adapter.Marketplace()
	metrics.SubmitsTotal.WithLabelValues(string(m), string(b.kind)).Inc()

	var res *models.SubmitResult
	var err error
	switch b.kind {
	case models.IntentStockPrice:
		res, err = w.adapter.SubmitStockPrice(ctx, stockPriceItems(b.intents))
	case models.IntentCreate:
		res, err = w.adapter.SubmitCreate(ctx, createDraft(b.intents[0]))
	case models.IntentDelete:
		res, err = w.adapter.Delete(ctx, b.stockCodes())
	}
	// ответ, пришедший после отмены, не учитывается
	if ctx.Err() != nil {
		w.logger.Warn("Прогон отменен во время отправки",
			interfaces.LogField{Key: "kind", Value: string(b.kind)},
			interfaces.LogField{Key: "items", Value: len(b.intents)},
		)
		w.failAll(b, apperrors.KindCancelled, "cancelled during submit")
		return
	}
	if err != nil {
		kind := apperrors.KindOf(err)
		if kind == apperrors.KindUnknown {
			kind = apperrors.KindUnavailable
		}
		w.logger.Warn("Отправка не удалась",
			interfaces.LogField{Key: "kind", Value: string(b.kind)},
			interfaces.LogField{Key: "items", Value: len(b.intents)},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		if kind == apperrors.KindAuth {
			w.disabled = "adapter disabled after auth failure: " + apperrors.Reason(err)
			w.report.MarkUnavailable(m, w.disabled)
		}
		w.failAll(b, kind, apperrors.Reason(err))
		return
	}

	w.collect(ctx, b, res)
}

// collect сводит итоги синхронной части и заданий к итогу на каждое намерение.
// Если stock code встречается в нескольких заданиях, побеждает отказ.
func (w *worker) collect(ctx context.Context, b batch, res *models.SubmitResult) {
	type result struct {
		item  models.ItemResult
		jobID string
	}
	results := make(map[string]result)
	var order []string
	put := func(it models.ItemResult, jobID string) {
		prev, seen := results[it.StockCode]
		if !seen {
			order = append(order, it.StockCode)
		}
		if !seen || (prev.item.Status == models.ItemSucceeded && it.Status != models.ItemSucceeded) {
			results[it.StockCode] = result{item: it, jobID: jobID}
		}
	}

	if res != nil {
		for _, it := range res.Items {
			put(it, "")
		}
		if res.Async() {
			for _, job := range w.d.tracker.TrackAll(ctx, w.adapter, res.Jobs) {
				for _, it := range jobItems(job) {
					put(it, job.ExternalID)
				}
			}
		}
	}

	for _, sc := range b.stockCodes() {
		if _, ok := results[sc]; !ok {
			order = append(order, sc)
			results[sc] = result{item: models.ItemResult{
				StockCode: sc, Status: models.ItemFailed, Kind: apperrors.KindUnavailable, Reason: "marketplace returned no result",
			}}
		}
	}

	byCode := make(map[string][]models.UpdateIntent)
	for _, in := range b.intents {
		byCode[in.StockCode] = append(byCode[in.StockCode], in)
	}
	for _, sc := range order {
		r := results[sc]
		for _, in := range byCode[sc] {
			w.record(itemOutcome(in, r.item, r.jobID))
		}
	}
}

// jobItems итоги элементов конечного задания. Неуспешное задание без итогов по
// элементам переносит свою причину на все stock codes.
func jobItems(job models.BatchJob) []models.ItemResult {
	byCode := make(map[string]models.ItemResult, len(job.Items))
	for _, it := range job.Items {
		if it.Status == models.ItemPending {
			it.Status = models.ItemFailed
			if it.Kind == apperrors.KindUnknown {
				it.Kind = apperrors.KindTimeout
			}
			if it.Reason == "" {
				it.Reason = "item still pending when job finished"
			}
		}
		byCode[it.StockCode] = it
	}

	out := make([]models.ItemResult, 0, len(job.StockCodes))
	emitted := make(map[string]struct{}, len(job.StockCodes))
	emit := func(it models.ItemResult) {
		if _, ok := emitted[it.StockCode]; ok {
			return
		}
		emitted[it.StockCode] = struct{}{}
		out = append(out, it)
	}
	for _, it := range job.Items {
		if r, ok := byCode[it.StockCode]; ok {
			emit(r)
		}
	}
	for _, sc := range job.StockCodes {
		if _, ok := byCode[sc]; ok {
			continue
		}
		if job.Status == models.JobSucceeded {
			emit(models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
			continue
		}
		kind := job.ErrKind
		if kind == apperrors.KindUnknown {
			kind = apperrors.KindItemRejected
			if job.Status == models.JobTimedOut {
				kind = apperrors.KindTimeout
			}
		}
		reason := job.Reason
		if reason == "" {
			reason = "job " + string(job.Status)
		}
		emit(models.ItemResult{StockCode: sc, Status: models.ItemFailed, Kind: kind, Reason: reason})
	}
	return out
}

func (w *worker) failAll(b batch, kind apperrors.Kind, reason string) {
	for _, in := range b.intents {
		w.record(failedOutcome(in, kind, reason, ""))
	}
}

func stockPriceItems(intents []models.UpdateIntent) []models.StockPriceItem {
	index := make(map[string]int, len(intents))
	var items []models.StockPriceItem
	for _, in := range intents {
		i, ok := index[in.StockCode]
		if !ok {
			i = len(items)
			index[in.StockCode] = i
			items = append(items, models.StockPriceItem{StockCode: in.StockCode})
		}
		items[i].Merge(in)
	}
	return items
}

// createDraft черновик из намерения: значения намерения поверх исходной записи
func createDraft(in models.UpdateIntent) models.CreateDraft {
	rec := *in.Draft
	rec.Marketplace = in.Target
	rec.ItemID = ""
	if in.Fields.Has(models.FieldQuantity) {
		rec.Quantity = in.Quantity
	}
	if in.Fields.Has(models.FieldSalePrice) {
		rec.SalePrice = in.SalePrice
	}
	if in.Fields.Has(models.FieldListPrice) {
		rec.ListPrice = in.ListPrice
	}
	draft := models.CreateDraft{Record: rec}
	if in.Category != nil {
		draft.Category = *in.Category
	}
	return draft
}

func itemOutcome(in models.UpdateIntent, it models.ItemResult, jobID string) models.ItemOutcome {
	o := models.ItemOutcome{
		IntentID:    in.ID,
		Marketplace: in.Target,
		StockCode:   in.StockCode,
		Rationale:   in.Reason,
		Status:      it.Status,
		Kind:        it.Kind,
		Reason:      it.Reason,
		JobID:       jobID,
	}
	if o.Status != models.ItemSucceeded {
		o.Status = models.ItemFailed
		if o.Kind == apperrors.KindUnknown {
			o.Kind = apperrors.KindItemRejected
		}
	}
	return o
}

func failedOutcome(in models.UpdateIntent, kind apperrors.Kind, reason, jobID string) models.ItemOutcome {
	return models.ItemOutcome{
		IntentID:    in.ID,
		Marketplace: in.Target,
		StockCode:   in.StockCode,
		Rationale:   in.Reason,
		Status:      models.ItemFailed,
		Kind:        kind,
		Reason:      reason,
		JobID:       jobID,
	}
}
