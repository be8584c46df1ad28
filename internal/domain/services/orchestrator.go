package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/metrics"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// CategoryMapper переводит категорию и атрибуты записи источника в таксономию цели
type CategoryMapper interface {
	Translate(ctx context.Context, source, target models.Marketplace, rec models.CatalogRecord) (models.CategoryTarget, error)
}

// CatalogStore зеркало каталогов. Внешний кэш: его читает и пишет только оркестратор.
type CatalogStore interface {
	Load(ctx context.Context, m models.Marketplace) ([]models.CatalogRecord, error)
	Upsert(ctx context.Context, m models.Marketplace, records []models.CatalogRecord) error
	Delete(ctx context.Context, m models.Marketplace, stockCodes []string) error
	SaveRun(ctx context.Context, snap models.ReportSnapshot) error
}

// RunPublisher публикует итоги прогона
type RunPublisher interface {
	PublishRun(ctx context.Context, snap models.ReportSnapshot) error
}

// Locker блокировка, не дающая двум прогонам пересечься
type Locker interface {
	Lock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// OrchestratorConfig настройки прогона
type OrchestratorConfig struct {
	// WallClock предельная длительность прогона; по истечении прогон отменяется
	WallClock time.Duration
	// DryRun планировать намерения, но ничего не отправлять
	DryRun  bool
	LockKey string
}

// OrchestratorDeps коллабораторы оркестратора. Все, кроме Logger и Dispatcher, необязательны.
type OrchestratorDeps struct {
	Dispatcher *Dispatcher
	Categories CategoryMapper
	Store      CatalogStore
	Publisher  RunPublisher
	Lock       Locker
	Logger     interfaces.LoggerPort
}

// Orchestrator связывает адаптеры, матчер, сверку и диспетчер в один прогон
type Orchestrator struct {
	cfg         OrchestratorConfig
	adapters    map[models.Marketplace]marketplace.Adapter
	unavailable map[models.Marketplace]error
	deps        OrchestratorDeps
}

// NewOrchestrator создает оркестратор по результату сборки адаптеров
func NewOrchestrator(cfg OrchestratorConfig, built marketplace.BuildResult, deps OrchestratorDeps) *Orchestrator {
	if cfg.LockKey == "" {
		cfg.LockKey = "catalog-sync:run-lock"
	}
	return &Orchestrator{
		cfg:         cfg,
		adapters:    built.Adapters,
		unavailable: built.Unavailable,
		deps:        deps,
	}
}

// Run выполняет один прогон по записи выбора. Ошибка возвращается только если
// прогон не начался (например, занята блокировка); итог всегда в отчете.
func (o *Orchestrator) Run(ctx context.Context, choice models.Choice) (*models.RunReport, error) {
	report := models.NewRunReport(choice)
	log := o.deps.Logger.WithRunID(report.RunID())
	ctx = interfaces.ContextWithRunID(ctx, report.RunID())
	started := time.Now()

	mode, err := choice.Mode()
	if err == nil {
		err = choice.Validate()
	}
	if err != nil {
		report.SetConfigError(err.Error())
		report.Finish()
		return report, nil
	}
	log = log.WithField("mode", string(mode))

	if o.deps.Lock != nil {
		ttl := o.cfg.WallClock
		if ttl <= 0 {
			ttl = time.Hour
		}
		ok, err := o.deps.Lock.Lock(ctx, o.cfg.LockKey, ttl)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения блокировки прогона: %w", err)
		}
		if !ok {
			return nil, apperrors.ErrLockNotAcquired
		}
		defer func() {
			if err := o.deps.Lock.Unlock(context.WithoutCancel(ctx), o.cfg.LockKey); err != nil {
				log.Warn("Не удалось снять блокировку прогона", interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	runCtx, cancel := o.runContext(ctx)
	defer cancel()

	log.InfoWithContext(ctx, "Прогон начат")
	o.markAdapters(report)
	if msg := o.checkConfig(mode, choice); msg != "" {
		report.SetConfigError(msg)
	} else {
		o.execute(runCtx, mode, choice, report, log)
	}

	if runCtx.Err() != nil {
		report.SetCancelled()
	}
	report.Finish()
	o.persist(context.WithoutCancel(ctx), report, log)

	snap := report.Snapshot()
	metrics.RunsTotal.WithLabelValues(string(mode), strconv.Itoa(snap.ExitCode)).Inc()
	metrics.RunDuration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())
	log.InfoWithContext(ctx, "Прогон завершен",
		interfaces.LogField{Key: "exit_code", Value: snap.ExitCode},
		interfaces.LogField{Key: "intents", Value: snap.TotalIntents()},
		interfaces.LogField{Key: "succeeded", Value: snap.TotalSucceeded()},
	)
	return report, nil
}

func (o *Orchestrator) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.WallClock > 0 {
		return context.WithTimeout(ctx, o.cfg.WallClock)
	}
	return context.WithCancel(ctx)
}

// markAdapters регистрирует в отчете все маркетплейсы, включая недоступные
func (o *Orchestrator) markAdapters(report *models.RunReport) {
	for _, m := range o.marketplaces() {
		report.MarkAvailable(m)
	}
	for m, err := range o.unavailable {
		report.MarkUnavailable(m, err.Error())
	}
}

// marketplaces доступные адаптеры в детерминированном порядке
func (o *Orchestrator) marketplaces() []models.Marketplace {
	out := make([]models.Marketplace, 0, len(o.adapters))
	for m := range o.adapters {
		out = append(out, m)
	}
	models.SortMarketplaces(out)
	return out
}

// checkConfig проверяет, что нужные режиму адаптеры и коллабораторы есть
func (o *Orchestrator) checkConfig(mode models.RunMode, choice models.Choice) string {
	need := func(m models.Marketplace) string {
		if _, ok := o.adapters[m]; ok {
			return ""
		}
		if err, ok := o.unavailable[m]; ok {
			return fmt.Sprintf("adapter %s unavailable: %v", m, err)
		}
		return fmt.Sprintf("adapter %s is disabled", m)
	}
	if choice.UseLocalData && o.deps.Store == nil {
		return "use_local_data needs a catalog store"
	}
	switch mode {
	case models.ModeCopy:
		if msg := need(choice.Source); msg != "" {
			return msg
		}
		if o.deps.Categories == nil {
			return "copy needs a category mapper"
		}
		return need(choice.Target)
	case models.ModeUpdateByID, models.ModeDelete:
		return need(choice.Target)
	}
	if len(o.adapters) == 0 {
		return "no marketplace adapters are available"
	}
	return ""
}

func (o *Orchestrator) execute(ctx context.Context, mode models.RunMode, choice models.Choice, report *models.RunReport, log interfaces.LoggerPort) {
	switch mode {
	case models.ModeUpdateByID:
		o.updateByID(ctx, choice, report, log)
	case models.ModeCopy:
		o.copyListings(ctx, choice, report, log)
	case models.ModeDelete:
		o.deleteListings(ctx, choice, report)
	default:
		o.reconcile(ctx, mode, choice, report, log)
	}
}

// reconcile сверка всех маркетплейсов: чтение, группировка, намерения, отправка
func (o *Orchestrator) reconcile(ctx context.Context, mode models.RunMode, choice models.Choice, report *models.RunReport, log interfaces.LoggerPort) {
	snapshot := o.fetchAll(ctx, o.marketplaces(), mode.IncludeFull(), choice.UseLocalData, report, log)
	if ctx.Err() != nil {
		return
	}
	if mode == models.ModeRefresh {
		o.storeSnapshot(ctx, snapshot, nil, log)
		return
	}

	var all []models.CatalogRecord
	for _, m := range o.marketplaces() {
		all = append(all, snapshot[m]...)
	}
	matched := Match(all)
	for _, r := range matched.Unmatched {
		report.AddUnmatched(r.Marketplace, r.StockCode)
	}
	for _, n := range matched.Notes {
		report.AddRejected(n)
		log.Warn("Группа отброшена", interfaces.LogField{Key: "stock_code", Value: n.StockCode},
			interfaces.LogField{Key: "note", Value: n.Note})
	}

	intents := Reconcile(matched.Groups, OptionsFor(mode))
	report.AddIntents(intents)
	log.Info("Сверка выполнена",
		interfaces.LogField{Key: "groups", Value: len(matched.Groups)},
		interfaces.LogField{Key: "unmatched", Value: len(matched.Unmatched)},
		interfaces.LogField{Key: "intents", Value: len(intents)},
	)
	if mode == models.ModeDryRun || o.cfg.DryRun {
		report.SetDryRun()
		return
	}

	outcomes := o.deps.Dispatcher.Dispatch(ctx, o.adapters, intents, report)
	if !choice.UseLocalData {
		o.storeSnapshot(ctx, snapshot, applied(intents, outcomes), log)
	}
}

// fetchAll читает каталоги параллельно. Маркетплейс, чтение которого сорвалось,
// исключается из сверки целиком и помечается недоступным.
func (o *Orchestrator) fetchAll(ctx context.Context, ms []models.Marketplace, includeFull, local bool, report *models.RunReport, log interfaces.LoggerPort) map[models.Marketplace][]models.CatalogRecord {
	out := make(map[models.Marketplace][]models.CatalogRecord, len(ms))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, m := range ms {
		wg.Add(1)
		go func(m models.Marketplace) {
			defer wg.Done()
			records, err := o.fetch(ctx, m, includeFull, local, report)
			if err != nil {
				if apperrors.KindOf(err) != apperrors.KindCancelled || ctx.Err() == nil {
					report.MarkUnavailable(m, "list failed: "+err.Error())
				}
				log.Warn("Каталог не прочитан",
					interfaces.LogField{Key: "marketplace", Value: string(m)},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
				return
			}
			report.AddFetched(m, len(records))
			metrics.RecordsFetched.WithLabelValues(string(m)).Add(float64(len(records)))
			mu.Lock()
			out[m] = records
			mu.Unlock()
		}(m)
	}
	wg.Wait()
	return out
}

func (o *Orchestrator) fetch(ctx context.Context, m models.Marketplace, includeFull, local bool, report *models.RunReport) ([]models.CatalogRecord, error) {
	if local {
		records, err := o.deps.Store.Load(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения зеркала %s: %w", m, err)
		}
		return records, nil
	}
	var records []models.CatalogRecord
	for rec, err := range o.adapters[m].ListCatalog(ctx, includeFull) {
		if models.IsDropped(err) {
			report.AddWarning(m, err.Error())
			metrics.RecordsDropped.WithLabelValues(string(m)).Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, n := range rec.Notes {
			report.AddWarning(m, rec.StockCode+": "+n)
		}
		records = append(records, rec)
	}
	return records, nil
}

// applied успешно выполненные намерения по ключу записи
func applied(intents []models.UpdateIntent, outcomes []models.ItemOutcome) map[models.RecordKey][]models.UpdateIntent {
	ok := make(map[string]struct{}, len(outcomes))
	for _, oc := range outcomes {
		if oc.Status == models.ItemSucceeded {
			ok[oc.IntentID] = struct{}{}
		}
	}
	out := make(map[models.RecordKey][]models.UpdateIntent)
	for _, in := range intents {
		if _, done := ok[in.ID]; done {
			key := models.RecordKey{Marketplace: in.Target, StockCode: in.StockCode}
			out[key] = append(out[key], in)
		}
	}
	return out
}

// storeSnapshot сохраняет прочитанные записи в зеркало с учетом примененных намерений
func (o *Orchestrator) storeSnapshot(ctx context.Context, snapshot map[models.Marketplace][]models.CatalogRecord, done map[models.RecordKey][]models.UpdateIntent, log interfaces.LoggerPort) {
	if o.deps.Store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for m, records := range snapshot {
		rows := make([]models.CatalogRecord, len(records))
		for i, r := range records {
			for _, in := range done[r.Key()] {
				r = applyIntent(r, in)
			}
			rows[i] = r
		}
		if err := o.deps.Store.Upsert(ctx, m, rows); err != nil {
			log.Error("Ошибка сохранения зеркала",
				interfaces.LogField{Key: "marketplace", Value: string(m)},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}
}

func applyIntent(r models.CatalogRecord, in models.UpdateIntent) models.CatalogRecord {
	if in.Fields.Has(models.FieldQuantity) {
		r.Quantity = in.Quantity
	}
	if in.Fields.Has(models.FieldSalePrice) {
		r.SalePrice = in.SalePrice
	}
	if in.Fields.Has(models.FieldListPrice) {
		r.ListPrice = in.ListPrice
	}
	return r
}

// updateByID точечное обновление одного stock code на одном маркетплейсе
func (o *Orchestrator) updateByID(ctx context.Context, choice models.Choice, report *models.RunReport, log interfaces.LoggerPort) {
	m := choice.Target
	sc := choice.StockCodes[0]
	fields, _ := choice.FieldSet()
	sale, list, _ := choice.Prices()

	in := models.NewIntent(m, sc, "", models.RationaleManualUpdate)
	in.Fields = fields
	if choice.Quantity != nil {
		in.Quantity = *choice.Quantity
	}
	in.SalePrice, in.ListPrice = sale, list
	report.AddIntents([]models.UpdateIntent{in})

	rec, err := o.adapters[m].GetOne(ctx, sc)
	if err != nil {
		kind := apperrors.KindOf(err)
		if kind == apperrors.KindUnknown {
			kind = apperrors.KindUnavailable
		}
		log.Warn("Листинг не найден", interfaces.LogField{Key: "stock_code", Value: sc},
			interfaces.LogField{Key: "error", Value: err.Error()})
		report.RecordOutcome(failedOutcome(in, kind, apperrors.Reason(err), ""))
		return
	}
	report.AddFetched(m, 1)
	in.ItemID = rec.ItemID

	outcomes := o.deps.Dispatcher.Dispatch(ctx, o.adapters, []models.UpdateIntent{in}, report)
	o.storeSnapshot(ctx, map[models.Marketplace][]models.CatalogRecord{m: {rec}}, applied([]models.UpdateIntent{in}, outcomes), log)
}

// copyListings создает на цели листинги источника, которых там нет
func (o *Orchestrator) copyListings(ctx context.Context, choice models.Choice, report *models.RunReport, log interfaces.LoggerPort) {
	src, dst := choice.Source, choice.Target
	snapshot := make(map[models.Marketplace][]models.CatalogRecord, 2)
	for _, m := range []models.Marketplace{src, dst} {
		records, err := o.fetch(ctx, m, m == src, choice.UseLocalData, report)
		if err != nil {
			report.MarkUnavailable(m, "list failed: "+err.Error())
			log.Warn("Каталог не прочитан", interfaces.LogField{Key: "marketplace", Value: string(m)},
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		report.AddFetched(m, len(records))
		snapshot[m] = records
	}

	intents := PlanCopy(snapshot[src], snapshot[dst], dst, choice.StockCodes)
	report.AddIntents(intents)

	var ready []models.UpdateIntent
	for _, in := range intents {
		target, err := o.deps.Categories.Translate(ctx, src, dst, *in.Draft)
		if err != nil {
			kind := apperrors.KindOf(err)
			if kind == apperrors.KindUnknown {
				kind = apperrors.KindMalformedRequest
			}
			report.RecordOutcome(failedOutcome(in, kind, "category mapping: "+err.Error(), ""))
			continue
		}
		in.Category = &target
		ready = append(ready, in)
	}
	if o.cfg.DryRun {
		report.SetDryRun()
		return
	}

	outcomes := o.deps.Dispatcher.Dispatch(ctx, o.adapters, ready, report)
	if o.deps.Store == nil {
		return
	}
	var created []models.CatalogRecord
	done := applied(ready, outcomes)
	for _, in := range ready {
		if _, ok := done[models.RecordKey{Marketplace: dst, StockCode: in.StockCode}]; ok {
			created = append(created, createDraft(in).Record)
		}
	}
	if len(created) > 0 {
		if err := o.deps.Store.Upsert(context.WithoutCancel(ctx), dst, created); err != nil {
			log.Error("Ошибка сохранения зеркала", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}
}

// deleteListings удаляет листинги на цели и убирает их из зеркала
func (o *Orchestrator) deleteListings(ctx context.Context, choice models.Choice, report *models.RunReport) {
	intents := make([]models.UpdateIntent, 0, len(choice.StockCodes))
	for _, sc := range choice.StockCodes {
		intents = append(intents, models.NewIntent(choice.Target, sc, "", models.RationaleDelete))
	}
	report.AddIntents(intents)
	if o.cfg.DryRun {
		report.SetDryRun()
		return
	}

	outcomes := o.deps.Dispatcher.Dispatch(ctx, o.adapters, intents, report)
	if o.deps.Store == nil {
		return
	}
	var removed []string
	for _, oc := range outcomes {
		if oc.Status == models.ItemSucceeded {
			removed = append(removed, oc.StockCode)
		}
	}
	if len(removed) > 0 {
		if err := o.deps.Store.Delete(context.WithoutCancel(ctx), choice.Target, removed); err != nil {
			o.deps.Logger.Error("Ошибка удаления из зеркала", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}
}

// persist сохраняет историю прогона и публикует итоги. Ошибки не меняют код завершения.
func (o *Orchestrator) persist(ctx context.Context, report *models.RunReport, log interfaces.LoggerPort) {
	snap := report.Snapshot()
	var errs []error
	if o.deps.Store != nil {
		if err := o.deps.Store.SaveRun(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("sync_runs: %w", err))
		}
	}
	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.PublishRun(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("Итоги прогона сохранены не полностью", interfaces.LogField{Key: "error", Value: err.Error()})
	}
}
