package marketplace

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/google/uuid"
)

// MemoryAdapter маркетплейс в памяти для тестов и локальных прогонов.
// Может имитировать асинхронные задания, отказы отправки и отклонение элементов.
type MemoryAdapter struct {
	mu      sync.Mutex
	tag     models.Marketplace
	limits  Limits
	records map[string]models.CatalogRecord
	order   []string
	extra   []models.CatalogRecord
	dropped []error

	async         bool
	pollsToFinish int
	jobs          map[string]*memoryJob

	submitErr error
	pollErr   error
	rejected  map[string]string

	submitTimes []time.Time
	batches     [][]models.StockPriceItem
	creates     []models.CreateDraft
}

type memoryJob struct {
	job   models.BatchJob
	items []models.ItemResult
}

// NewMemoryAdapter создает маркетплейс с исходными листингами
func NewMemoryAdapter(tag models.Marketplace, limits Limits, records ...models.CatalogRecord) *MemoryAdapter {
	if limits.BulkSize <= 0 {
		limits.BulkSize = 100
	}
	a := &MemoryAdapter{
		tag:      tag,
		limits:   limits,
		records:  make(map[string]models.CatalogRecord),
		jobs:     make(map[string]*memoryJob),
		rejected: make(map[string]string),
	}
	for _, r := range records {
		a.put(r)
	}
	return a
}

func (a *MemoryAdapter) put(r models.CatalogRecord) {
	r.Marketplace = a.tag
	if r.ItemID == "" {
		r.ItemID = r.StockCode
	}
	if _, ok := a.records[r.StockCode]; !ok {
		a.order = append(a.order, r.StockCode)
	}
	a.records[r.StockCode] = r
}

// SetAsync переключает отправки в асинхронный режим: задание завершается после polls опросов
func (a *MemoryAdapter) SetAsync(polls int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.async = true
	a.pollsToFinish = polls
}

// FailSubmits заставляет все отправки возвращать err
func (a *MemoryAdapter) FailSubmits(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitErr = err
}

// FailPolls заставляет опросы заданий возвращать err
func (a *MemoryAdapter) FailPolls(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pollErr = err
}

// Reject отклоняет элемент с заданной причиной
func (a *MemoryAdapter) Reject(stockCode, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected[stockCode] = reason
}

// AddDuplicate добавляет в перечисление еще одну запись с тем же stock code
func (a *MemoryAdapter) AddDuplicate(r models.CatalogRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r.Marketplace = a.tag
	a.extra = append(a.extra, r)
}

// AddDropped добавляет в перечисление пропущенную запись
func (a *MemoryAdapter) AddDropped(hint, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropped = append(a.dropped, &models.DroppedRecordError{Marketplace: a.tag, Hint: hint, Reason: reason})
}

// SubmitTimes моменты отправок обновлений
func (a *MemoryAdapter) SubmitTimes() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.submitTimes...)
}

// Batches пакеты, отправленные через SubmitStockPrice
func (a *MemoryAdapter) Batches() [][]models.StockPriceItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]models.StockPriceItem(nil), a.batches...)
}

// Creates черновики, переданные в SubmitCreate
func (a *MemoryAdapter) Creates() []models.CreateDraft {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.CreateDraft(nil), a.creates...)
}

// Record текущее состояние листинга
func (a *MemoryAdapter) Record(stockCode string) (models.CatalogRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[stockCode]
	return r, ok
}

func (a *MemoryAdapter) Marketplace() models.Marketplace { return a.tag }

func (a *MemoryAdapter) Limits() Limits { return a.limits }

func (a *MemoryAdapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	return func(yield func(models.CatalogRecord, error) bool) {
		a.mu.Lock()
		snapshot := make([]models.CatalogRecord, 0, len(a.order)+len(a.extra))
		for _, sc := range a.order {
			snapshot = append(snapshot, a.records[sc])
		}
		snapshot = append(snapshot, a.extra...)
		dropped := append([]error(nil), a.dropped...)
		a.mu.Unlock()

		for _, r := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(models.CatalogRecord{}, apperrors.New(apperrors.KindCancelled, string(a.tag), "list", err))
				return
			}
			if !includeFull {
				r.Attributes, r.Images, r.CategoryID, r.CategoryPath = nil, nil, "", ""
			}
			r.FetchedAt = time.Now().UTC()
			if !yield(r, nil) {
				return
			}
		}
		for _, err := range dropped {
			if !yield(models.CatalogRecord{}, err) {
				return
			}
		}
	}
}

func (a *MemoryAdapter) GetOne(_ context.Context, stockCode string) (models.CatalogRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[stockCode]
	if !ok {
		return models.CatalogRecord{}, apperrors.Newf(apperrors.KindNotFound, string(a.tag), "get", "stock code %s", stockCode)
	}
	return r, nil
}

func (a *MemoryAdapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitTimes = append(a.submitTimes, time.Now())
	a.batches = append(a.batches, append([]models.StockPriceItem(nil), items...))
	if a.submitErr != nil {
		return nil, a.submitErr
	}

	results := make([]models.ItemResult, 0, len(items))
	for _, it := range items {
		if reason, ok := a.rejected[it.StockCode]; ok {
			results = append(results, RejectedItem(it.StockCode, reason))
			continue
		}
		r, ok := a.records[it.StockCode]
		if !ok {
			results = append(results, FailedItem(it.StockCode,
				apperrors.Newf(apperrors.KindNotFound, string(a.tag), "update", "unknown stock code %s", it.StockCode)))
			continue
		}
		if it.Quantity != nil {
			r.Quantity = *it.Quantity
		}
		if it.SalePrice.Valid {
			r.SalePrice = it.SalePrice
		}
		if it.ListPrice.Valid {
			r.ListPrice = it.ListPrice
		}
		a.records[it.StockCode] = r
		results = append(results, models.ItemResult{StockCode: it.StockCode, Status: models.ItemSucceeded})
	}
	return a.result(models.IntentStockPrice, StockCodes(items), results), nil
}

func (a *MemoryAdapter) result(kind models.IntentKind, stockCodes []string, items []models.ItemResult) *models.SubmitResult {
	if !a.async {
		return models.SyncResult(items...)
	}
	job := models.NewBatchJob(a.tag, uuid.New().String(), kind, stockCodes)
	a.jobs[job.ExternalID] = &memoryJob{job: job, items: items}
	return models.AsyncResult(job)
}

func (a *MemoryAdapter) PollJob(_ context.Context, job models.BatchJob) (models.BatchJob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pollErr != nil {
		return job, a.pollErr
	}
	mj, ok := a.jobs[job.ExternalID]
	if !ok {
		return job, apperrors.Newf(apperrors.KindNotFound, string(a.tag), "poll", "job %s", job.ExternalID)
	}
	job.Polls++
	job.LastPolledAt = time.Now()
	if job.Polls < a.pollsToFinish {
		job.Status = models.JobInProgress
		return job, nil
	}
	job.Status = models.JobSucceeded
	job.Items = append([]models.ItemResult(nil), mj.items...)
	return job, nil
}

func (a *MemoryAdapter) SubmitCreate(_ context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitTimes = append(a.submitTimes, time.Now())
	a.creates = append(a.creates, draft)
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	sc := draft.Record.StockCode
	if reason, ok := a.rejected[sc]; ok {
		return a.result(models.IntentCreate, []string{sc}, []models.ItemResult{RejectedItem(sc, reason)}), nil
	}

	r := draft.Record
	r.ItemID = ""
	r.CategoryID = draft.Category.ID
	r.CategoryPath = draft.Category.Path
	if len(draft.Category.Attributes) > 0 {
		r.Attributes = draft.Category.Attributes
	}
	a.put(r)
	return a.result(models.IntentCreate, []string{sc}, SucceededItems(sc)), nil
}

func (a *MemoryAdapter) Delete(_ context.Context, stockCodes []string) (*models.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitTimes = append(a.submitTimes, time.Now())
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	results := make([]models.ItemResult, 0, len(stockCodes))
	for _, sc := range stockCodes {
		if _, ok := a.records[sc]; !ok {
			results = append(results, FailedItem(sc,
				apperrors.Newf(apperrors.KindNotFound, string(a.tag), "delete", "unknown stock code %s", sc)))
			continue
		}
		delete(a.records, sc)
		for i, o := range a.order {
			if o == sc {
				a.order = append(a.order[:i], a.order[i+1:]...)
				break
			}
		}
		results = append(results, models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
	}
	return a.result(models.IntentDelete, stockCodes, results), nil
}
