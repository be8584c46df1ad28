package marketplace

import (
	"iter"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/utils"
)

// TransportConfig собирает настройки HTTP клиента из конфигурации адаптера
func TransportConfig(m models.Marketplace, deps Deps) transport.Config {
	mc := deps.Config
	return transport.Config{
		Marketplace: string(m),
		BaseURL:     mc.BaseURL,
		Timeout:     mc.Timeout,
		RPS:         mc.RPS,
		Burst:       mc.Burst,
		MaxAttempts: mc.MaxAttempts,
		BackoffBase: mc.BackoffBase,
		BackoffMax:  mc.BackoffMax,
		Logger:      deps.Logger,
	}
}

// LimitsFrom лимиты диспетчера из конфигурации адаптера
func LimitsFrom(deps Deps) Limits {
	bulk := deps.Config.BulkSize
	if bulk <= 0 {
		bulk = 1
	}
	return Limits{MinSpacing: deps.Config.MinSpacing, BulkSize: bulk}
}

// Chunks делит срез на части размером не больше size
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}

// StockCodes stock codes элементов в порядке отправки
func StockCodes(items []models.StockPriceItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.StockCode
	}
	return out
}

// SucceededItems итоги синхронной операции без ошибок
func SucceededItems(stockCodes ...string) []models.ItemResult {
	out := make([]models.ItemResult, len(stockCodes))
	for i, sc := range stockCodes {
		out[i] = models.ItemResult{StockCode: sc, Status: models.ItemSucceeded}
	}
	return out
}

// FailedItem итог одного элемента с видом ошибки
func FailedItem(stockCode string, err error) models.ItemResult {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindUnknown {
		kind = apperrors.KindItemRejected
	}
	return models.ItemResult{
		StockCode: stockCode,
		Status:    models.ItemFailed,
		Kind:      kind,
		Reason:    apperrors.Reason(err),
	}
}

// RejectedItem элемент, отклоненный маркетплейсом с его формулировкой причины
func RejectedItem(stockCode, reason string) models.ItemResult {
	return models.ItemResult{
		StockCode: stockCode,
		Status:    models.ItemFailed,
		Kind:      apperrors.KindItemRejected,
		Reason:    reason,
	}
}

// Unsupported ошибка операции, которой нет у маркетплейса
func Unsupported(m models.Marketplace, op string) error {
	return apperrors.New(apperrors.KindMalformedRequest, string(m), op, apperrors.ErrUnsupported)
}

// listingKey идентичность листинга в пределах одного обхода
type listingKey struct {
	stockCode string
	itemID    string
}

// Normalized применяет общие правила нормализации к сырым листингам адаптера.
// Ошибка чтения завершает перечисление, пропущенная запись нет.
// Повтор той же пары (stock code, item id) за обход отбрасывается: это сдвиг
// страниц, а не дубликат. Одинаковый stock code с другим item id проходит дальше.
func Normalized(m models.Marketplace, includeFull bool, raws iter.Seq2[models.RawListing, error]) iter.Seq2[models.CatalogRecord, error] {
	return utils.Distinct(normalize(m, includeFull, raws), func(r models.CatalogRecord) listingKey {
		return listingKey{stockCode: r.StockCode, itemID: r.ItemID}
	})
}

func normalize(m models.Marketplace, includeFull bool, raws iter.Seq2[models.RawListing, error]) iter.Seq2[models.CatalogRecord, error] {
	return func(yield func(models.CatalogRecord, error) bool) {
		for raw, err := range raws {
			if err != nil {
				yield(models.CatalogRecord{}, err)
				return
			}
			if !yield(models.Normalize(m, raw, includeFull)) {
				return
			}
		}
	}
}

// Fail перечисление из одной ошибки
func Fail(err error) iter.Seq2[models.CatalogRecord, error] {
	return func(yield func(models.CatalogRecord, error) bool) {
		yield(models.CatalogRecord{}, err)
	}
}
