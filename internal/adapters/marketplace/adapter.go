// Package marketplace описывает единый контракт адаптеров маркетплейсов и реестр,
// который по тегу маркетплейса строит конкретную реализацию.
package marketplace

import (
	"context"
	"iter"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
)

// Limits ограничения маркетплейса, которые учитывает диспетчер
type Limits struct {
	// MinSpacing минимальный интервал между отправками обновлений
	MinSpacing time.Duration
	// BulkSize максимальное число элементов в одной пакетной отправке
	BulkSize int
}

// Adapter скрывает протокол, аутентификацию, пагинацию и лимиты маркетплейса.
// Все ошибки операций имеют вид из pkg/errors.
type Adapter interface {
	// Marketplace тег маркетплейса
	Marketplace() models.Marketplace

	// Limits лимиты отправки
	Limits() Limits

	// ListCatalog лениво перечисляет листинги. includeFull запрашивает атрибуты,
	// изображения и категорию. Пропущенная при нормализации запись приходит как
	// *models.DroppedRecordError, после нее перечисление продолжается.
	ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error]

	// GetOne возвращает листинг по stock code или ошибку not_found
	GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error)

	// SubmitStockPrice отправляет пакет изменений остатков и цен
	SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error)

	// PollJob опрашивает асинхронное задание
	PollJob(ctx context.Context, job models.BatchJob) (models.BatchJob, error)

	// SubmitCreate создает листинг по черновику
	SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error)

	// Delete удаляет листинги по stock code
	Delete(ctx context.Context, stockCodes []string) (*models.SubmitResult, error)
}
