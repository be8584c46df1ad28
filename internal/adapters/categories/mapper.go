// Package categories переводит категории и атрибуты между таксономиями маркетплейсов
// для создания листингов копированием.
package categories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// Source хранилище правил перевода категорий
type Source interface {
	Mapping(ctx context.Context, source, target models.Marketplace, sourceCategory string) (models.CategoryMapping, error)
}

// Mapper переводит категорию записи, кэшируя найденные правила
type Mapper struct {
	source Source
	cache  interfaces.CachePort
	ttl    time.Duration
	logger interfaces.LoggerPort
}

// NewMapper создает переводчик категорий. cache может быть nil.
func NewMapper(source Source, cache interfaces.CachePort, ttl time.Duration, logger interfaces.LoggerPort) *Mapper {
	return &Mapper{source: source, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(source, target models.Marketplace, category string) string {
	return fmt.Sprintf("category:%s:%s:%s", source, target, category)
}

// Translate возвращает категорию цели и переименованные атрибуты записи
func (m *Mapper) Translate(ctx context.Context, source, target models.Marketplace, rec models.CatalogRecord) (models.CategoryTarget, error) {
	category := models.SourceKey(rec)
	if category == "" {
		return models.CategoryTarget{}, apperrors.New(apperrors.KindMalformedRequest, string(target), "create",
			fmt.Errorf("%w: record %s has no category", models.ErrNoCategoryMapping, rec.StockCode))
	}

	mapping, err := m.lookup(ctx, source, target, category)
	if err != nil {
		return models.CategoryTarget{}, err
	}
	return mapping.Apply(rec), nil
}

func (m *Mapper) lookup(ctx context.Context, source, target models.Marketplace, category string) (models.CategoryMapping, error) {
	key := cacheKey(source, target, category)
	if m.cache != nil {
		raw, err := m.cache.Get(ctx, key)
		if err == nil {
			var mapping models.CategoryMapping
			if err := json.Unmarshal(raw, &mapping); err == nil {
				return mapping, nil
			}
		} else if !errors.Is(err, apperrors.ErrCacheMiss) {
			m.logger.Warn("Ошибка чтения кэша категорий", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}

	mapping, err := m.source.Mapping(ctx, source, target, category)
	if err != nil {
		if errors.Is(err, models.ErrNoCategoryMapping) {
			return models.CategoryMapping{}, apperrors.New(apperrors.KindMalformedRequest, string(target), "create", err)
		}
		return models.CategoryMapping{}, fmt.Errorf("ошибка поиска категории %q: %w", category, err)
	}

	if m.cache != nil {
		if raw, err := json.Marshal(mapping); err == nil {
			if err := m.cache.Set(ctx, key, raw, m.ttl); err != nil {
				m.logger.Warn("Ошибка записи кэша категорий", interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}
	}
	return mapping, nil
}

type staticKey struct {
	source, target models.Marketplace
	category       string
}

// Static правила перевода из конфигурации
type Static struct {
	mu       sync.RWMutex
	mappings map[staticKey]models.CategoryMapping
}

// NewStatic создает источник правил из списка
func NewStatic(mappings ...models.CategoryMapping) *Static {
	s := &Static{mappings: make(map[staticKey]models.CategoryMapping, len(mappings))}
	for _, mp := range mappings {
		s.Put(mp)
	}
	return s
}

// Put добавляет или заменяет правило
func (s *Static) Put(mp models.CategoryMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[staticKey{mp.Source, mp.Target, mp.SourceCategory}] = mp
}

func (s *Static) Mapping(_ context.Context, source, target models.Marketplace, category string) (models.CategoryMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mp, ok := s.mappings[staticKey{source, target, category}]
	if !ok {
		return models.CategoryMapping{}, fmt.Errorf("%w: %s -> %s for %q", models.ErrNoCategoryMapping, source, target, category)
	}
	return mp, nil
}

// Chain опрашивает источники по порядку, пока один из них не найдет правило
type Chain []Source

func (c Chain) Mapping(ctx context.Context, source, target models.Marketplace, category string) (models.CategoryMapping, error) {
	for _, s := range c {
		mp, err := s.Mapping(ctx, source, target, category)
		if err == nil {
			return mp, nil
		}
		if !errors.Is(err, models.ErrNoCategoryMapping) {
			return models.CategoryMapping{}, err
		}
	}
	return models.CategoryMapping{}, fmt.Errorf("%w: %s -> %s for %q", models.ErrNoCategoryMapping, source, target, category)
}
