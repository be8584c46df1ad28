package marketplace

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// Deps зависимости конструктора адаптера
type Deps struct {
	Config      config.MarketplaceConfig
	Credentials config.Credentials
	Logger      interfaces.LoggerPort
}

// Factory конструктор адаптера. При отсутствии учетных данных возвращает
// ошибку, обернутую вокруг apperrors.ErrMissingCredentials.
type Factory func(ctx context.Context, deps Deps) (Adapter, error)

// Registry сопоставляет тег маркетплейса с конструктором адаптера
type Registry struct {
	mu        sync.RWMutex
	factories map[models.Marketplace]Factory
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.Marketplace]Factory)}
}

// Register регистрирует конструктор; повторная регистрация заменяет прежний
func (r *Registry) Register(m models.Marketplace, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[m] = f
}

// Marketplaces зарегистрированные теги в детерминированном порядке
func (r *Registry) Marketplaces() []models.Marketplace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Marketplace, 0, len(r.factories))
	for m := range r.factories {
		out = append(out, m)
	}
	models.SortMarketplaces(out)
	return out
}

// Build строит адаптер одного маркетплейса
func (r *Registry) Build(ctx context.Context, m models.Marketplace, deps Deps) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[m]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("marketplace %s: %w", m, apperrors.ErrUnsupported)
	}
	if missing := deps.Credentials.Missing(m); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return f(ctx, deps)
}

// BuildResult адаптеры, которые удалось построить, и причины недоступности остальных
type BuildResult struct {
	Adapters    map[models.Marketplace]Adapter
	Unavailable map[models.Marketplace]error
}

// BuildAll строит адаптеры всех включенных маркетплейсов. Ошибка одного адаптера
// не мешает остальным: маркетплейс попадает в Unavailable.
func (r *Registry) BuildAll(ctx context.Context, cfg *config.Config, creds config.Credentials, logger interfaces.LoggerPort) BuildResult {
	res := BuildResult{
		Adapters:    make(map[models.Marketplace]Adapter),
		Unavailable: make(map[models.Marketplace]error),
	}
	for _, m := range r.Marketplaces() {
		mc := cfg.Marketplace(m)
		if !mc.Enabled {
			continue
		}
		deps := Deps{Config: mc, Credentials: creds, Logger: logger.WithMarketplace(string(m))}
		a, err := r.Build(ctx, m, deps)
		if err != nil {
			deps.Logger.Warn("Адаптер недоступен",
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			res.Unavailable[m] = err
			continue
		}
		res.Adapters[m] = a
	}
	return res
}
