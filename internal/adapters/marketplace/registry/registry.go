// Package registry собирает реестр со всеми встроенными адаптерами.
package registry

import (
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/amazon"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/ciceksepeti"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/etsy"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/hepsiburada"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/n11"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/pttavm"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/trendyol"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
)

// Default реестр с адаптерами всех поддерживаемых маркетплейсов
func Default() *marketplace.Registry {
	r := marketplace.NewRegistry()
	r.Register(models.Trendyol, trendyol.New)
	r.Register(models.Hepsiburada, hepsiburada.New)
	r.Register(models.Ciceksepeti, ciceksepeti.New)
	r.Register(models.N11, n11.New)
	r.Register(models.PttAVM, pttavm.New)
	r.Register(models.Etsy, etsy.New)
	r.Register(models.Amazon, amazon.New)
	return r
}
