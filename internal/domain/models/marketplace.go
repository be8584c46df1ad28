package models

import (
	"fmt"
	"sort"
)

// Marketplace тег маркетплейса, по нему реестр находит реализацию адаптера
type Marketplace string

const (
	Trendyol    Marketplace = "trendyol"
	Hepsiburada Marketplace = "hepsiburada"
	Ciceksepeti Marketplace = "ciceksepeti"
	N11         Marketplace = "n11"
	PttAVM      Marketplace = "pttavm"
	Etsy        Marketplace = "etsy"
	Amazon      Marketplace = "amazon"
)

var knownMarketplaces = []Marketplace{Trendyol, Hepsiburada, Ciceksepeti, N11, PttAVM, Etsy, Amazon}

// AllMarketplaces возвращает все поддерживаемые маркетплейсы в фиксированном порядке
func AllMarketplaces() []Marketplace {
	out := make([]Marketplace, len(knownMarketplaces))
	copy(out, knownMarketplaces)
	return out
}

// ParseMarketplace проверяет тег маркетплейса
func ParseMarketplace(s string) (Marketplace, error) {
	for _, m := range knownMarketplaces {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown marketplace %q", s)
}

func (m Marketplace) String() string {
	return string(m)
}

// SortMarketplaces сортирует теги по имени, чтобы вывод был детерминированным
func SortMarketplaces(ms []Marketplace) {
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
}
