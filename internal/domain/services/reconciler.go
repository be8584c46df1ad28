package services

import (
	"sort"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/shopspring/decimal"
)

// ReconcileOptions какие величины сверяются
type ReconcileOptions struct {
	Quantity bool
	Prices   bool
}

// OptionsFor набор сверок для режима прогона
func OptionsFor(mode models.RunMode) ReconcileOptions {
	switch mode {
	case models.ModeReconcileQuantity:
		return ReconcileOptions{Quantity: true}
	case models.ModeReconcilePrice:
		return ReconcileOptions{Prices: true}
	case models.ModeReconcileFull, models.ModeDryRun:
		return ReconcileOptions{Quantity: true, Prices: true}
	}
	return ReconcileOptions{}
}

// Reconcile вычисляет канонические значения по группам и выпускает намерения для
// отстающих записей. Чистая функция: порядок намерений следует порядку групп,
// внутри группы порядку маркетплейсов.
func Reconcile(groups []models.ProductGroup, opts ReconcileOptions) []models.UpdateIntent {
	var out []models.UpdateIntent
	for _, g := range groups {
		if opts.Quantity {
			out = append(out, reconcileQuantity(g)...)
		}
		if opts.Prices {
			out = append(out, reconcilePrices(g)...)
		}
	}
	return out
}

// reconcileQuantity канонический остаток минимальный: продать больше, чем есть, хуже,
// чем недопродать
func reconcileQuantity(g models.ProductGroup) []models.UpdateIntent {
	records := g.Ordered()
	if len(records) < 2 {
		return nil
	}
	canonical := records[0].Quantity
	for _, r := range records[1:] {
		canonical = min(canonical, r.Quantity)
	}

	var out []models.UpdateIntent
	for _, r := range records {
		if r.Quantity <= canonical {
			continue
		}
		in := models.NewIntent(r.Marketplace, r.StockCode, r.ItemID, models.RationaleQuantityDiverged)
		in.Fields = in.Fields.With(models.FieldQuantity)
		in.Quantity = canonical
		out = append(out, in)
	}
	return out
}

// reconcilePrices сверяет цены внутри каждой валюты отдельно. Записи без цены продажи
// не сверяются, цена из списка меняется только у записей, где она задана.
func reconcilePrices(g models.ProductGroup) []models.UpdateIntent {
	byCurrency := make(map[string][]models.CatalogRecord)
	var currencies []string
	for _, r := range g.Ordered() {
		if !r.SalePrice.Valid {
			continue
		}
		cur := r.Currency
		if cur == "" {
			cur = models.DefaultCurrency()
		}
		if _, ok := byCurrency[cur]; !ok {
			currencies = append(currencies, cur)
		}
		byCurrency[cur] = append(byCurrency[cur], r)
	}
	sort.Strings(currencies)

	var out []models.UpdateIntent
	for _, cur := range currencies {
		records := byCurrency[cur]
		if len(records) < 2 {
			continue
		}
		sale, list, hasList := canonicalPrices(records)
		for _, r := range records {
			in := models.NewIntent(r.Marketplace, r.StockCode, r.ItemID, models.RationalePriceDiverged)
			if models.PriceDiffers(r.SalePrice.Decimal, sale) {
				in.Fields = in.Fields.With(models.FieldSalePrice)
				in.SalePrice = models.Price(sale)
			}
			listBelowSale := in.Fields.Has(models.FieldSalePrice) && r.ListPrice.Valid && r.ListPrice.Decimal.LessThan(sale)
			if hasList && r.ListPrice.Valid && (models.PriceDiffers(r.ListPrice.Decimal, list) || listBelowSale) {
				in.Fields = in.Fields.With(models.FieldListPrice)
				in.ListPrice = models.Price(list)
			}
			if !in.Fields.Empty() {
				out = append(out, in)
			}
		}
	}
	return out
}

// canonicalPrices медиана цен продажи (при четном числе меньшая из двух средних)
// и максимум цен из списка. Цена из списка не опускается ниже цены продажи.
func canonicalPrices(records []models.CatalogRecord) (sale, list decimal.Decimal, hasList bool) {
	sales := make([]decimal.Decimal, 0, len(records))
	for _, r := range records {
		sales = append(sales, r.SalePrice.Decimal)
		if r.ListPrice.Valid {
			if !hasList || r.ListPrice.Decimal.GreaterThan(list) {
				list = r.ListPrice.Decimal
			}
			hasList = true
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].LessThan(sales[j]) })
	sale = sales[(len(sales)-1)/2]
	if hasList && sale.GreaterThan(list) {
		list = sale
	}
	return sale, list, hasList
}

// PlanCopy выпускает намерения создания на target для записей source, которых там нет.
// Пустой stockCodes означает все записи источника.
func PlanCopy(source, target []models.CatalogRecord, targetTag models.Marketplace, stockCodes []string) []models.UpdateIntent {
	present := make(map[string]struct{}, len(target))
	for _, r := range target {
		present[r.StockCode] = struct{}{}
	}
	var only map[string]struct{}
	if len(stockCodes) > 0 {
		only = make(map[string]struct{}, len(stockCodes))
		for _, sc := range stockCodes {
			only[sc] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(source))
	var out []models.UpdateIntent
	for _, r := range source {
		if _, ok := present[r.StockCode]; ok {
			continue
		}
		if _, ok := seen[r.StockCode]; ok {
			continue
		}
		if only != nil {
			if _, ok := only[r.StockCode]; !ok {
				continue
			}
		}
		seen[r.StockCode] = struct{}{}

		draft := r
		in := models.NewIntent(targetTag, r.StockCode, "", models.RationaleCreateFromSource)
		in.Fields = in.Fields.With(models.FieldQuantity).With(models.FieldSalePrice).With(models.FieldListPrice).With(models.FieldExtended)
		in.Quantity = r.Quantity
		in.SalePrice = r.SalePrice
		in.ListPrice = r.ListPrice
		in.Draft = &draft
		out = append(out, in)
	}
	return out
}
