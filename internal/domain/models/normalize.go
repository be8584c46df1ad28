package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawListing поля листинга в том виде, в каком их вернул маркетплейс.
// Адаптер только раскладывает ответ по полям, правила свертки общие.
type RawListing struct {
	StockCode string
	// MainID запасной идентификатор ("main product id"), если stock code не задан
	MainID      string
	ItemID      string
	Barcode     string
	Title       string
	Description string
	Quantity    float64
	SalePrice   string
	ListPrice   string
	Currency    string
	Attributes  map[string]string
	Images      []string
	CategoryID  string
	// CategoryPath путь категории в таксономии маркетплейса
	CategoryPath string
}

// DroppedRecordError запись пропущена при нормализации. Чтение каталога продолжается,
// а причина попадает в отчет предупреждением.
type DroppedRecordError struct {
	Marketplace Marketplace
	// Hint любой идентификатор, по которому запись можно найти в кабинете
	Hint   string
	Reason string
}

func (e *DroppedRecordError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: record %q dropped: %s", e.Marketplace, e.Hint, e.Reason)
	}
	return fmt.Sprintf("%s: record dropped: %s", e.Marketplace, e.Reason)
}

// IsDropped сообщает, что ошибка означает пропуск одной записи, а не сбой чтения
func IsDropped(err error) bool {
	var d *DroppedRecordError
	return errors.As(err, &d)
}

// Normalize превращает сырой листинг в CatalogRecord.
//
// stock code берется из поля продавца, затем из MainID; без обоих запись пропускается.
// Отрицательный остаток обнуляется с замечанием, дробный отбрасывает дробную часть.
// Цены разбираются строго (см. ParsePrice). Заголовок и описание не обрезаются.
// Без includeFull атрибуты, изображения и категория не заполняются.
func Normalize(m Marketplace, raw RawListing, includeFull bool) (CatalogRecord, error) {
	rec := CatalogRecord{
		Marketplace: m,
		StockCode:   raw.StockCode,
		ItemID:      raw.ItemID,
		Barcode:     raw.Barcode,
		Title:       raw.Title,
		Description: raw.Description,
		Currency:    raw.Currency,
		FetchedAt:   time.Now().UTC(),
	}

	hint := firstNonEmpty(raw.ItemID, raw.Barcode, raw.Title)
	if strings.TrimSpace(rec.StockCode) == "" {
		rec.StockCode = raw.MainID
		if strings.TrimSpace(rec.StockCode) == "" {
			return CatalogRecord{}, &DroppedRecordError{Marketplace: m, Hint: hint, Reason: "no stock code and no main product id"}
		}
		rec.Notes = append(rec.Notes, "stock code taken from main product id")
	}

	switch {
	case math.IsNaN(raw.Quantity) || math.IsInf(raw.Quantity, 0):
		return CatalogRecord{}, &DroppedRecordError{Marketplace: m, Hint: rec.StockCode, Reason: "quantity is not a number"}
	case raw.Quantity < 0:
		rec.Notes = append(rec.Notes, fmt.Sprintf("negative quantity %v clamped to 0", raw.Quantity))
	default:
		rec.Quantity = int(math.Trunc(raw.Quantity))
	}

	var err error
	if rec.SalePrice, err = ParseOptionalPrice(raw.SalePrice); err != nil {
		return CatalogRecord{}, &DroppedRecordError{Marketplace: m, Hint: rec.StockCode, Reason: "sale price: " + err.Error()}
	}
	if rec.ListPrice, err = ParseOptionalPrice(raw.ListPrice); err != nil {
		return CatalogRecord{}, &DroppedRecordError{Marketplace: m, Hint: rec.StockCode, Reason: "list price: " + err.Error()}
	}
	if rec.SalePrice.Valid && rec.ListPrice.Valid && rec.SalePrice.Decimal.GreaterThan(rec.ListPrice.Decimal) {
		rec.Notes = append(rec.Notes, fmt.Sprintf("list price %s below sale price %s ignored",
			rec.ListPrice.Decimal.StringFixed(2), rec.SalePrice.Decimal.StringFixed(2)))
		rec.ListPrice.Valid = false
	}
	if rec.Currency == "" && (rec.SalePrice.Valid || rec.ListPrice.Valid) {
		rec.Currency = DefaultCurrency()
	}

	if includeFull {
		if len(raw.Attributes) > 0 {
			rec.Attributes = make(map[string]string, len(raw.Attributes))
			for k, v := range raw.Attributes {
				rec.Attributes[k] = v
			}
		}
		rec.Images = append([]string(nil), raw.Images...)
		rec.CategoryID = raw.CategoryID
		rec.CategoryPath = raw.CategoryPath
	}

	return rec, nil
}

// ParseQuantity разбирает остаток из текстовых ответов (SOAP, TSV отчеты)
func ParseQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed quantity %q: %w", s, err)
	}
	return q, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
