package models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyStockCode    = errors.New("stock code is empty")
	ErrNegativeQuantity  = errors.New("quantity is negative")
	ErrNegativePrice     = errors.New("price is negative")
	ErrSaleAboveList     = errors.New("sale price is greater than list price")
	ErrMalformedPrice    = errors.New("malformed price")
	ErrDuplicateInGroup  = errors.New("duplicate marketplace in product group")
	ErrGroupKeyMismatch  = errors.New("record stock code does not match group key")
	priceLiteral         = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	minorUnit            = decimal.New(1, -2)
	defaultPriceCurrency = "TRY"
)

// CatalogRecord снимок одного листинга на одном маркетплейсе в момент чтения.
// Необязательные поля, которые маркетплейс не вернул, остаются пустыми.
type CatalogRecord struct {
	Marketplace Marketplace `json:"marketplace"`
	StockCode   string      `json:"stock_code"`
	// ItemID идентификатор, назначенный маркетплейсом; по нему выполняются обновления
	ItemID      string              `json:"item_id"`
	Barcode     string              `json:"barcode,omitempty"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Quantity    int                 `json:"quantity"`
	SalePrice   decimal.NullDecimal `json:"sale_price"`
	ListPrice   decimal.NullDecimal `json:"list_price"`
	Currency    string              `json:"currency,omitempty"`
	// Attributes атрибуты маркетплейса как есть, нужны для создания копированием
	Attributes   map[string]string `json:"attributes,omitempty"`
	Images       []string          `json:"images,omitempty"`
	CategoryID   string            `json:"category_id,omitempty"`
	CategoryPath string            `json:"category_path,omitempty"`
	// Notes замечания нормализации (например, отрицательный остаток)
	Notes     []string  `json:"notes,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Validate проверяет инварианты записи
func (r CatalogRecord) Validate() error {
	if r.StockCode == "" {
		return ErrEmptyStockCode
	}
	if r.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if r.SalePrice.Valid && r.SalePrice.Decimal.IsNegative() {
		return ErrNegativePrice
	}
	if r.ListPrice.Valid && r.ListPrice.Decimal.IsNegative() {
		return ErrNegativePrice
	}
	if r.SalePrice.Valid && r.ListPrice.Valid && r.SalePrice.Decimal.GreaterThan(r.ListPrice.Decimal) {
		return fmt.Errorf("%w: %s > %s", ErrSaleAboveList, r.SalePrice.Decimal, r.ListPrice.Decimal)
	}
	return nil
}

// Key ключ записи в пределах одного прогона
func (r CatalogRecord) Key() RecordKey {
	return RecordKey{Marketplace: r.Marketplace, StockCode: r.StockCode}
}

// Equal сравнивает содержимое записей без учета времени чтения и замечаний
func (r CatalogRecord) Equal(o CatalogRecord) bool {
	a, b := r, o
	a.FetchedAt, b.FetchedAt = time.Time{}, time.Time{}
	a.Notes, b.Notes = nil, nil
	if !priceEqual(a.SalePrice, b.SalePrice) || !priceEqual(a.ListPrice, b.ListPrice) {
		return false
	}
	a.SalePrice, b.SalePrice = decimal.NullDecimal{}, decimal.NullDecimal{}
	a.ListPrice, b.ListPrice = decimal.NullDecimal{}, decimal.NullDecimal{}
	if len(a.Attributes) == 0 && len(b.Attributes) == 0 {
		a.Attributes, b.Attributes = nil, nil
	}
	if len(a.Images) == 0 && len(b.Images) == 0 {
		a.Images, b.Images = nil, nil
	}
	return reflect.DeepEqual(a, b)
}

func priceEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// RecordKey пара (маркетплейс, stock code), уникальная в пределах прогона
type RecordKey struct {
	Marketplace Marketplace
	StockCode   string
}

func (k RecordKey) String() string {
	return string(k.Marketplace) + "/" + k.StockCode
}

// ParsePrice разбирает цену: только цифры и точка, без экспоненты и разделителей
// разрядов. Результат округляется до двух знаков.
func ParsePrice(s string) (decimal.Decimal, error) {
	if !priceLiteral.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedPrice, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrMalformedPrice, s, err)
	}
	return d.Round(2), nil
}

// ParseOptionalPrice как ParsePrice, но пустая строка дает невалидное значение
func ParseOptionalPrice(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := ParsePrice(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// Price конструктор валидной цены
func Price(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d.Round(2))
}

// PriceDiffers сообщает, отличаются ли цены больше чем на одну минимальную единицу валюты
func PriceDiffers(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(minorUnit)
}

// FormatPrice печатает цену с двумя знаками после точки
func FormatPrice(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

// DefaultCurrency валюта по умолчанию для маркетплейсов, которые ее не сообщают
func DefaultCurrency() string {
	return defaultPriceCurrency
}

// ProductGroup записи разных маркетплейсов, относящиеся к одному SKU
type ProductGroup struct {
	StockCode string
	Records   map[Marketplace]CatalogRecord
}

// NewProductGroup собирает группу, проверяя, что на каждый маркетплейс приходится не больше одной записи
func NewProductGroup(stockCode string, records ...CatalogRecord) (ProductGroup, error) {
	g := ProductGroup{StockCode: stockCode, Records: make(map[Marketplace]CatalogRecord, len(records))}
	for _, r := range records {
		if r.StockCode != stockCode {
			return ProductGroup{}, fmt.Errorf("%w: %s != %s", ErrGroupKeyMismatch, r.StockCode, stockCode)
		}
		if _, ok := g.Records[r.Marketplace]; ok {
			return ProductGroup{}, fmt.Errorf("%w: %s on %s", ErrDuplicateInGroup, stockCode, r.Marketplace)
		}
		g.Records[r.Marketplace] = r
	}
	return g, nil
}

// Marketplaces возвращает маркетплейсы группы в отсортированном порядке
func (g ProductGroup) Marketplaces() []Marketplace {
	out := make([]Marketplace, 0, len(g.Records))
	for m := range g.Records {
		out = append(out, m)
	}
	SortMarketplaces(out)
	return out
}

// Ordered возвращает записи группы в порядке маркетплейсов
func (g ProductGroup) Ordered() []CatalogRecord {
	out := make([]CatalogRecord, 0, len(g.Records))
	for _, m := range g.Marketplaces() {
		out = append(out, g.Records[m])
	}
	return out
}

// SortRecords упорядочивает записи по (маркетплейс, stock code)
func SortRecords(records []CatalogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Marketplace != records[j].Marketplace {
			return records[i].Marketplace < records[j].Marketplace
		}
		return records[i].StockCode < records[j].StockCode
	})
}
