package models

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Field поле листинга, которое может изменить намерение
type Field uint8

const (
	FieldQuantity Field = 1 << iota
	FieldSalePrice
	FieldListPrice
	FieldExtended
)

// FieldSet набор полей для обновления
type FieldSet uint8

// Has проверяет наличие поля
func (s FieldSet) Has(f Field) bool {
	return uint8(s)&uint8(f) != 0
}

// With возвращает набор с добавленным полем
func (s FieldSet) With(f Field) FieldSet {
	return FieldSet(uint8(s) | uint8(f))
}

// Empty сообщает, что набор пуст
func (s FieldSet) Empty() bool {
	return s == 0
}

func (s FieldSet) String() string {
	var parts []string
	if s.Has(FieldQuantity) {
		parts = append(parts, "quantity")
	}
	if s.Has(FieldSalePrice) {
		parts = append(parts, "sale_price")
	}
	if s.Has(FieldListPrice) {
		parts = append(parts, "list_price")
	}
	if s.Has(FieldExtended) {
		parts = append(parts, "extended")
	}
	return strings.Join(parts, ",")
}

// ParseFieldSet разбирает список полей вида "quantity,sale_price"
func ParseFieldSet(fields []string) (FieldSet, error) {
	var s FieldSet
	for _, f := range fields {
		switch strings.TrimSpace(f) {
		case "quantity", "qty":
			s = s.With(FieldQuantity)
		case "sale_price", "price":
			s = s.With(FieldSalePrice)
		case "list_price":
			s = s.With(FieldListPrice)
		case "extended", "info":
			s = s.With(FieldExtended)
		case "":
		default:
			return 0, errors.New("unknown field " + f)
		}
	}
	return s, nil
}

// Rationale причина появления намерения
type Rationale string

const (
	RationaleQuantityDiverged Rationale = "quantity-diverged"
	RationalePriceDiverged    Rationale = "price-diverged"
	RationaleCreateFromSource Rationale = "create-from-source"
	RationaleManualUpdate     Rationale = "manual-update"
	RationaleDelete           Rationale = "delete"
)

// IntentKind определяет, какой операцией адаптера будет выполнено намерение
type IntentKind string

const (
	IntentStockPrice IntentKind = "stock_price"
	IntentCreate     IntentKind = "create"
	IntentDelete     IntentKind = "delete"
)

var ErrEmptyFieldSet = errors.New("intent has no fields to update")

// CategoryTarget категория и атрибуты, переведенные в таксономию целевого маркетплейса
type CategoryTarget struct {
	ID         string            `json:"id"`
	Path       string            `json:"path,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// UpdateIntent исправление, которое нужно отправить ровно на один маркетплейс
type UpdateIntent struct {
	ID        string              `json:"id"`
	Target    Marketplace         `json:"target"`
	StockCode string              `json:"stock_code"`
	ItemID    string              `json:"item_id,omitempty"`
	Fields    FieldSet            `json:"fields"`
	Quantity  int                 `json:"quantity,omitempty"`
	SalePrice decimal.NullDecimal `json:"sale_price"`
	ListPrice decimal.NullDecimal `json:"list_price"`
	Reason    Rationale           `json:"reason"`
	// Draft исходная запись для создания копированием
	Draft *CatalogRecord `json:"draft,omitempty"`
	// Category заполняется оркестратором после перевода категории
	Category *CategoryTarget `json:"category,omitempty"`
}

// NewIntent создает намерение с новым идентификатором
func NewIntent(target Marketplace, stockCode, itemID string, reason Rationale) UpdateIntent {
	return UpdateIntent{
		ID:        uuid.New().String(),
		Target:    target,
		StockCode: stockCode,
		ItemID:    itemID,
		Reason:    reason,
	}
}

// Kind операция адаптера для намерения
func (i UpdateIntent) Kind() IntentKind {
	switch i.Reason {
	case RationaleCreateFromSource:
		return IntentCreate
	case RationaleDelete:
		return IntentDelete
	default:
		return IntentStockPrice
	}
}

// Validate проверяет инварианты намерения. Удалению набор полей не нужен.
func (i UpdateIntent) Validate() error {
	if i.StockCode == "" {
		return ErrEmptyStockCode
	}
	if i.Kind() != IntentDelete && i.Fields.Empty() {
		return ErrEmptyFieldSet
	}
	if i.Kind() == IntentCreate && i.Draft == nil {
		return errors.New("create intent without draft")
	}
	return nil
}

// StockPriceItem элемент пакетного обновления остатков и цен
type StockPriceItem struct {
	StockCode string
	ItemID    string
	Quantity  *int
	SalePrice decimal.NullDecimal
	ListPrice decimal.NullDecimal
}

// Merge переносит в элемент поля из намерения
func (it *StockPriceItem) Merge(in UpdateIntent) {
	if it.ItemID == "" {
		it.ItemID = in.ItemID
	}
	if in.Fields.Has(FieldQuantity) {
		q := in.Quantity
		it.Quantity = &q
	}
	if in.Fields.Has(FieldSalePrice) {
		it.SalePrice = in.SalePrice
	}
	if in.Fields.Has(FieldListPrice) {
		it.ListPrice = in.ListPrice
	}
}

// CreateDraft данные для создания листинга на целевом маркетплейсе
type CreateDraft struct {
	Record   CatalogRecord
	Category CategoryTarget
}
