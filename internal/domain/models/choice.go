package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operation вид операции, выбранный пользователем
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Option уточнение операции
type Option string

const (
	OptionFull  Option = "full"
	OptionQty   Option = "qty"
	OptionPrice Option = "price"
	OptionInfo  Option = "info"
	OptionCopy  Option = "copy"
	OptionNone  Option = "none"
)

// RunMode режим прогона, выведенный из записи выбора
type RunMode string

const (
	ModeReconcileQuantity RunMode = "reconcile-quantity"
	ModeReconcileFull     RunMode = "reconcile-full"
	ModeReconcilePrice    RunMode = "reconcile-price"
	ModeRefresh           RunMode = "refresh"
	ModeDryRun            RunMode = "dry-run"
	ModeUpdateByID        RunMode = "update-by-id"
	ModeCopy              RunMode = "copy"
	ModeDelete            RunMode = "delete"
)

var ErrInvalidChoice = errors.New("invalid choice")

// Choice запись выбора пользователя, вход оркестратора
type Choice struct {
	Operation    Operation   `json:"operation" mapstructure:"operation"`
	Source       Marketplace `json:"source,omitempty" mapstructure:"source"`
	Target       Marketplace `json:"target,omitempty" mapstructure:"target"`
	Options      Option      `json:"options" mapstructure:"options"`
	UseLocalData bool        `json:"use_local_data" mapstructure:"use_local_data"`
	StockCodes   []string    `json:"stock_codes,omitempty" mapstructure:"stock_codes"`
	Fields       []string    `json:"fields,omitempty" mapstructure:"fields"`
	Quantity     *int        `json:"quantity,omitempty" mapstructure:"quantity"`
	SalePrice    string      `json:"sale_price,omitempty" mapstructure:"sale_price"`
	ListPrice    string      `json:"list_price,omitempty" mapstructure:"list_price"`
}

// Mode определяет режим прогона
func (c Choice) Mode() (RunMode, error) {
	switch c.Operation {
	case OperationUpdate:
		if c.Target != "" && len(c.StockCodes) == 1 && len(c.Fields) > 0 {
			return ModeUpdateByID, nil
		}
		switch c.Options {
		case OptionQty:
			return ModeReconcileQuantity, nil
		case OptionFull, "":
			return ModeReconcileFull, nil
		case OptionPrice:
			return ModeReconcilePrice, nil
		case OptionInfo:
			return ModeRefresh, nil
		case OptionNone:
			return ModeDryRun, nil
		}
		return "", fmt.Errorf("%w: option %q is not valid for update", ErrInvalidChoice, c.Options)
	case OperationCreate:
		if c.Options != OptionCopy && c.Options != "" {
			return "", fmt.Errorf("%w: create supports only option copy", ErrInvalidChoice)
		}
		return ModeCopy, nil
	case OperationDelete:
		return ModeDelete, nil
	}
	return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidChoice, c.Operation)
}

// Validate проверяет согласованность полей записи
func (c Choice) Validate() error {
	mode, err := c.Mode()
	if err != nil {
		return err
	}
	for _, m := range []Marketplace{c.Source, c.Target} {
		if m == "" {
			continue
		}
		if _, err := ParseMarketplace(string(m)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChoice, err)
		}
	}

	switch mode {
	case ModeCopy:
		if c.Source == "" || c.Target == "" {
			return fmt.Errorf("%w: copy needs source and target", ErrInvalidChoice)
		}
		if c.Source == c.Target {
			return fmt.Errorf("%w: source and target are the same marketplace", ErrInvalidChoice)
		}
	case ModeDelete:
		if c.Target == "" || len(c.StockCodes) == 0 {
			return fmt.Errorf("%w: delete needs target and stock codes", ErrInvalidChoice)
		}
	case ModeUpdateByID:
		fields, err := c.FieldSet()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChoice, err)
		}
		// точечное обновление несет только остаток и цены
		if fields.Has(FieldExtended) {
			return fmt.Errorf("%w: extended fields cannot be updated by id", ErrInvalidChoice)
		}
		if fields.Has(FieldQuantity) && c.Quantity == nil {
			return fmt.Errorf("%w: quantity field without value", ErrInvalidChoice)
		}
		if c.Quantity != nil && *c.Quantity < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidChoice, ErrNegativeQuantity)
		}
		if fields.Has(FieldSalePrice) && strings.TrimSpace(c.SalePrice) == "" {
			return fmt.Errorf("%w: sale_price field without value", ErrInvalidChoice)
		}
		if fields.Has(FieldListPrice) && strings.TrimSpace(c.ListPrice) == "" {
			return fmt.Errorf("%w: list_price field without value", ErrInvalidChoice)
		}
		if _, _, err := c.Prices(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChoice, err)
		}
	}
	return nil
}

// FieldSet набор полей для update-by-id
func (c Choice) FieldSet() (FieldSet, error) {
	s, err := ParseFieldSet(c.Fields)
	if err != nil {
		return 0, err
	}
	if s.Empty() {
		return 0, ErrEmptyFieldSet
	}
	return s, nil
}

// Prices разбирает цены, переданные для update-by-id
func (c Choice) Prices() (sale, list decimal.NullDecimal, err error) {
	if sale, err = ParseOptionalPrice(c.SalePrice); err != nil {
		return
	}
	if list, err = ParseOptionalPrice(c.ListPrice); err != nil {
		return
	}
	if sale.Valid && list.Valid && sale.Decimal.GreaterThan(list.Decimal) {
		err = ErrSaleAboveList
	}
	return
}

// IncludeFull нужны ли расширенные атрибуты при чтении каталогов
func (m RunMode) IncludeFull() bool {
	switch m {
	case ModeReconcileQuantity, ModeDelete:
		return false
	}
	return true
}
