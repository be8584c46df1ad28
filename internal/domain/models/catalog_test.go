package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	d, err := ParsePrice("129.999")
	require.NoError(t, err)
	assert.Equal(t, "130.00", d.StringFixed(2))

	for _, bad := range []string{"1,299.00", "1e3", "-5", "12.", " ", "abc"} {
		_, err := ParsePrice(bad)
		assert.ErrorIs(t, err, ErrMalformedPrice, bad)
	}

	empty, err := ParseOptionalPrice("  ")
	require.NoError(t, err)
	assert.False(t, empty.Valid)
}

func TestPriceDiffers(t *testing.T) {
	a := decimal.RequireFromString("100.00")
	assert.False(t, PriceDiffers(a, decimal.RequireFromString("100.01")))
	assert.True(t, PriceDiffers(a, decimal.RequireFromString("100.02")))
	assert.Equal(t, "", FormatPrice(decimal.NullDecimal{}))
	assert.Equal(t, "7.50", FormatPrice(Price(decimal.RequireFromString("7.5"))))
}

func TestCatalogRecord_Validate(t *testing.T) {
	ok := CatalogRecord{Marketplace: N11, StockCode: "A", Quantity: 1,
		SalePrice: Price(decimal.NewFromInt(90)), ListPrice: Price(decimal.NewFromInt(100))}
	assert.NoError(t, ok.Validate())

	noCode := ok
	noCode.StockCode = ""
	assert.ErrorIs(t, noCode.Validate(), ErrEmptyStockCode)

	neg := ok
	neg.Quantity = -1
	assert.ErrorIs(t, neg.Validate(), ErrNegativeQuantity)

	inverted := ok
	inverted.SalePrice = Price(decimal.NewFromInt(110))
	assert.ErrorIs(t, inverted.Validate(), ErrSaleAboveList)
}

func TestCatalogRecord_Equal(t *testing.T) {
	a := CatalogRecord{Marketplace: N11, StockCode: "A", SalePrice: Price(decimal.RequireFromString("10")),
		FetchedAt: time.Now(), Notes: []string{"x"}, Attributes: map[string]string{}}
	b := CatalogRecord{Marketplace: N11, StockCode: "A", SalePrice: Price(decimal.RequireFromString("10.00"))}
	assert.True(t, a.Equal(b))

	b.Quantity = 3
	assert.False(t, a.Equal(b))
}

func TestNewProductGroup(t *testing.T) {
	g, err := NewProductGroup("A",
		CatalogRecord{Marketplace: Trendyol, StockCode: "A"},
		CatalogRecord{Marketplace: Amazon, StockCode: "A"},
	)
	require.NoError(t, err)
	assert.Equal(t, []Marketplace{Amazon, Trendyol}, g.Marketplaces())
	assert.Equal(t, Amazon, g.Ordered()[0].Marketplace)

	_, err = NewProductGroup("A",
		CatalogRecord{Marketplace: N11, StockCode: "A"},
		CatalogRecord{Marketplace: N11, StockCode: "A"},
	)
	assert.ErrorIs(t, err, ErrDuplicateInGroup)

	_, err = NewProductGroup("A", CatalogRecord{Marketplace: N11, StockCode: "B"})
	assert.ErrorIs(t, err, ErrGroupKeyMismatch)
}

func TestParseMarketplace(t *testing.T) {
	m, err := ParseMarketplace("pttavm")
	require.NoError(t, err)
	assert.Equal(t, PttAVM, m)

	_, err = ParseMarketplace("Trendyol")
	assert.Error(t, err)
	assert.Len(t, AllMarketplaces(), 7)
}
