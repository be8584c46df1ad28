package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	raw := RawListing{
		StockCode: "SKU-1", ItemID: "42", Quantity: 7.9,
		SalePrice: "89.90", ListPrice: "99.90",
		Attributes: map[string]string{"Renk": "Kırmızı"},
		Images:     []string{"https://img/1.jpg"},
		CategoryID: "411", CategoryPath: "Home/Carpet",
	}

	rec, err := Normalize(Trendyol, raw, true)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Quantity)
	assert.Equal(t, "89.90", FormatPrice(rec.SalePrice))
	assert.Equal(t, DefaultCurrency(), rec.Currency)
	assert.Equal(t, "Kırmızı", rec.Attributes["Renk"])
	assert.Equal(t, "Home/Carpet", rec.CategoryPath)
	assert.False(t, rec.FetchedAt.IsZero())

	light, err := Normalize(Trendyol, raw, false)
	require.NoError(t, err)
	assert.Nil(t, light.Attributes)
	assert.Empty(t, light.Images)
	assert.Empty(t, light.CategoryID)
}

func TestNormalize_Fallbacks(t *testing.T) {
	rec, err := Normalize(Hepsiburada, RawListing{MainID: "MAIN-1", Quantity: -3}, false)
	require.NoError(t, err)
	assert.Equal(t, "MAIN-1", rec.StockCode)
	assert.Equal(t, 0, rec.Quantity)
	assert.Len(t, rec.Notes, 2)
	assert.Empty(t, rec.Currency, "no prices, no currency")

	inverted, err := Normalize(N11, RawListing{StockCode: "A", SalePrice: "120", ListPrice: "100"}, false)
	require.NoError(t, err)
	assert.False(t, inverted.ListPrice.Valid)
	assert.True(t, inverted.SalePrice.Valid)
}

func TestNormalize_Dropped(t *testing.T) {
	_, err := Normalize(Etsy, RawListing{ItemID: "77"}, false)
	require.Error(t, err)
	assert.True(t, IsDropped(err))
	assert.Contains(t, err.Error(), `"77"`)

	_, err = Normalize(Etsy, RawListing{StockCode: "A", SalePrice: "1.299,00"}, false)
	assert.True(t, IsDropped(err))

	_, err = Normalize(Etsy, RawListing{StockCode: "A", Quantity: math.NaN()}, false)
	assert.True(t, IsDropped(err))
}

func TestParseQuantity(t *testing.T) {
	q, err := ParseQuantity(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, 12.0, q)

	q, err = ParseQuantity("")
	require.NoError(t, err)
	assert.Zero(t, q)

	_, err = ParseQuantity("many")
	assert.Error(t, err)
}
