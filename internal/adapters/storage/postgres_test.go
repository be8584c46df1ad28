package storage

import (
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingsTable(t *testing.T) {
	table, err := listingsTable(models.PttAVM)
	require.NoError(t, err)
	assert.Equal(t, `"catalog_sync"."listings_pttavm"`, table)

	_, err = listingsTable(models.Marketplace("x; DROP TABLE y"))
	assert.Error(t, err)
}

func TestListingRow_RoundTrip(t *testing.T) {
	rec := models.CatalogRecord{
		Marketplace:  models.Trendyol,
		StockCode:    "RUG-42",
		ItemID:       "8690000000001",
		Title:        "Halı",
		Quantity:     5,
		SalePrice:    decimal.NewNullDecimal(decimal.RequireFromString("99.9")),
		Currency:     "TRY",
		Attributes:   map[string]string{"Renk": "Mavi"},
		Images:       []string{"https://cdn.example.com/1.jpg"},
		CategoryPath: "Carpet",
		FetchedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	row, err := newListingRow(rec)
	require.NoError(t, err)
	require.NotNil(t, row.SalePrice)
	assert.Equal(t, "99.90", *row.SalePrice)
	assert.Nil(t, row.ListPrice)

	back, err := row.record(models.Trendyol)
	require.NoError(t, err)
	assert.True(t, rec.Equal(back))
	assert.False(t, back.ListPrice.Valid)
}

func TestListingRow_MalformedPrice(t *testing.T) {
	bad := "abc"
	_, err := listingRow{StockCode: "X", SalePrice: &bad}.record(models.N11)
	assert.ErrorIs(t, err, models.ErrMalformedPrice)
}

func TestListingRow_DefaultsFetchedAt(t *testing.T) {
	row, err := newListingRow(models.CatalogRecord{StockCode: "X"})
	require.NoError(t, err)
	assert.False(t, row.FetchedAt.IsZero())
	assert.Nil(t, row.Attributes)
}
