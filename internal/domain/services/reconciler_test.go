package services

import (
	"testing"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func group(t *testing.T, records ...models.CatalogRecord) models.ProductGroup {
	t.Helper()
	g, err := models.NewProductGroup(records[0].StockCode, records...)
	require.NoError(t, err)
	return g
}

func withList(r models.CatalogRecord, list string) models.CatalogRecord {
	r.ListPrice = models.Price(decimal.RequireFromString(list))
	return r
}

func TestReconcile_QuantityMin(t *testing.T) {
	g := group(t, rec(mpA, "RUG-42", 5, "129.00"), rec(mpB, "RUG-42", 7, "129.00"))

	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Quantity: true})

	require.Len(t, intents, 1)
	in := intents[0]
	assert.Equal(t, mpB, in.Target)
	assert.Equal(t, "RUG-42", in.StockCode)
	assert.Equal(t, "hepsiburada-RUG-42", in.ItemID)
	assert.True(t, in.Fields.Has(models.FieldQuantity))
	assert.False(t, in.Fields.Has(models.FieldSalePrice))
	assert.Equal(t, 5, in.Quantity)
	assert.Equal(t, models.RationaleQuantityDiverged, in.Reason)
	assert.NoError(t, in.Validate())
}

func TestReconcile_QuantityBoundaries(t *testing.T) {
	agree := group(t, rec(mpA, "S", 3, ""), rec(mpB, "S", 3, ""), rec(mpC, "S", 3, ""))
	assert.Empty(t, Reconcile([]models.ProductGroup{agree}, ReconcileOptions{Quantity: true, Prices: true}))

	single := group(t, rec(mpA, "ONE", 9, ""))
	assert.Empty(t, Reconcile([]models.ProductGroup{single}, ReconcileOptions{Quantity: true}))

	byOne := group(t, rec(mpA, "D", 4, ""), rec(mpB, "D", 3, ""))
	intents := Reconcile([]models.ProductGroup{byOne}, ReconcileOptions{Quantity: true})
	require.Len(t, intents, 1)
	assert.Equal(t, mpA, intents[0].Target)
	assert.Equal(t, 3, intents[0].Quantity)
}

func TestReconcile_EveryIntentSetsMinimum(t *testing.T) {
	g := group(t, rec(mpA, "M", 10, ""), rec(mpB, "M", 2, ""), rec(mpC, "M", 6, ""))
	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Quantity: true})
	require.Len(t, intents, 2)
	for _, in := range intents {
		assert.Equal(t, 2, in.Quantity)
		assert.NotEqual(t, mpB, in.Target)
	}
}

func TestReconcile_MedianSalePrice(t *testing.T) {
	g := group(t, rec(mpA, "MAT-01", 10, "50"), rec(mpB, "MAT-01", 10, "60"), rec(mpC, "MAT-01", 10, "70"))

	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Quantity: true, Prices: true})

	require.Len(t, intents, 2)
	targets := map[models.Marketplace]string{}
	for _, in := range intents {
		assert.Equal(t, models.RationalePriceDiverged, in.Reason)
		assert.False(t, in.Fields.Has(models.FieldQuantity))
		targets[in.Target] = models.FormatPrice(in.SalePrice)
	}
	assert.Equal(t, map[models.Marketplace]string{mpA: "60.00", mpC: "60.00"}, targets)
}

func TestReconcile_MedianTieBreaksToSmaller(t *testing.T) {
	g := group(t, rec(mpA, "T", 1, "10"), rec(mpB, "T", 1, "20"))
	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Prices: true})
	require.Len(t, intents, 1)
	assert.Equal(t, mpB, intents[0].Target)
	assert.Equal(t, "10.00", models.FormatPrice(intents[0].SalePrice))
}

func TestReconcile_MinorUnitTolerance(t *testing.T) {
	g := group(t, rec(mpA, "P", 1, "10.00"), rec(mpB, "P", 1, "10.01"))
	assert.Empty(t, Reconcile([]models.ProductGroup{g}, ReconcileOptions{Prices: true}))
}

func TestReconcile_ListPrice(t *testing.T) {
	g := group(t,
		withList(rec(mpA, "L", 1, "100"), "150"),
		withList(rec(mpB, "L", 1, "100"), "120"),
		rec(mpC, "L", 1, "100"),
	)
	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Prices: true})
	require.Len(t, intents, 1, "record without list price keeps it unset")
	assert.Equal(t, mpB, intents[0].Target)
	assert.True(t, intents[0].Fields.Has(models.FieldListPrice))
	assert.False(t, intents[0].Fields.Has(models.FieldSalePrice))
	assert.Equal(t, "150.00", models.FormatPrice(intents[0].ListPrice))
}

func TestReconcile_ListRaisedToSale(t *testing.T) {
	g := group(t,
		withList(rec(mpA, "R", 1, "80"), "90"),
		withList(rec(mpB, "R", 1, "100"), "90"),
		withList(rec(mpC, "R", 1, "95"), "90"),
	)

	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Prices: true})

	require.Len(t, intents, 3)
	for _, in := range intents {
		require.True(t, in.Fields.Has(models.FieldListPrice))
		assert.Equal(t, "95.00", models.FormatPrice(in.ListPrice), "list price follows the canonical sale price")
	}
}

func TestReconcile_SaleRaiseCarriesListWithinTolerance(t *testing.T) {
	g := group(t,
		withList(rec(mpA, "T", 1, "100"), "119.99"),
		withList(rec(mpB, "T", 1, "120"), "120"),
		rec(mpC, "T", 1, "130"),
	)

	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Prices: true})

	require.Len(t, intents, 2)
	byTarget := make(map[models.Marketplace]models.UpdateIntent)
	for _, in := range intents {
		byTarget[in.Target] = in
	}

	a, ok := byTarget[mpA]
	require.True(t, ok)
	assert.Equal(t, "120.00", models.FormatPrice(a.SalePrice))
	require.True(t, a.Fields.Has(models.FieldListPrice), "list price below the new sale price is sent too")
	assert.Equal(t, "120.00", models.FormatPrice(a.ListPrice))
	assert.False(t, a.SalePrice.Decimal.GreaterThan(a.ListPrice.Decimal))

	c, ok := byTarget[mpC]
	require.True(t, ok)
	assert.False(t, c.Fields.Has(models.FieldListPrice))
}

func TestReconcile_NoSalePriceNoIntent(t *testing.T) {
	g := group(t, rec(mpA, "N", 1, ""), rec(mpB, "N", 1, "10"), rec(mpC, "N", 1, "30"))
	intents := Reconcile([]models.ProductGroup{g}, ReconcileOptions{Prices: true})
	require.Len(t, intents, 1)
	assert.Equal(t, mpC, intents[0].Target)
}

func TestReconcile_CurrenciesAreSeparate(t *testing.T) {
	usd := rec(models.Etsy, "C", 1, "10")
	usd.Currency = "USD"
	g := group(t, usd, rec(mpA, "C", 1, "300"))
	assert.Empty(t, Reconcile([]models.ProductGroup{g}, ReconcileOptions{Prices: true}))
}

func TestReconcile_Idempotent(t *testing.T) {
	records := []models.CatalogRecord{
		withList(rec(mpA, "I", 9, "50"), "70"),
		withList(rec(mpB, "I", 4, "65"), "80"),
		withList(rec(mpC, "I", 6, "70"), "75"),
	}
	first := Reconcile([]models.ProductGroup{group(t, records...)}, ReconcileOptions{Quantity: true, Prices: true})
	require.NotEmpty(t, first)

	for i, r := range records {
		for _, in := range first {
			if in.Target == r.Marketplace {
				r = applyIntent(r, in)
			}
		}
		records[i] = r
	}
	second := Reconcile([]models.ProductGroup{group(t, records...)}, ReconcileOptions{Quantity: true, Prices: true})
	assert.Empty(t, second)
}

func TestPlanCopy(t *testing.T) {
	src := []models.CatalogRecord{rec(mpA, "NEW-1", 3, "10"), rec(mpA, "OLD", 1, "10"), rec(mpA, "SKIP", 1, "")}
	dst := []models.CatalogRecord{rec(mpC, "OLD", 1, "10")}

	intents := PlanCopy(src, dst, mpC, []string{"NEW-1", "OLD"})

	require.Len(t, intents, 1)
	in := intents[0]
	assert.Equal(t, models.IntentCreate, in.Kind())
	assert.Equal(t, mpC, in.Target)
	assert.Equal(t, 3, in.Quantity)
	require.NotNil(t, in.Draft)
	assert.Equal(t, mpA, in.Draft.Marketplace)
	assert.NoError(t, in.Validate())

	assert.Len(t, PlanCopy(src, dst, mpC, nil), 2)
}
