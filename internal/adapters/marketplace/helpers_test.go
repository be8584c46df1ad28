package marketplace

import (
	"testing"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawSeq(raws ...models.RawListing) func(yield func(models.RawListing, error) bool) {
	return func(yield func(models.RawListing, error) bool) {
		for _, r := range raws {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestNormalized_SkipsShiftedRepeat(t *testing.T) {
	a := models.RawListing{StockCode: "A", ItemID: "1", Quantity: 1}
	b := models.RawListing{StockCode: "B", ItemID: "2", Quantity: 2}
	c := models.RawListing{StockCode: "C", ItemID: "3", Quantity: 3}

	var got []string
	for r, err := range Normalized(models.Trendyol, false, rawSeq(a, b, b, c)) {
		require.NoError(t, err)
		got = append(got, r.StockCode)
	}
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestNormalized_KeepsDuplicateWithOtherItemID(t *testing.T) {
	first := models.RawListing{StockCode: "RUG-42", ItemID: "100", Quantity: 1}
	second := models.RawListing{StockCode: "RUG-42", ItemID: "200", Quantity: 4}

	var ids []string
	for r, err := range Normalized(models.N11, false, rawSeq(first, second)) {
		require.NoError(t, err)
		ids = append(ids, r.ItemID)
	}
	assert.Equal(t, []string{"100", "200"}, ids)
}

func TestNormalized_DroppedRecordDoesNotStop(t *testing.T) {
	bad := models.RawListing{ItemID: "9"}
	good := models.RawListing{StockCode: "A", ItemID: "1"}

	var recs, dropped int
	for _, err := range Normalized(models.N11, false, rawSeq(bad, bad, good)) {
		if err != nil {
			dropped++
			continue
		}
		recs++
	}
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, recs)
}
