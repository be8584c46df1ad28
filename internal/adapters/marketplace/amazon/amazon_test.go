package amazon

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func newAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	a, err := New(context.Background(), marketplace.Deps{
		Config: config.MarketplaceConfig{
			BaseURL: srv.URL, TokenURL: srv.URL + "/auth/o2/token", MarketplaceID: "A33AVAJ2PDY3EV",
			BulkSize: 1000, MaxAttempts: 2, BackoffBase: time.Millisecond,
		},
		Credentials: config.Credentials{Amazon: config.AmazonCredentials{ClientID: "id", ClientSecret: "secret", SellerID: "S1"}},
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	ad := a.(*Adapter)
	ad.sleep = func(context.Context, time.Duration) error { return nil }
	return ad
}

func tokenHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
}

func gz(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestListCatalog_Report(t *testing.T) {
	report, err := charmap.Windows1252.NewEncoder().String(
		"item-name\titem-description\tlisting-id\tseller-sku\tprice\tquantity\tasin1\tstatus\n" +
			"Kilim Café\tWool rug\tL1\tRUG-42\t129.90\t4\tB0001\tActive\n" +
			"Mat \"big\"\t\tL2\tMAT-01\t10\t\tB0002\tInactive\n" +
			"Broken\t\tL3\tBAD\t1e3\t1\tB0003\tActive\n")
	require.NoError(t, err)

	var statusPolls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/o2/token", tokenHandler)
	mux.HandleFunc("/reports/2021-06-30/reports", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("x-amz-access-token"))
		var body createReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, reportType, body.ReportType)
		_, _ = io.WriteString(w, `{"reportId":"R1"}`)
	})
	mux.HandleFunc("/reports/2021-06-30/reports/R1", func(w http.ResponseWriter, r *http.Request) {
		if statusPolls.Add(1) < 3 {
			_, _ = io.WriteString(w, `{"reportId":"R1","processingStatus":"IN_PROGRESS"}`)
			return
		}
		_, _ = io.WriteString(w, `{"reportId":"R1","processingStatus":"DONE","reportDocumentId":"D1"}`)
	})
	var srvURL string
	mux.HandleFunc("/reports/2021-06-30/documents/D1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"reportDocumentId":"D1","url":"`+srvURL+`/s3/D1","compressionAlgorithm":"GZIP"}`)
	})
	mux.HandleFunc("/s3/D1", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("x-amz-access-token"), "signed document urls get no SP-API token")
		_, _ = w.Write(gz(t, []byte(report)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	var got []models.CatalogRecord
	dropped := 0
	for rec, err := range newAdapter(t, srv).ListCatalog(context.Background(), true) {
		if models.IsDropped(err) {
			dropped++
			continue
		}
		require.NoError(t, err)
		got = append(got, rec)
	}

	assert.EqualValues(t, 3, statusPolls.Load())
	require.Len(t, got, 2)
	assert.Equal(t, "RUG-42", got[0].StockCode)
	assert.Equal(t, "Kilim Café", got[0].Title, "report is decoded from Windows-1252")
	assert.Equal(t, 4, got[0].Quantity)
	assert.Equal(t, "129.90", models.FormatPrice(got[0].SalePrice))
	assert.Equal(t, "B0001", got[0].Attributes["asin1"])
	assert.Equal(t, `Mat "big"`, got[1].Title)
	assert.Equal(t, 0, got[1].Quantity)
	assert.Equal(t, 1, dropped)
}

func TestListCatalog_ReportFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/o2/token", tokenHandler)
	mux.HandleFunc("/reports/2021-06-30/reports", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"reportId":"R1"}`)
	})
	mux.HandleFunc("/reports/2021-06-30/reports/R1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"reportId":"R1","processingStatus":"FATAL"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var errs []error
	for _, err := range newAdapter(t, srv).ListCatalog(context.Background(), false) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Equal(t, apperrors.KindUnavailable, apperrors.KindOf(errs[0]))
}

func TestFeed_SubmitAndPoll(t *testing.T) {
	var uploaded feedDocument
	var feedPolls atomic.Int32
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/o2/token", tokenHandler)
	mux.HandleFunc("/feeds/2021-06-30/documents", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"feedDocumentId":"FD1","url":"`+srvURL+`/s3/upload/FD1"}`)
	})
	mux.HandleFunc("/s3/upload/FD1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&uploaded))
	})
	mux.HandleFunc("/feeds/2021-06-30/feeds", func(w http.ResponseWriter, r *http.Request) {
		var body createFeedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "FD1", body.InputFeedDocumentID)
		assert.Equal(t, feedType, body.FeedType)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"feedId":"F1"}`)
	})
	mux.HandleFunc("/feeds/2021-06-30/feeds/F1", func(w http.ResponseWriter, r *http.Request) {
		if feedPolls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"feedId":"F1","processingStatus":"IN_QUEUE"}`)
			return
		}
		_, _ = io.WriteString(w, `{"feedId":"F1","processingStatus":"DONE","resultFeedDocumentId":"RD1"}`)
	})
	mux.HandleFunc("/feeds/2021-06-30/documents/RD1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"feedDocumentId":"RD1","url":"`+srvURL+`/s3/RD1"}`)
	})
	mux.HandleFunc("/s3/RD1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"summary":{"messagesProcessed":2,"messagesAccepted":1,"messagesInvalid":1},
			"issues":[{"messageId":2,"code":"90220","severity":"ERROR","message":"price is required"},
			          {"messageId":1,"code":"18","severity":"WARNING","message":"ignored"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	a := newAdapter(t, srv)
	q := 5
	res, err := a.SubmitStockPrice(context.Background(), []models.StockPriceItem{
		{StockCode: "RUG-42", Quantity: &q},
		{StockCode: "MAT-01", SalePrice: models.Price(decimal.NewFromInt(12)), ListPrice: models.Price(decimal.NewFromInt(15))},
	})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	job := res.Jobs[0]
	assert.Equal(t, "F1", job.ExternalID)

	require.Len(t, uploaded.Messages, 2)
	assert.Equal(t, "S1", uploaded.Header.SellerID)
	assert.Equal(t, "PATCH", uploaded.Messages[0].OperationType)
	require.Len(t, uploaded.Messages[0].Patches, 1)
	assert.Equal(t, "/attributes/fulfillment_availability", uploaded.Messages[0].Patches[0].Path)
	require.Len(t, uploaded.Messages[1].Patches, 2)

	job, err = a.PollJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.JobInProgress, job.Status)

	job, err = a.PollJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, job.Status)
	require.Len(t, job.Items, 2)
	assert.Equal(t, models.ItemSucceeded, job.Items[0].Status)
	assert.Equal(t, "MAT-01", job.Items[1].StockCode)
	assert.Equal(t, apperrors.KindItemRejected, job.Items[1].Kind)
	assert.Equal(t, "90220: price is required", job.Items[1].Reason)
}

func TestGetOne_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/o2/token", tokenHandler)
	mux.HandleFunc("/listings/2021-08-01/items/S1/NOPE", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":[{"code":"NOT_FOUND","message":"SKU not found"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newAdapter(t, srv).GetOne(context.Background(), "NOPE")
	assert.True(t, apperrors.IsNotFound(err))
}
