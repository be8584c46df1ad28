package n11

import (
	"context"
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
)

func envelope(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"><SOAP-ENV:Body>` +
		body + `</SOAP-ENV:Body></SOAP-ENV:Envelope>`
}

const okResult = `<result><status>success</status></result>`

func newAdapter(t *testing.T, srv *httptest.Server) marketplace.Adapter {
	t.Helper()
	a, err := New(context.Background(), marketplace.Deps{
		Config:      config.MarketplaceConfig{BaseURL: srv.URL, PageSize: 2, BulkSize: 100, MaxAttempts: 3, BackoffBase: time.Millisecond},
		Credentials: config.Credentials{N11: config.SOAPCredentials{Username: "key", Password: "secret"}},
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	return a
}

func TestListCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ProductService", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<wsse:Username>key</wsse:Username>")
		switch {
		case strings.Contains(string(body), "<currentPage>0</currentPage>"):
			_, _ = io.WriteString(w, envelope(`<ns3:GetProductListResponse xmlns:ns3="http://www.n11.com/ws/schemas">`+okResult+`
				<products>
					<product><id>101</id><productSellerCode>RUG</productSellerCode><title>Rug</title><price>150.00</price><displayPrice>129.00</displayPrice>
						<stockItems><stockItem><sellerStockCode>RUG-42</sellerStockCode><quantity>3</quantity></stockItem><stockItem><sellerStockCode>RUG-43</sellerStockCode><quantity>2</quantity></stockItem></stockItems>
					</product>
					<product><id>102</id><productSellerCode>MAT-01</productSellerCode><title>Mat</title><price>10</price><displayPrice>10</displayPrice></product>
				</products>
				<pagingData><currentPage>0</currentPage><pageSize>2</pageSize><totalCount>3</totalCount><pageCount>2</pageCount></pagingData>
			</ns3:GetProductListResponse>`))
		default:
			_, _ = io.WriteString(w, envelope(`<ns3:GetProductListResponse xmlns:ns3="http://www.n11.com/ws/schemas">`+okResult+`
				<products><product><id>103</id><title>No code</title></product></products>
				<pagingData><currentPage>1</currentPage><pageSize>2</pageSize><totalCount>3</totalCount><pageCount>2</pageCount></pagingData>
			</ns3:GetProductListResponse>`))
		}
	}))
	defer srv.Close()

	var got []models.CatalogRecord
	dropped := 0
	for rec, err := range newAdapter(t, srv).ListCatalog(context.Background(), false) {
		if models.IsDropped(err) {
			dropped++
			continue
		}
		require.NoError(t, err)
		got = append(got, rec)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "RUG-42", got[0].StockCode)
	assert.Equal(t, "101", got[0].ItemID)
	assert.Equal(t, 5, got[0].Quantity, "quantity sums stock items")
	assert.Equal(t, "129.00", models.FormatPrice(got[0].SalePrice))
	assert.Equal(t, "150.00", models.FormatPrice(got[0].ListPrice))
	assert.Equal(t, "MAT-01", got[1].StockCode, "product seller code is the fallback")
	assert.Equal(t, 1, dropped)
}

func TestSubmitStockPrice_ThrottledThenApplied(t *testing.T) {
	var stockCalls, priceCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.Header.Get("SOAPAction") {
		case "UpdateStockByStockSellerCode":
			assert.Equal(t, "/ProductStockService", r.URL.Path)
			if stockCalls.Add(1) == 1 {
				_, _ = io.WriteString(w, envelope(`<ns3:UpdateStockByStockSellerCodeResponse><result><status>failure</status><errorCode>THROTTLED</errorCode><errorMessage>slow down</errorMessage></result></ns3:UpdateStockByStockSellerCodeResponse>`))
				return
			}
			assert.Contains(t, string(body), "<sellerStockCode>RUG-42</sellerStockCode><quantity>7</quantity>")
			_, _ = io.WriteString(w, envelope(`<ns3:UpdateStockByStockSellerCodeResponse>`+okResult+`</ns3:UpdateStockByStockSellerCodeResponse>`))
		case "UpdateProductPriceById":
			priceCalls.Add(1)
			assert.Contains(t, string(body), "<productId>101</productId>")
			assert.Contains(t, string(body), "<discountValue>99.90</discountValue>")
			_, _ = io.WriteString(w, envelope(`<ns3:UpdateProductPriceByIdResponse><result><status>failure</status><errorCode>SELLER_API.invalidProductPrice</errorCode><errorMessage>bad price</errorMessage></result></ns3:UpdateProductPriceByIdResponse>`))
		default:
			t.Errorf("unexpected action %q", r.Header.Get("SOAPAction"))
		}
	}))
	defer srv.Close()

	q := 7
	res, err := newAdapter(t, srv).SubmitStockPrice(context.Background(), []models.StockPriceItem{
		{StockCode: "RUG-42", ItemID: "101", Quantity: &q, SalePrice: models.Price(decimal.RequireFromString("99.90")), ListPrice: models.Price(decimal.NewFromInt(120))},
		{StockCode: "MAT-01", ItemID: "102", Quantity: &q},
	})
	require.NoError(t, err)
	assert.False(t, res.Async())
	assert.EqualValues(t, 2, stockCalls.Load(), "throttled result is retried")
	assert.EqualValues(t, 1, priceCalls.Load())

	require.Len(t, res.Items, 2)
	assert.Equal(t, models.ItemFailed, res.Items[0].Status)
	assert.Equal(t, apperrors.KindItemRejected, res.Items[0].Kind)
	assert.Equal(t, models.ItemSucceeded, res.Items[1].Status)
}

func TestGetOne_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, envelope(`<ns3:GetProductBySellerCodeResponse><result><status>failure</status><errorCode>SELLER_API.productNotFound</errorCode><errorMessage>yok</errorMessage></result></ns3:GetProductBySellerCodeResponse>`))
	}))
	defer srv.Close()

	_, err := newAdapter(t, srv).GetOne(context.Background(), "NOPE")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "<productSellerCode>GONE</productSellerCode>") {
			_, _ = io.WriteString(w, envelope(`<ns3:DeleteProductBySellerCodeResponse><result><status>failure</status><errorCode>SELLER_API.productNotFound</errorCode><errorMessage>yok</errorMessage></result></ns3:DeleteProductBySellerCodeResponse>`))
			return
		}
		_, _ = io.WriteString(w, envelope(`<ns3:DeleteProductBySellerCodeResponse>`+okResult+`</ns3:DeleteProductBySellerCodeResponse>`))
	}))
	defer srv.Close()

	res, err := newAdapter(t, srv).Delete(context.Background(), []string{"RUG-42", "GONE"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, models.ItemSucceeded, res.Items[0].Status)
	assert.Equal(t, apperrors.KindNotFound, res.Items[1].Kind)
}
