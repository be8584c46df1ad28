package pttavm

import (
	"context"
	"errors"
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
	return `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` + body + `</s:Body></s:Envelope>`
}

func newAdapter(t *testing.T, srv *httptest.Server) marketplace.Adapter {
	t.Helper()
	a, err := New(context.Background(), marketplace.Deps{
		Config:      config.MarketplaceConfig{BaseURL: srv.URL, BulkSize: 100, MaxAttempts: 3, BackoffBase: time.Millisecond},
		Credentials: config.Credentials{PttAVM: config.SOAPCredentials{Username: "ptt", Password: "pw"}},
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, err)
	return a
}

func TestListCatalog_SingleResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "http://tempuri.org/IService/StokKontrolListesi", r.Header.Get("SOAPAction"))
		_, _ = io.WriteString(w, envelope(`<StokKontrolListesiResponse xmlns="http://tempuri.org/"><StokKontrolListesiResult>
			<Basarili>true</Basarili>
			<Urunler>
				<StokKontrolDetay><UrunKodu>RUG-42</UrunKodu><Barkod>869000000001</Barkod><UrunAdi>Rug</UrunAdi><Miktar>4</Miktar><KDVli>129.90</KDVli><PiyasaFiyati>150</PiyasaFiyati></StokKontrolDetay>
				<StokKontrolDetay><Barkod>869000000002</Barkod><UrunAdi>Mat</UrunAdi><Miktar>-3</Miktar></StokKontrolDetay>
				<StokKontrolDetay><UrunKodu>BAD</UrunKodu><Miktar>many</Miktar></StokKontrolDetay>
			</Urunler>
		</StokKontrolListesiResult></StokKontrolListesiResponse>`))
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

	assert.EqualValues(t, 1, calls.Load())
	require.Len(t, got, 2)
	assert.Equal(t, "RUG-42", got[0].StockCode)
	assert.Equal(t, "869000000001", got[0].ItemID)
	assert.Equal(t, "869000000002", got[1].StockCode, "barcode is the fallback stock code")
	assert.Equal(t, 0, got[1].Quantity, "negative quantity is clamped")
	assert.Equal(t, 1, dropped)
}

func TestSubmitStockPrice_RateLimitCodeRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, envelope(`<StokFiyatGuncelle3Response><StokFiyatGuncelle3Result><Basarili>false</Basarili><HataKodu>LIMIT_ASIMI</HataKodu><Mesaj>1 dakika içinde en fazla 60 istek</Mesaj></StokFiyatGuncelle3Result></StokFiyatGuncelle3Response>`))
			return
		}
		if strings.Contains(string(body), "<sch:barkod>X</sch:barkod>") {
			_, _ = io.WriteString(w, envelope(`<StokFiyatGuncelle3Response><StokFiyatGuncelle3Result><Basarili>false</Basarili><HataKodu>URUN_BULUNAMADI</HataKodu><Mesaj>yok</Mesaj></StokFiyatGuncelle3Result></StokFiyatGuncelle3Response>`))
			return
		}
		assert.Contains(t, string(body), "<sch:miktar>3</sch:miktar>")
		assert.Contains(t, string(body), "<sch:kdvli>99.00</sch:kdvli>")
		_, _ = io.WriteString(w, envelope(`<StokFiyatGuncelle3Response><StokFiyatGuncelle3Result><Basarili>true</Basarili></StokFiyatGuncelle3Result></StokFiyatGuncelle3Response>`))
	}))
	defer srv.Close()

	q := 3
	res, err := newAdapter(t, srv).SubmitStockPrice(context.Background(), []models.StockPriceItem{
		{StockCode: "RUG-42", ItemID: "869000000001", Quantity: &q, SalePrice: models.Price(decimal.NewFromInt(99))},
		{StockCode: "X", Quantity: &q},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	require.Len(t, res.Items, 2)
	assert.Equal(t, models.ItemSucceeded, res.Items[0].Status)
	assert.Equal(t, apperrors.KindNotFound, res.Items[1].Kind)
}

func TestDeleteUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newAdapter(t, srv).Delete(context.Background(), []string{"A"})
	assert.True(t, errors.Is(err, apperrors.ErrUnsupported))
}
