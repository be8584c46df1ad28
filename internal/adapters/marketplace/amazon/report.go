package amazon

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"golang.org/x/text/encoding/charmap"
)

const (
	reportsPath = "/reports/2021-06-30"
	reportType  = "GET_MERCHANT_LISTINGS_ALL_DATA"
)

var nanQuantity = math.NaN()

type createReportRequest struct {
	ReportType     string   `json:"reportType"`
	MarketplaceIDs []string `json:"marketplaceIds"`
}

type reportStatus struct {
	ReportID         string `json:"reportId"`
	ProcessingStatus string `json:"processingStatus"`
	ReportDocumentID string `json:"reportDocumentId"`
}

// requestReport создает отчет и ждет его готовности. Возвращает ссылку на документ.
func (a *Adapter) requestReport(ctx context.Context) (documentRef, error) {
	var created reportStatus
	body := createReportRequest{ReportType: reportType, MarketplaceIDs: []string{a.marketplaceID}}
	if err := a.client.DoJSON(ctx, "list", http.MethodPost, reportsPath+"/reports", nil, body, &created); err != nil {
		return documentRef{}, err
	}

	deadline := time.Now().Add(a.reportBudget)
	delay := a.reportInterval
	for {
		var st reportStatus
		if err := a.client.DoJSON(ctx, "list", http.MethodGet, reportsPath+"/reports/"+created.ReportID, nil, nil, &st); err != nil {
			return documentRef{}, err
		}
		switch st.ProcessingStatus {
		case statusDone:
			var doc documentRef
			err := a.client.DoJSON(ctx, "list", http.MethodGet, reportsPath+"/documents/"+st.ReportDocumentID, nil, nil, &doc)
			return doc, err
		case statusCancelled, statusFatal:
			return documentRef{}, apperrors.Newf(apperrors.KindUnavailable, string(tag), "list",
				"report %s finished with %s", created.ReportID, st.ProcessingStatus)
		}

		if time.Now().After(deadline) {
			return documentRef{}, apperrors.Newf(apperrors.KindTimeout, string(tag), "list",
				"report %s not ready after %s", created.ReportID, a.reportBudget)
		}
		if a.logger != nil {
			a.logger.Debug("Отчет Amazon еще не готов",
				interfaces.LogField{Key: "report_id", Value: created.ReportID},
				interfaces.LogField{Key: "status", Value: st.ProcessingStatus},
			)
		}
		if err := a.sleep(ctx, delay); err != nil {
			return documentRef{}, apperrors.New(apperrors.KindCancelled, string(tag), "list", err)
		}
		delay = min(delay*2, 30*time.Second)
	}
}

// download скачивает документ по подписанному адресу и распаковывает его
func (a *Adapter) download(ctx context.Context, op string, doc documentRef) ([]byte, error) {
	resp, err := a.docs.Do(ctx, transport.Request{Op: op, Method: http.MethodGet, Path: doc.URL})
	if err != nil {
		return nil, err
	}
	if !doc.gzipped() {
		return resp.Body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, apperrors.New(apperrors.KindMalformedRequest, string(tag), op, fmt.Errorf("gzip: %w", err))
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, apperrors.New(apperrors.KindMalformedRequest, string(tag), op, fmt.Errorf("gzip: %w", err))
	}
	return data, nil
}

// ListCatalog запрашивает отчет по листингам при первом обращении к перечислению и разбирает его целиком
func (a *Adapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	return func(yield func(models.CatalogRecord, error) bool) {
		doc, err := a.requestReport(ctx)
		if err != nil {
			yield(models.CatalogRecord{}, err)
			return
		}
		data, err := a.download(ctx, "list", doc)
		if err != nil {
			yield(models.CatalogRecord{}, err)
			return
		}
		for rec, err := range marketplace.Normalized(tag, includeFull, parseListingsReport(bytes.NewReader(data), a.marketplaceCurrency())) {
			if !yield(rec, err) {
				return
			}
		}
	}
}

func (a *Adapter) marketplaceCurrency() string {
	// Отчет не содержит валюту; турецкая площадка торгует в лирах
	return models.DefaultCurrency()
}

// parseListingsReport разбирает TSV отчет в кодировке Windows-1252.
// Колонки ищутся по заголовку, порядок в разных площадках отличается.
func parseListingsReport(r io.Reader, currency string) iter.Seq2[models.RawListing, error] {
	return func(yield func(models.RawListing, error) bool) {
		cr := csv.NewReader(charmap.Windows1252.NewDecoder().Reader(r))
		cr.Comma = '\t'
		cr.LazyQuotes = true
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = true

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(models.RawListing{}, apperrors.New(apperrors.KindMalformedRequest, string(tag), "list", fmt.Errorf("report header: %w", err)))
			return
		}
		col := make(map[string]int, len(header))
		for i, name := range header {
			col[strings.ToLower(strings.TrimSpace(name))] = i
		}
		if _, ok := col["seller-sku"]; !ok {
			yield(models.RawListing{}, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "list", "report without seller-sku column"))
			return
		}

		for {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(models.RawListing{}, apperrors.New(apperrors.KindMalformedRequest, string(tag), "list", err))
				return
			}
			get := func(name string) string {
				if i, ok := col[name]; ok && i < len(row) {
					return strings.TrimSpace(row[i])
				}
				return ""
			}
			raw := models.RawListing{
				StockCode:   get("seller-sku"),
				ItemID:      get("seller-sku"),
				Barcode:     get("product-id"),
				Title:       get("item-name"),
				Description: get("item-description"),
				SalePrice:   get("price"),
				Currency:    currency,
			}
			if img := get("image-url"); img != "" {
				raw.Images = []string{img}
			}
			q, err := models.ParseQuantity(get("quantity"))
			if err != nil {
				raw.Quantity = nanQuantity
			} else {
				raw.Quantity = q
			}
			raw.Attributes = map[string]string{}
			for _, name := range []string{"asin1", "status", "fulfillment-channel"} {
				if v := get(name); v != "" {
					raw.Attributes[name] = v
				}
			}
			if !yield(raw, nil) {
				return
			}
		}
	}
}
