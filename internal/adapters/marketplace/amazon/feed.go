package amazon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	feedsPath       = "/feeds/2021-06-30"
	feedType        = "JSON_LISTINGS_FEED"
	feedContentType = "application/json; charset=UTF-8"
)

type feedHeader struct {
	SellerID    string `json:"sellerId"`
	Version     string `json:"version"`
	IssueLocale string `json:"issueLocale"`
}

type patch struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

type feedMessage struct {
	MessageID     int                    `json:"messageId"`
	SKU           string                 `json:"sku"`
	OperationType string                 `json:"operationType"`
	ProductType   string                 `json:"productType,omitempty"`
	Patches       []patch                `json:"patches,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

type feedDocument struct {
	Header   feedHeader    `json:"header"`
	Messages []feedMessage `json:"messages"`
}

type createFeedRequest struct {
	FeedType            string   `json:"feedType"`
	MarketplaceIDs      []string `json:"marketplaceIds"`
	InputFeedDocumentID string   `json:"inputFeedDocumentId"`
}

type feedStatus struct {
	FeedID               string `json:"feedId"`
	ProcessingStatus     string `json:"processingStatus"`
	ResultFeedDocumentID string `json:"resultFeedDocumentId"`
}

type processingReport struct {
	Summary struct {
		MessagesProcessed int `json:"messagesProcessed"`
		MessagesAccepted  int `json:"messagesAccepted"`
		MessagesInvalid   int `json:"messagesInvalid"`
	} `json:"summary"`
	Issues []struct {
		MessageID int    `json:"messageId"`
		Code      string `json:"code"`
		Severity  string `json:"severity"`
		Message   string `json:"message"`
	} `json:"issues"`
}

func (a *Adapter) header() feedHeader {
	return feedHeader{SellerID: a.sellerID, Version: "2.0", IssueLocale: "en_US"}
}

func amount(d decimal.NullDecimal) float64 {
	f, _ := d.Decimal.Round(2).Float64()
	return f
}

// stockPricePatches патчи атрибутов остатка и цен для одного sku
func (a *Adapter) stockPricePatches(it models.StockPriceItem) []patch {
	var out []patch
	if it.Quantity != nil {
		out = append(out, patch{Op: "replace", Path: "/attributes/fulfillment_availability", Value: []map[string]interface{}{
			{"fulfillment_channel_code": "DEFAULT", "quantity": *it.Quantity},
		}})
	}
	if it.SalePrice.Valid {
		out = append(out, patch{Op: "replace", Path: "/attributes/purchasable_offer", Value: []map[string]interface{}{{
			"marketplace_id": a.marketplaceID,
			"currency":       models.DefaultCurrency(),
			"our_price":      []map[string]interface{}{{"schedule": []map[string]interface{}{{"value_with_tax": amount(it.SalePrice)}}}},
		}}})
	}
	if it.ListPrice.Valid {
		out = append(out, patch{Op: "replace", Path: "/attributes/list_price", Value: []map[string]interface{}{{
			"marketplace_id": a.marketplaceID,
			"currency":       models.DefaultCurrency(),
			"value_with_tax": amount(it.ListPrice),
		}}})
	}
	return out
}

// submitFeed загружает документ фида и создает фид. Ключи элементов задания
// номера сообщений, по ним разбирается отчет обработки.
func (a *Adapter) submitFeed(ctx context.Context, op string, kind models.IntentKind, messages []feedMessage) (*models.SubmitResult, error) {
	payload, err := json.Marshal(feedDocument{Header: a.header(), Messages: messages})
	if err != nil {
		return nil, apperrors.New(apperrors.KindMalformedRequest, string(tag), op, fmt.Errorf("marshal feed: %w", err))
	}

	var doc documentRef
	if err := a.client.DoJSON(ctx, op, http.MethodPost, feedsPath+"/documents", nil, map[string]string{"contentType": feedContentType}, &doc); err != nil {
		return nil, err
	}
	if _, err := a.docs.Do(ctx, transport.Request{Op: op, Method: http.MethodPut, Path: doc.URL, Body: payload, ContentType: feedContentType}); err != nil {
		return nil, err
	}

	var created feedStatus
	body := createFeedRequest{FeedType: feedType, MarketplaceIDs: []string{a.marketplaceID}, InputFeedDocumentID: doc.FeedDocumentID}
	if err := a.client.DoJSON(ctx, op, http.MethodPost, feedsPath+"/feeds", nil, body, &created); err != nil {
		return nil, err
	}
	if created.FeedID == "" {
		return nil, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), op, "response without feedId")
	}

	stockCodes := make([]string, len(messages))
	for i, m := range messages {
		stockCodes[i] = m.SKU
	}
	job := models.NewBatchJob(tag, created.FeedID, kind, stockCodes)
	for _, m := range messages {
		job.ItemKeys[strconv.Itoa(m.MessageID)] = m.SKU
	}
	return models.AsyncResult(job), nil
}

func (a *Adapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	messages := make([]feedMessage, 0, len(items))
	for i, it := range items {
		// seller-sku служит и stock code, и идентификатором листинга
		messages = append(messages, feedMessage{
			MessageID:     i + 1,
			SKU:           it.StockCode,
			OperationType: "PATCH",
			ProductType:   "PRODUCT",
			Patches:       a.stockPricePatches(it),
		})
	}
	return a.submitFeed(ctx, "update", models.IntentStockPrice, messages)
}

func (a *Adapter) SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	rec := draft.Record
	if draft.Category.ID == "" {
		return models.SyncResult(marketplace.FailedItem(rec.StockCode,
			apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "create", "product type is required"))), nil
	}
	locale := map[string]interface{}{"marketplace_id": a.marketplaceID, "language_tag": "tr_TR"}
	text := func(v string) []map[string]interface{} {
		m := map[string]interface{}{"value": v}
		for k, lv := range locale {
			m[k] = lv
		}
		return []map[string]interface{}{m}
	}

	attrs := map[string]interface{}{
		"item_name":           text(rec.Title),
		"product_description": text(rec.Description),
		"condition_type":      []map[string]interface{}{{"value": "new_new", "marketplace_id": a.marketplaceID}},
	}
	q := rec.Quantity
	for _, p := range a.stockPricePatches(models.StockPriceItem{Quantity: &q, SalePrice: rec.SalePrice, ListPrice: rec.ListPrice}) {
		attrs[strings.TrimPrefix(p.Path, "/attributes/")] = p.Value
	}
	if rec.Barcode != "" {
		attrs["externally_assigned_product_identifier"] = []map[string]interface{}{{
			"type": "ean", "value": rec.Barcode, "marketplace_id": a.marketplaceID,
		}}
	}
	for i, u := range rec.Images {
		key := "main_product_image_locator"
		if i > 0 {
			key = fmt.Sprintf("other_product_image_locator_%d", i)
		}
		attrs[key] = []map[string]interface{}{{"media_location": u, "marketplace_id": a.marketplaceID}}
	}
	for k, v := range draft.Category.Attributes {
		attrs[k] = text(v)
	}

	return a.submitFeed(ctx, "create", models.IntentCreate, []feedMessage{{
		MessageID:     1,
		SKU:           rec.StockCode,
		OperationType: "UPDATE",
		ProductType:   draft.Category.ID,
		Attributes:    attrs,
	}})
}

func (a *Adapter) Delete(ctx context.Context, stockCodes []string) (*models.SubmitResult, error) {
	messages := make([]feedMessage, len(stockCodes))
	for i, sc := range stockCodes {
		messages[i] = feedMessage{MessageID: i + 1, SKU: sc, OperationType: "DELETE"}
	}
	return a.submitFeed(ctx, "delete", models.IntentDelete, messages)
}

// PollJob проверяет фид и после завершения разбирает отчет обработки:
// сообщение с ошибкой уровня ERROR отклонено, остальные приняты
func (a *Adapter) PollJob(ctx context.Context, job models.BatchJob) (models.BatchJob, error) {
	var st feedStatus
	if err := a.client.DoJSON(ctx, "poll", http.MethodGet, feedsPath+"/feeds/"+job.ExternalID, nil, nil, &st); err != nil {
		return job, err
	}
	switch st.ProcessingStatus {
	case statusCancelled, statusFatal:
		job.Status = models.JobFailed
		job.Reason = "feed " + strings.ToLower(st.ProcessingStatus)
		return job, nil
	case statusDone:
	default:
		job.Status = models.JobInProgress
		return job, nil
	}

	var doc documentRef
	if err := a.client.DoJSON(ctx, "poll", http.MethodGet, feedsPath+"/documents/"+st.ResultFeedDocumentID, nil, nil, &doc); err != nil {
		return job, err
	}
	data, err := a.download(ctx, "poll", doc)
	if err != nil {
		return job, err
	}
	var report processingReport
	if err := json.Unmarshal(data, &report); err != nil {
		return job, apperrors.New(apperrors.KindMalformedRequest, string(tag), "poll", fmt.Errorf("decode processing report: %w", err))
	}

	reasons := make(map[string][]string)
	for _, is := range report.Issues {
		if !strings.EqualFold(is.Severity, "ERROR") {
			continue
		}
		sc := job.StockCodeFor(strconv.Itoa(is.MessageID))
		reasons[sc] = append(reasons[sc], is.Code+": "+is.Message)
	}

	job.Items = job.Items[:0]
	for _, sc := range job.StockCodes {
		if r, failed := reasons[sc]; failed {
			job.Items = append(job.Items, marketplace.RejectedItem(sc, strings.Join(r, "; ")))
			continue
		}
		job.Items = append(job.Items, models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
	}
	job.Status = models.JobSucceeded
	return job, nil
}
