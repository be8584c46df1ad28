// Package trendyol адаптер Trendyol: REST JSON, basic auth поставщика,
// постраничный список с нулевой первой страницей и асинхронные batch запросы.
package trendyol

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/utils"
)

const tag = models.Trendyol

// errorCodes коды ошибок из тела ответа Trendyol
var errorCodes = transport.CodeTable{
	"ClientApiBatchRequestLimitExceededException": apperrors.KindTransient,
	"TooManyRequestException":                     apperrors.KindTransient,
	"ProductNotFoundException":                    apperrors.KindNotFound,
	"BatchRequestNotFoundException":               apperrors.KindNotFound,
	"ClientApiAuthenticationException":            apperrors.KindAuth,
}

// Adapter адаптер Trendyol
type Adapter struct {
	client     *transport.Client
	supplierID string
	pageSize   int
	limits     marketplace.Limits
	logger     interfaces.LoggerPort
}

// New создает адаптер по конфигурации и учетным данным
func New(_ context.Context, deps marketplace.Deps) (marketplace.Adapter, error) {
	creds := deps.Credentials.Trendyol
	cfg := marketplace.TransportConfig(tag, deps)
	cfg.Auth = transport.BasicAuth{Username: creds.APIKey, Password: creds.APISecret}
	// Trendyol требует в User-Agent идентификатор поставщика
	cfg.UserAgent = creds.SupplierID + " - SelfIntegration"
	cfg.Classifier = classify

	pageSize := deps.Config.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Adapter{
		client:     transport.NewClient(cfg),
		supplierID: creds.SupplierID,
		pageSize:   pageSize,
		limits:     marketplace.LimitsFrom(deps),
		logger:     deps.Logger,
	}, nil
}

type errorBody struct {
	Errors []struct {
		Key     string `json:"key"`
		Message string `json:"message"`
	} `json:"errors"`
	Exception string `json:"exception"`
}

func classify(resp *transport.Response) *apperrors.Error {
	if resp.StatusCode < 400 {
		return nil
	}
	var body errorBody
	if json.Unmarshal(resp.Body, &body) != nil {
		return nil
	}
	codes := []string{body.Exception}
	for _, e := range body.Errors {
		codes = append(codes, e.Key)
	}
	for _, code := range codes {
		if kind, ok := errorCodes.Lookup(code); ok {
			e := apperrors.Newf(kind, "", "", "%s", strings.TrimSpace(string(resp.Body)))
			e.Code = code
			return e
		}
	}
	return nil
}

func (a *Adapter) Marketplace() models.Marketplace { return tag }

func (a *Adapter) Limits() marketplace.Limits { return a.limits }

// path собирает путь вида /{service}/sellers/{supplierId}{suffix}
func (a *Adapter) path(service, format string, args ...interface{}) string {
	return fmt.Sprintf("/%s/sellers/%s", service, a.supplierID) + fmt.Sprintf(format, args...)
}

type productPage struct {
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	Content       []product `json:"content"`
}

type product struct {
	ID            string      `json:"id"`
	Barcode       string      `json:"barcode"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	ProductMainID string      `json:"productMainId"`
	StockCode     string      `json:"stockCode"`
	Quantity      float64     `json:"quantity"`
	SalePrice     json.Number `json:"salePrice"`
	ListPrice     json.Number `json:"listPrice"`
	CurrencyType  string      `json:"currencyType"`
	CategoryName  string      `json:"categoryName"`
	PimCategoryID int64       `json:"pimCategoryId"`
	BrandID       int64       `json:"brandId"`
	VatRate       json.Number `json:"vatRate"`
	Images        []struct {
		URL string `json:"url"`
	} `json:"images"`
	Attributes []struct {
		AttributeID    int64  `json:"attributeId"`
		AttributeName  string `json:"attributeName"`
		AttributeValue string `json:"attributeValue"`
	} `json:"attributes"`
}

func (p product) raw() models.RawListing {
	raw := models.RawListing{
		StockCode:    p.StockCode,
		MainID:       p.ProductMainID,
		ItemID:       p.Barcode,
		Barcode:      p.Barcode,
		Title:        p.Title,
		Description:  p.Description,
		Quantity:     p.Quantity,
		SalePrice:    p.SalePrice.String(),
		ListPrice:    p.ListPrice.String(),
		Currency:     p.CurrencyType,
		CategoryPath: p.CategoryName,
	}
	if p.PimCategoryID != 0 {
		raw.CategoryID = strconv.FormatInt(p.PimCategoryID, 10)
	}
	for _, img := range p.Images {
		raw.Images = append(raw.Images, img.URL)
	}
	if len(p.Attributes) > 0 || p.BrandID != 0 {
		raw.Attributes = make(map[string]string, len(p.Attributes)+1)
		for _, at := range p.Attributes {
			raw.Attributes[at.AttributeName] = at.AttributeValue
		}
		if p.BrandID != 0 {
			raw.Attributes["brandId"] = strconv.FormatInt(p.BrandID, 10)
		}
	}
	return raw
}

func (a *Adapter) fetchPage(ctx context.Context, query url.Values) (productPage, error) {
	var page productPage
	err := a.client.DoJSON(ctx, "list", http.MethodGet, a.path("product", "/products"), query, nil, &page)
	return page, err
}

func (a *Adapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	p := utils.NewPagination(0, a.pageSize)
	raws := func(yield func(models.RawListing, error) bool) {
		pages := utils.Paginate(ctx, p, func(ctx context.Context, p *utils.Pagination) (utils.Page[product], error) {
			q := url.Values{}
			q.Set("page", strconv.Itoa(p.Page))
			q.Set("size", strconv.Itoa(p.PageSize))
			q.Set("approved", "true")
			page, err := a.fetchPage(ctx, q)
			if err != nil {
				return utils.Page[product]{}, err
			}
			return utils.Page[product]{Items: page.Content, TotalItems: page.TotalElements}, nil
		})
		for prod, err := range pages {
			if !yield(prod.raw(), err) {
				return
			}
		}
	}
	return marketplace.Normalized(tag, includeFull, raws)
}

func (a *Adapter) GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error) {
	q := url.Values{}
	q.Set("stockCode", stockCode)
	q.Set("page", "0")
	q.Set("size", "1")
	page, err := a.fetchPage(ctx, q)
	if err != nil {
		return models.CatalogRecord{}, err
	}
	for _, p := range page.Content {
		if p.StockCode == stockCode || (p.StockCode == "" && p.ProductMainID == stockCode) {
			return models.Normalize(tag, p.raw(), true)
		}
	}
	return models.CatalogRecord{}, apperrors.Newf(apperrors.KindNotFound, string(tag), "get", "stock code %s", stockCode)
}

type batchResponse struct {
	BatchRequestID string `json:"batchRequestId"`
}

type priceInventoryItem struct {
	Barcode   string   `json:"barcode"`
	Quantity  *int     `json:"quantity,omitempty"`
	SalePrice *float64 `json:"salePrice,omitempty"`
	ListPrice *float64 `json:"listPrice,omitempty"`
}

func priceValue(p models.StockPriceItem, sale bool) *float64 {
	d := p.ListPrice
	if sale {
		d = p.SalePrice
	}
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Round(2).Float64()
	return &f
}

func (a *Adapter) submit(ctx context.Context, op, method, path string, kind models.IntentKind, body interface{}, keys map[string]string, stockCodes []string) (*models.SubmitResult, error) {
	var resp batchResponse
	if err := a.client.DoJSON(ctx, op, method, path, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.BatchRequestID == "" {
		return nil, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), op, "response without batchRequestId")
	}
	job := models.NewBatchJob(tag, resp.BatchRequestID, kind, stockCodes)
	for k, v := range keys {
		job.ItemKeys[k] = v
	}
	return models.AsyncResult(job), nil
}

func (a *Adapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	payload := struct {
		Items []priceInventoryItem `json:"items"`
	}{}
	keys := make(map[string]string, len(items))
	for _, it := range items {
		barcode := it.ItemID
		if barcode == "" {
			barcode = it.StockCode
		}
		keys[barcode] = it.StockCode
		payload.Items = append(payload.Items, priceInventoryItem{
			Barcode:   barcode,
			Quantity:  it.Quantity,
			SalePrice: priceValue(it, true),
			ListPrice: priceValue(it, false),
		})
	}
	return a.submit(ctx, "update", http.MethodPost, a.path("inventory", "/products/price-and-inventory"),
		models.IntentStockPrice, payload, keys, marketplace.StockCodes(items))
}

type batchStatus struct {
	BatchRequestID string `json:"batchRequestId"`
	Status         string `json:"status"`
	ItemCount      int    `json:"itemCount"`
	FailedCount    int    `json:"failedItemCount"`
	Items          []struct {
		RequestItem struct {
			Barcode string `json:"barcode"`
		} `json:"requestItem"`
		Status         string   `json:"status"`
		FailureReasons []string `json:"failureReasons"`
	} `json:"items"`
}

func (a *Adapter) PollJob(ctx context.Context, job models.BatchJob) (models.BatchJob, error) {
	var st batchStatus
	if err := a.client.DoJSON(ctx, "poll", http.MethodGet, a.path("product", "/products/batch-requests/%s", job.ExternalID), nil, nil, &st); err != nil {
		return job, err
	}

	switch strings.ToUpper(st.Status) {
	case "COMPLETED":
		job.Status = models.JobSucceeded
	case "FAILED":
		job.Status = models.JobFailed
		job.Reason = "batch request failed"
	default:
		job.Status = models.JobInProgress
		return job, nil
	}

	job.Items = job.Items[:0]
	for _, it := range st.Items {
		sc := job.StockCodeFor(it.RequestItem.Barcode)
		if strings.EqualFold(it.Status, "SUCCESS") {
			job.Items = append(job.Items, models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
			continue
		}
		job.Items = append(job.Items, marketplace.RejectedItem(sc, strings.Join(it.FailureReasons, "; ")))
	}
	return job, nil
}

type createItem struct {
	Barcode       string            `json:"barcode"`
	Title         string            `json:"title"`
	ProductMainID string            `json:"productMainId"`
	BrandID       int64             `json:"brandId,omitempty"`
	CategoryID    int64             `json:"categoryId"`
	Quantity      int               `json:"quantity"`
	StockCode     string            `json:"stockCode"`
	Description   string            `json:"description"`
	CurrencyType  string            `json:"currencyType"`
	ListPrice     *float64          `json:"listPrice,omitempty"`
	SalePrice     *float64          `json:"salePrice,omitempty"`
	VatRate       int               `json:"vatRate"`
	Images        []createImage     `json:"images"`
	Attributes    []createAttribute `json:"attributes"`
}

type createImage struct {
	URL string `json:"url"`
}

type createAttribute struct {
	AttributeID          int64  `json:"attributeId"`
	CustomAttributeValue string `json:"customAttributeValue"`
}

func (a *Adapter) SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	rec := draft.Record
	categoryID, err := strconv.ParseInt(draft.Category.ID, 10, 64)
	if err != nil {
		return nil, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "create", "category id %q: %v", draft.Category.ID, err)
	}

	barcode := rec.Barcode
	if barcode == "" {
		barcode = rec.StockCode
	}
	item := createItem{
		Barcode:       barcode,
		Title:         rec.Title,
		ProductMainID: rec.StockCode,
		CategoryID:    categoryID,
		Quantity:      rec.Quantity,
		StockCode:     rec.StockCode,
		Description:   rec.Description,
		CurrencyType:  rec.Currency,
		VatRate:       20,
	}
	if item.CurrencyType == "" {
		item.CurrencyType = models.DefaultCurrency()
	}
	sp := models.StockPriceItem{SalePrice: rec.SalePrice, ListPrice: rec.ListPrice}
	item.SalePrice, item.ListPrice = priceValue(sp, true), priceValue(sp, false)
	if item.ListPrice == nil {
		item.ListPrice = item.SalePrice
	}
	for _, u := range rec.Images {
		item.Images = append(item.Images, createImage{URL: u})
	}
	for k, v := range draft.Category.Attributes {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			if k == "brandId" {
				item.BrandID, _ = strconv.ParseInt(v, 10, 64)
			}
			continue
		}
		item.Attributes = append(item.Attributes, createAttribute{AttributeID: id, CustomAttributeValue: v})
	}

	payload := struct {
		Items []createItem `json:"items"`
	}{Items: []createItem{item}}
	return a.submit(ctx, "create", http.MethodPost, a.path("product", "/products"), models.IntentCreate, payload,
		map[string]string{barcode: rec.StockCode}, []string{rec.StockCode})
}

func (a *Adapter) Delete(ctx context.Context, stockCodes []string) (*models.SubmitResult, error) {
	type deleteItem struct {
		Barcode string `json:"barcode"`
	}
	payload := struct {
		Items []deleteItem `json:"items"`
	}{}
	keys := make(map[string]string, len(stockCodes))
	var found []string
	var missing []models.ItemResult
	for _, sc := range stockCodes {
		rec, err := a.GetOne(ctx, sc)
		if err != nil {
			if apperrors.IsNotFound(err) {
				missing = append(missing, marketplace.FailedItem(sc, err))
				continue
			}
			return nil, err
		}
		keys[rec.ItemID] = sc
		found = append(found, sc)
		payload.Items = append(payload.Items, deleteItem{Barcode: rec.ItemID})
	}
	if len(found) == 0 {
		return models.SyncResult(missing...), nil
	}
	res, err := a.submit(ctx, "delete", http.MethodDelete, a.path("product", "/products"), models.IntentDelete, payload, keys, found)
	if err != nil {
		return nil, err
	}
	res.Items = missing
	return res, nil
}
