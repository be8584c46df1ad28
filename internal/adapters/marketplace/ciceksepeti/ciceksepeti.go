// Package ciceksepeti адаптер Çiçeksepeti: ключ API в заголовке, постраничный
// список с первой страницей 1 и асинхронные пакеты с batchId.
package ciceksepeti

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/utils"
)

const tag = models.Ciceksepeti

// Adapter адаптер Çiçeksepeti
type Adapter struct {
	client   *transport.Client
	pageSize int
	limits   marketplace.Limits
}

// New создает адаптер
func New(_ context.Context, deps marketplace.Deps) (marketplace.Adapter, error) {
	cfg := marketplace.TransportConfig(tag, deps)
	cfg.Auth = transport.APIKey("x-api-key", deps.Credentials.Ciceksepeti.APIKey)

	pageSize := deps.Config.PageSize
	if pageSize <= 0 {
		pageSize = 60
	}
	return &Adapter{client: transport.NewClient(cfg), pageSize: pageSize, limits: marketplace.LimitsFrom(deps)}, nil
}

func (a *Adapter) Marketplace() models.Marketplace { return tag }

func (a *Adapter) Limits() marketplace.Limits { return a.limits }

type productsResponse struct {
	TotalCount int64     `json:"totalCount"`
	Products   []product `json:"products"`
}

type product struct {
	ProductName     string      `json:"productName"`
	ProductCode     string      `json:"productCode"`
	StockCode       string      `json:"stockCode"`
	MainProductCode string      `json:"mainProductCode"`
	Barcode         string      `json:"barcode"`
	Description     string      `json:"description"`
	StockQuantity   float64     `json:"stockQuantity"`
	SalesPrice      json.Number `json:"salesPrice"`
	ListPrice       json.Number `json:"listPrice"`
	CategoryID      int64       `json:"categoryId"`
	CategoryName    string      `json:"categoryName"`
	Images          []string    `json:"images"`
	Attributes      []struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"attributes"`
}

func (p product) raw() models.RawListing {
	raw := models.RawListing{
		StockCode:    p.StockCode,
		MainID:       p.ProductCode,
		ItemID:       p.StockCode,
		Barcode:      p.Barcode,
		Title:        p.ProductName,
		Description:  p.Description,
		Quantity:     p.StockQuantity,
		SalePrice:    p.SalesPrice.String(),
		ListPrice:    p.ListPrice.String(),
		Images:       p.Images,
		CategoryPath: p.CategoryName,
	}
	if raw.ItemID == "" {
		raw.ItemID = p.ProductCode
	}
	if p.CategoryID != 0 {
		raw.CategoryID = strconv.FormatInt(p.CategoryID, 10)
	}
	if len(p.Attributes) > 0 {
		raw.Attributes = make(map[string]string, len(p.Attributes))
		for _, at := range p.Attributes {
			raw.Attributes[at.Name] = at.Value
		}
	}
	return raw
}

func (a *Adapter) fetch(ctx context.Context, q url.Values) (productsResponse, error) {
	var resp productsResponse
	err := a.client.DoJSON(ctx, "list", http.MethodGet, "/Products", q, nil, &resp)
	return resp, err
}

func (a *Adapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	p := utils.NewPagination(1, a.pageSize)
	raws := func(yield func(models.RawListing, error) bool) {
		for prod, err := range utils.Paginate(ctx, p, func(ctx context.Context, p *utils.Pagination) (utils.Page[product], error) {
			q := url.Values{}
			q.Set("Page", strconv.Itoa(p.Page))
			q.Set("PageSize", strconv.Itoa(p.PageSize))
			resp, err := a.fetch(ctx, q)
			if err != nil {
				return utils.Page[product]{}, err
			}
			return utils.Page[product]{Items: resp.Products, TotalItems: resp.TotalCount}, nil
		}) {
			if !yield(prod.raw(), err) {
				return
			}
		}
	}
	return marketplace.Normalized(tag, includeFull, raws)
}

func (a *Adapter) GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error) {
	q := url.Values{}
	q.Set("StockCode", stockCode)
	resp, err := a.fetch(ctx, q)
	if err != nil {
		return models.CatalogRecord{}, err
	}
	for _, p := range resp.Products {
		if p.StockCode == stockCode || (p.StockCode == "" && p.ProductCode == stockCode) {
			return models.Normalize(tag, p.raw(), true)
		}
	}
	return models.CatalogRecord{}, apperrors.Newf(apperrors.KindNotFound, string(tag), "get", "stock code %s", stockCode)
}

type batchResponse struct {
	BatchID string `json:"batchId"`
}

type stockPriceItem struct {
	StockCode     string   `json:"stockCode"`
	StockQuantity *int     `json:"stockQuantity,omitempty"`
	SalesPrice    *float64 `json:"salesPrice,omitempty"`
	ListPrice     *float64 `json:"listPrice,omitempty"`
}

func price(d models.StockPriceItem, sale bool) *float64 {
	v := d.ListPrice
	if sale {
		v = d.SalePrice
	}
	if !v.Valid {
		return nil
	}
	f, _ := v.Decimal.Round(2).Float64()
	return &f
}

func (a *Adapter) submit(ctx context.Context, op, method, path string, kind models.IntentKind, body interface{}, keys map[string]string, stockCodes []string) (*models.SubmitResult, error) {
	var resp batchResponse
	if err := a.client.DoJSON(ctx, op, method, path, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.BatchID == "" {
		return nil, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), op, "response without batchId")
	}
	job := models.NewBatchJob(tag, resp.BatchID, kind, stockCodes)
	for k, v := range keys {
		job.ItemKeys[k] = v
	}
	return models.AsyncResult(job), nil
}

func (a *Adapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	payload := struct {
		Items []stockPriceItem `json:"items"`
	}{}
	keys := make(map[string]string, len(items))
	for _, it := range items {
		sc := it.ItemID
		if sc == "" {
			sc = it.StockCode
		}
		keys[sc] = it.StockCode
		payload.Items = append(payload.Items, stockPriceItem{
			StockCode:     sc,
			StockQuantity: it.Quantity,
			SalesPrice:    price(it, true),
			ListPrice:     price(it, false),
		})
	}
	return a.submit(ctx, "update", http.MethodPut, "/Products/price-and-stock", models.IntentStockPrice, payload, keys, marketplace.StockCodes(items))
}

type batchStatus struct {
	BatchID   string `json:"batchId"`
	ItemCount int    `json:"itemCount"`
	Items     []struct {
		ItemID string `json:"itemId"`
		Status string `json:"status"`
		Data   struct {
			StockCode string `json:"stockCode"`
		} `json:"data"`
		FailureReasons []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"failureReasons"`
	} `json:"items"`
}

// PollJob Çiçeksepeti не сообщает статус пакета целиком: пакет завершен,
// когда ни один элемент не находится в обработке
func (a *Adapter) PollJob(ctx context.Context, job models.BatchJob) (models.BatchJob, error) {
	var st batchStatus
	if err := a.client.DoJSON(ctx, "poll", http.MethodGet, "/Products/batch-status/"+url.PathEscape(job.ExternalID), nil, nil, &st); err != nil {
		return job, err
	}
	if len(st.Items) == 0 {
		job.Status = models.JobInProgress
		return job, nil
	}

	items := make([]models.ItemResult, 0, len(st.Items))
	for _, it := range st.Items {
		sc := job.StockCodeFor(it.Data.StockCode)
		switch strings.ToLower(it.Status) {
		case "success":
			items = append(items, models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
		case "failed":
			var reasons []string
			for _, r := range it.FailureReasons {
				reasons = append(reasons, r.Message)
			}
			items = append(items, marketplace.RejectedItem(sc, strings.Join(reasons, "; ")))
		default:
			job.Status = models.JobInProgress
			return job, nil
		}
	}
	job.Items = items
	job.Status = models.JobSucceeded
	return job, nil
}

type createProduct struct {
	ProductName         string            `json:"productName"`
	MainProductCode     string            `json:"mainProductCode"`
	StockCode           string            `json:"stockCode"`
	CategoryID          int64             `json:"categoryId"`
	Description         string            `json:"description"`
	DeliveryMessageType int               `json:"deliveryMessageType"`
	DeliveryType        int               `json:"deliveryType"`
	StockQuantity       int               `json:"stockQuantity"`
	SalesPrice          *float64          `json:"salesPrice,omitempty"`
	ListPrice           *float64          `json:"listPrice,omitempty"`
	Barcode             string            `json:"barcode,omitempty"`
	Images              []string          `json:"images"`
	Attributes          []createAttribute `json:"Attributes"`
}

type createAttribute struct {
	ID         int64  `json:"id"`
	ValueID    int64  `json:"ValueId,omitempty"`
	TextLength int    `json:"TextLength"`
	Value      string `json:"value,omitempty"`
}

func (a *Adapter) SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	rec := draft.Record
	categoryID, err := strconv.ParseInt(draft.Category.ID, 10, 64)
	if err != nil {
		return nil, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "create", "category id %q: %v", draft.Category.ID, err)
	}
	sp := models.StockPriceItem{SalePrice: rec.SalePrice, ListPrice: rec.ListPrice}
	p := createProduct{
		ProductName:         rec.Title,
		MainProductCode:     rec.StockCode,
		StockCode:           rec.StockCode,
		CategoryID:          categoryID,
		Description:         rec.Description,
		DeliveryMessageType: 1,
		DeliveryType:        2,
		StockQuantity:       rec.Quantity,
		SalesPrice:          price(sp, true),
		ListPrice:           price(sp, false),
		Barcode:             rec.Barcode,
		Images:              rec.Images,
	}
	for k, v := range draft.Category.Attributes {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		at := createAttribute{ID: id}
		if valueID, err := strconv.ParseInt(v, 10, 64); err == nil {
			at.ValueID = valueID
		} else {
			at.Value = v
			at.TextLength = len([]rune(v))
		}
		p.Attributes = append(p.Attributes, at)
	}
	payload := struct {
		Products []createProduct `json:"products"`
	}{Products: []createProduct{p}}
	return a.submit(ctx, "create", http.MethodPost, "/Products", models.IntentCreate, payload, nil, []string{rec.StockCode})
}

// Delete Çiçeksepeti не поддерживает удаление через API
func (a *Adapter) Delete(context.Context, []string) (*models.SubmitResult, error) {
	return nil, marketplace.Unsupported(tag, "delete")
}
