// Package hepsiburada адаптер Hepsiburada Listing API: basic auth мерчанта,
// список со смещением и раздельные асинхронные загрузки остатков и цен.
package hepsiburada

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
	"github.com/athebyme/gomarket-sync/pkg/utils"
)

const tag = models.Hepsiburada

// Виды заданий кодируются префиксом внешнего идентификатора: у каждого свой адрес опроса
const (
	uploadInventory = "inventory"
	uploadPrice     = "price"
	uploadProduct   = "product"
)

// Adapter адаптер Hepsiburada
type Adapter struct {
	client     *transport.Client
	merchantID string
	pageSize   int
	limits     marketplace.Limits
}

// New создает адаптер
func New(_ context.Context, deps marketplace.Deps) (marketplace.Adapter, error) {
	creds := deps.Credentials.Hepsiburada
	cfg := marketplace.TransportConfig(tag, deps)
	cfg.Auth = transport.BasicAuth{Username: creds.Username, Password: creds.Password}

	pageSize := deps.Config.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Adapter{
		client:     transport.NewClient(cfg),
		merchantID: creds.MerchantID,
		pageSize:   pageSize,
		limits:     marketplace.LimitsFrom(deps),
	}, nil
}

func (a *Adapter) Marketplace() models.Marketplace { return tag }

func (a *Adapter) Limits() marketplace.Limits { return a.limits }

func (a *Adapter) path(suffix string) string {
	return "/listings/merchantid/" + a.merchantID + suffix
}

type listingsResponse struct {
	TotalCount int64     `json:"totalCount"`
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
	Listings   []listing `json:"listings"`
}

type listing struct {
	UniqueIdentifier string      `json:"uniqueIdentifier"`
	HepsiburadaSku   string      `json:"hepsiburadaSku"`
	MerchantSku      string      `json:"merchantSku"`
	Price            json.Number `json:"price"`
	AvailableStock   float64     `json:"availableStock"`
	DispatchTime     int         `json:"dispatchTime"`
	CargoCompany1    string      `json:"cargoCompany1"`
	IsSalable        bool        `json:"isSalable"`
	ProductName      string      `json:"productName"`
}

func (l listing) raw() models.RawListing {
	raw := models.RawListing{
		StockCode: l.MerchantSku,
		MainID:    l.HepsiburadaSku,
		ItemID:    l.HepsiburadaSku,
		Title:     l.ProductName,
		Quantity:  l.AvailableStock,
		SalePrice: l.Price.String(),
	}
	attrs := map[string]string{}
	if l.DispatchTime > 0 {
		attrs["dispatchTime"] = strconv.Itoa(l.DispatchTime)
	}
	if l.CargoCompany1 != "" {
		attrs["cargoCompany1"] = l.CargoCompany1
	}
	if len(attrs) > 0 {
		raw.Attributes = attrs
	}
	return raw
}

func (a *Adapter) fetch(ctx context.Context, q url.Values) (listingsResponse, error) {
	var resp listingsResponse
	err := a.client.DoJSON(ctx, "list", http.MethodGet, a.path(""), q, nil, &resp)
	return resp, err
}

func (a *Adapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	p := utils.NewPagination(0, a.pageSize)
	raws := func(yield func(models.RawListing, error) bool) {
		for l, err := range utils.Paginate(ctx, p, func(ctx context.Context, p *utils.Pagination) (utils.Page[listing], error) {
			q := url.Values{}
			q.Set("offset", strconv.Itoa(p.GetOffset()))
			q.Set("limit", strconv.Itoa(p.GetLimit()))
			resp, err := a.fetch(ctx, q)
			if err != nil {
				return utils.Page[listing]{}, err
			}
			return utils.Page[listing]{Items: resp.Listings, TotalItems: resp.TotalCount}, nil
		}) {
			if !yield(l.raw(), err) {
				return
			}
		}
	}
	return marketplace.Normalized(tag, includeFull, raws)
}

func (a *Adapter) GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error) {
	q := url.Values{}
	q.Set("merchantSkuList", stockCode)
	resp, err := a.fetch(ctx, q)
	if err != nil {
		return models.CatalogRecord{}, err
	}
	for _, l := range resp.Listings {
		if l.MerchantSku == stockCode || (l.MerchantSku == "" && l.HepsiburadaSku == stockCode) {
			return models.Normalize(tag, l.raw(), true)
		}
	}
	return models.CatalogRecord{}, apperrors.Newf(apperrors.KindNotFound, string(tag), "get", "stock code %s", stockCode)
}

type uploadResponse struct {
	ID string `json:"id"`
}

type inventoryItem struct {
	HepsiburadaSku string `json:"hepsiburadaSku,omitempty"`
	MerchantSku    string `json:"merchantSku"`
	AvailableStock int    `json:"availableStock"`
}

type priceItem struct {
	HepsiburadaSku string  `json:"hepsiburadaSku,omitempty"`
	MerchantSku    string  `json:"merchantSku"`
	Price          float64 `json:"price"`
}

func (a *Adapter) upload(ctx context.Context, kind string, body interface{}, stockCodes []string) (models.BatchJob, error) {
	var resp uploadResponse
	op := "upload-" + kind
	if err := a.client.DoJSON(ctx, op, http.MethodPost, a.path("/"+kind+"-uploads"), nil, body, &resp); err != nil {
		return models.BatchJob{}, err
	}
	if resp.ID == "" {
		return models.BatchJob{}, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), op, "upload id is empty")
	}
	return models.NewBatchJob(tag, kind+":"+resp.ID, models.IntentStockPrice, stockCodes), nil
}

// SubmitStockPrice остатки и цены уходят двумя загрузками, каждая опрашивается отдельно.
// Список цен Hepsiburada не поддерживает, поэтому ListPrice игнорируется.
func (a *Adapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	var (
		inv      []inventoryItem
		invCodes []string
		prices   []priceItem
		prCodes  []string
		skipped  []models.ItemResult
	)
	for _, it := range items {
		if it.Quantity == nil && !it.SalePrice.Valid {
			skipped = append(skipped, marketplace.FailedItem(it.StockCode,
				apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "update", "only sale price and quantity can be updated")))
			continue
		}
		if it.Quantity != nil {
			inv = append(inv, inventoryItem{HepsiburadaSku: it.ItemID, MerchantSku: it.StockCode, AvailableStock: *it.Quantity})
			invCodes = append(invCodes, it.StockCode)
		}
		if it.SalePrice.Valid {
			f, _ := it.SalePrice.Decimal.Round(2).Float64()
			prices = append(prices, priceItem{HepsiburadaSku: it.ItemID, MerchantSku: it.StockCode, Price: f})
			prCodes = append(prCodes, it.StockCode)
		}
	}

	res := &models.SubmitResult{Items: skipped}
	if len(inv) > 0 {
		job, err := a.upload(ctx, uploadInventory, inv, invCodes)
		if err != nil {
			return nil, err
		}
		res.Jobs = append(res.Jobs, job)
	}
	if len(prices) > 0 {
		job, err := a.upload(ctx, uploadPrice, prices, prCodes)
		if err != nil {
			if len(res.Jobs) == 0 {
				return nil, err
			}
			// Остатки уже приняты: цены помечаем неуспешными, задание остатков опрашиваем
			for _, sc := range prCodes {
				res.Items = append(res.Items, marketplace.FailedItem(sc, err))
			}
		} else {
			res.Jobs = append(res.Jobs, job)
		}
	}
	return res, nil
}

type uploadStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Errors []struct {
		MerchantSku    string   `json:"merchantSku"`
		HepsiburadaSku string   `json:"hepsiburadaSku"`
		Errors         []string `json:"errors"`
	} `json:"errors"`
}

type productStatus struct {
	Success bool `json:"success"`
	Data    []struct {
		MerchantSku       string `json:"merchantSku"`
		ImportStatus      string `json:"importStatus"`
		ValidationResults []struct {
			AttributeName string `json:"attributeName"`
			Message       string `json:"message"`
		} `json:"validationResults"`
	} `json:"data"`
}

func splitJobID(id string) (kind, raw string, err error) {
	kind, raw, ok := strings.Cut(id, ":")
	if !ok || raw == "" {
		return "", "", fmt.Errorf("unexpected job id %q", id)
	}
	return kind, raw, nil
}

func (a *Adapter) PollJob(ctx context.Context, job models.BatchJob) (models.BatchJob, error) {
	kind, id, err := splitJobID(job.ExternalID)
	if err != nil {
		return job, apperrors.New(apperrors.KindMalformedRequest, string(tag), "poll", err)
	}
	if kind == uploadProduct {
		return a.pollProduct(ctx, job, id)
	}

	var st uploadStatus
	if err := a.client.DoJSON(ctx, "poll-"+kind, http.MethodGet, a.path("/"+kind+"-uploads/id/"+id), nil, nil, &st); err != nil {
		return job, err
	}
	switch strings.ToLower(st.Status) {
	case "done", "completed":
		job.Status = models.JobSucceeded
	case "failed":
		job.Status = models.JobFailed
		job.Reason = kind + " upload failed"
	default:
		job.Status = models.JobInProgress
		return job, nil
	}

	failed := make(map[string]string, len(st.Errors))
	for _, e := range st.Errors {
		sc := e.MerchantSku
		if sc == "" {
			sc = job.StockCodeFor(e.HepsiburadaSku)
		}
		failed[sc] = strings.Join(e.Errors, "; ")
	}
	job.Items = job.Items[:0]
	for _, sc := range job.StockCodes {
		if reason, ok := failed[sc]; ok {
			job.Items = append(job.Items, marketplace.RejectedItem(sc, reason))
			continue
		}
		if job.Status == models.JobSucceeded {
			job.Items = append(job.Items, models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
		}
	}
	return job, nil
}

func (a *Adapter) pollProduct(ctx context.Context, job models.BatchJob, trackingID string) (models.BatchJob, error) {
	var st productStatus
	if err := a.client.DoJSON(ctx, "poll-product", http.MethodGet, "/product/api/products/status/"+trackingID, nil, nil, &st); err != nil {
		return job, err
	}
	job.Items = job.Items[:0]
	pending := false
	for _, d := range st.Data {
		switch strings.ToUpper(d.ImportStatus) {
		case "SUCCESS", "MATCHED", "CREATED":
			job.Items = append(job.Items, models.ItemResult{StockCode: d.MerchantSku, Status: models.ItemSucceeded})
		case "FAILED", "REJECTED":
			var reasons []string
			for _, v := range d.ValidationResults {
				reasons = append(reasons, v.AttributeName+": "+v.Message)
			}
			job.Items = append(job.Items, marketplace.RejectedItem(d.MerchantSku, strings.Join(reasons, "; ")))
		default:
			pending = true
		}
	}
	if pending || len(st.Data) == 0 {
		job.Items = nil
		job.Status = models.JobInProgress
		return job, nil
	}
	job.Status = models.JobSucceeded
	return job, nil
}

type productImport struct {
	CategoryID int               `json:"categoryId"`
	Merchant   string            `json:"merchant"`
	Attributes map[string]string `json:"attributes"`
}

// SubmitCreate отправляет товар в каталог (product import). Атрибуты категории
// передаются как есть, стандартные поля заполняются из записи-источника.
func (a *Adapter) SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	rec := draft.Record
	categoryID, err := strconv.Atoi(draft.Category.ID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "create", "category id %q: %v", draft.Category.ID, err)
	}
	attrs := map[string]string{
		"merchantSku":    rec.StockCode,
		"UrunAdi":        rec.Title,
		"UrunAciklamasi": rec.Description,
		"Barcode":        rec.Barcode,
		"stock":          strconv.Itoa(rec.Quantity),
		"price":          models.FormatPrice(rec.SalePrice),
	}
	for i, img := range rec.Images {
		if i >= 5 {
			break
		}
		attrs[fmt.Sprintf("Image%d", i+1)] = img
	}
	for k, v := range draft.Category.Attributes {
		attrs[k] = v
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			TrackingID string `json:"trackingId"`
		} `json:"data"`
		Message string `json:"message"`
	}
	body := []productImport{{CategoryID: categoryID, Merchant: a.merchantID, Attributes: attrs}}
	if err := a.client.DoJSON(ctx, "create", http.MethodPost, "/product/api/products/import", nil, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Data.TrackingID == "" {
		return models.SyncResult(marketplace.RejectedItem(rec.StockCode, resp.Message)), nil
	}
	return models.AsyncResult(models.NewBatchJob(tag, uploadProduct+":"+resp.Data.TrackingID, models.IntentCreate, []string{rec.StockCode})), nil
}

// Delete снимает листинги по одному, Hepsiburada удаляет синхронно
func (a *Adapter) Delete(ctx context.Context, stockCodes []string) (*models.SubmitResult, error) {
	res := &models.SubmitResult{}
	for _, sc := range stockCodes {
		rec, err := a.GetOne(ctx, sc)
		if err == nil {
			err = a.client.DoJSON(ctx, "delete", http.MethodDelete, a.path("/sku/"+url.PathEscape(rec.ItemID)), nil, nil, nil)
		}
		switch {
		case err == nil:
			res.Items = append(res.Items, models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
		case apperrors.IsAuth(err) || apperrors.KindOf(err) == apperrors.KindCancelled:
			return nil, err
		default:
			res.Items = append(res.Items, marketplace.FailedItem(sc, err))
		}
	}
	return res, nil
}
