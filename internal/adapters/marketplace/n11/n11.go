// Package n11 адаптер N11: SOAP с WS-Security UsernameToken, постраничный
// список и синхронные обновления остатков и цен.
package n11

import (
	"context"
	"encoding/xml"
	"iter"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/utils"
)

const (
	tag       = models.N11
	namespace = "http://www.n11.com/ws/schemas"

	productService = "/ProductService"
	stockService   = "/ProductStockService"

	// discountFixedPrice тип скидки N11 "цена со скидкой"
	discountFixedPrice = 3
	currencyTRY        = 1
)

// resultCodes коды из блока result ответа и из detail SOAP Fault
var resultCodes = transport.CodeTable{
	"THROTTLED":                         apperrors.KindTransient,
	"SELLER_API.requestLimitExceeded":   apperrors.KindTransient,
	"SELLER_API.serviceUnavailable":     apperrors.KindTransient,
	"SELLER_API.productNotFound":        apperrors.KindNotFound,
	"product.not.found":                 apperrors.KindNotFound,
	"SELLER_API.authenticationFailed":   apperrors.KindAuth,
	"SELLER_API.invalidAppKeyOrSecret":  apperrors.KindAuth,
	"SELLER_API.invalidProductPrice":    apperrors.KindItemRejected,
	"SELLER_API.invalidStockQuantity":   apperrors.KindItemRejected,
	"SELLER_API.categoryNotFound":       apperrors.KindItemRejected,
	"SELLER_API.productSellerCodeExist": apperrors.KindItemRejected,
}

type result struct {
	Status       string `xml:"status"`
	ErrorCode    string `xml:"errorCode"`
	ErrorMessage string `xml:"errorMessage"`
}

func (r result) failed() bool {
	return r.Status != "" && !strings.EqualFold(r.Status, "success")
}

// err переводит неуспешный result в ошибку с видом по таблице кодов
func (r result) err(op string) error {
	kind, ok := resultCodes.Lookup(r.ErrorCode)
	if !ok {
		kind = apperrors.KindMalformedRequest
	}
	e := apperrors.Newf(kind, string(tag), op, "%s", r.ErrorMessage)
	e.Code = r.ErrorCode
	return e
}

// classifyResult ловит временные ошибки из result до разбора ответа, чтобы
// транспорт повторил запрос с задержкой
func classifyResult(resp *transport.Response) *apperrors.Error {
	if !strings.Contains(string(resp.Body), "<errorCode>") {
		return nil
	}
	var env struct {
		Body struct {
			Inner struct {
				Result result `xml:"result"`
			} `xml:",any"`
		} `xml:"Body"`
	}
	if xml.Unmarshal(resp.Body, &env) != nil {
		return nil
	}
	r := env.Body.Inner.Result
	if !r.failed() {
		return nil
	}
	if kind, ok := resultCodes.Lookup(r.ErrorCode); ok && kind == apperrors.KindTransient {
		e := apperrors.Newf(kind, "", "", "%s", r.ErrorMessage)
		e.Code = r.ErrorCode
		return e
	}
	return nil
}

// Adapter адаптер N11
type Adapter struct {
	products *transport.SOAPClient
	stock    *transport.SOAPClient
	pageSize int
	limits   marketplace.Limits
	logger   interfaces.LoggerPort
}

// New создает адаптер
func New(_ context.Context, deps marketplace.Deps) (marketplace.Adapter, error) {
	creds := deps.Credentials.N11
	cfg := marketplace.TransportConfig(tag, deps)
	cfg.Classifier = classifyResult
	soap := transport.NewSOAPClient(cfg, transport.SOAPConfig{
		Username:  creds.Username,
		Password:  creds.Password,
		Namespace: namespace,
		Path:      productService,
		Faults:    resultCodes,
	})

	pageSize := deps.Config.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Adapter{
		products: soap,
		stock:    soap.WithPath(stockService),
		pageSize: pageSize,
		limits:   marketplace.LimitsFrom(deps),
		logger:   deps.Logger,
	}, nil
}

func (a *Adapter) Marketplace() models.Marketplace { return tag }

func (a *Adapter) Limits() marketplace.Limits { return a.limits }

type pagingData struct {
	CurrentPage int   `xml:"currentPage"`
	PageSize    int   `xml:"pageSize"`
	TotalCount  int64 `xml:"totalCount,omitempty"`
	PageCount   int   `xml:"pageCount,omitempty"`
}

type stockItem struct {
	SellerStockCode string `xml:"sellerStockCode"`
	Quantity        string `xml:"quantity"`
	Gtin            string `xml:"gtin,omitempty"`
	OptionPrice     string `xml:"optionPrice,omitempty"`
}

type image struct {
	URL   string `xml:"url"`
	Order int    `xml:"order"`
}

type attribute struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
}

type product struct {
	ID                string `xml:"id"`
	ProductSellerCode string `xml:"productSellerCode"`
	Title             string `xml:"title"`
	Subtitle          string `xml:"subtitle"`
	Description       string `xml:"description"`
	Price             string `xml:"price"`
	DisplayPrice      string `xml:"displayPrice"`
	Category          struct {
		ID       string `xml:"id"`
		FullName string `xml:"fullName"`
	} `xml:"category"`
	Images     []image     `xml:"images>image"`
	Attributes []attribute `xml:"attributes>attribute"`
	StockItems []stockItem `xml:"stockItems>stockItem"`
}

func (p product) raw() models.RawListing {
	raw := models.RawListing{
		MainID:       p.ProductSellerCode,
		ItemID:       p.ID,
		Title:        p.Title,
		Description:  p.Description,
		SalePrice:    p.DisplayPrice,
		ListPrice:    p.Price,
		Currency:     models.DefaultCurrency(),
		CategoryID:   p.Category.ID,
		CategoryPath: p.Category.FullName,
	}
	for _, si := range p.StockItems {
		if raw.StockCode == "" {
			raw.StockCode = si.SellerStockCode
		}
		if raw.Barcode == "" {
			raw.Barcode = si.Gtin
		}
		q, err := models.ParseQuantity(si.Quantity)
		if err == nil {
			raw.Quantity += q
		}
	}
	for _, img := range p.Images {
		raw.Images = append(raw.Images, img.URL)
	}
	if len(p.Attributes) > 0 || p.Subtitle != "" {
		raw.Attributes = make(map[string]string, len(p.Attributes)+1)
		for _, at := range p.Attributes {
			raw.Attributes[at.Name] = at.Value
		}
		if p.Subtitle != "" {
			raw.Attributes["subtitle"] = p.Subtitle
		}
	}
	return raw
}

type getProductListRequest struct {
	XMLName    xml.Name   `xml:"sch:GetProductListRequest"`
	PagingData pagingData `xml:"pagingData"`
}

type getProductListResponse struct {
	Result     result     `xml:"result"`
	Products   []product  `xml:"products>product"`
	PagingData pagingData `xml:"pagingData"`
}

type getProductBySellerCodeRequest struct {
	XMLName    xml.Name `xml:"sch:GetProductBySellerCodeRequest"`
	SellerCode string   `xml:"sellerCode"`
}

type getProductBySellerCodeResponse struct {
	Result  result  `xml:"result"`
	Product product `xml:"product"`
}

func (a *Adapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	// N11 нумерует страницы с нуля
	p := utils.NewPagination(0, a.pageSize)
	raws := func(yield func(models.RawListing, error) bool) {
		for prod, err := range utils.Paginate(ctx, p, func(ctx context.Context, p *utils.Pagination) (utils.Page[product], error) {
			var resp getProductListResponse
			req := getProductListRequest{PagingData: pagingData{CurrentPage: p.Page, PageSize: p.PageSize}}
			if err := a.products.Call(ctx, "list", "GetProductList", req, &resp); err != nil {
				return utils.Page[product]{}, err
			}
			if resp.Result.failed() {
				return utils.Page[product]{}, resp.Result.err("list")
			}
			page := utils.Page[product]{Items: resp.Products, TotalItems: resp.PagingData.TotalCount}
			if page.TotalItems == 0 {
				page.TotalPages = resp.PagingData.PageCount
			}
			return page, nil
		}) {
			if err == nil && includeFull && prod.ProductSellerCode != "" {
				// Список не содержит атрибутов и изображений: дочитываем карточку
				if full, ferr := a.bySellerCode(ctx, prod.ProductSellerCode); ferr == nil {
					prod = full
				} else if !apperrors.IsNotFound(ferr) {
					err = ferr
				}
			}
			if !yield(prod.raw(), err) {
				return
			}
		}
	}
	return marketplace.Normalized(tag, includeFull, raws)
}

func (a *Adapter) bySellerCode(ctx context.Context, code string) (product, error) {
	var resp getProductBySellerCodeResponse
	if err := a.products.Call(ctx, "get", "GetProductBySellerCode", getProductBySellerCodeRequest{SellerCode: code}, &resp); err != nil {
		return product{}, err
	}
	if resp.Result.failed() {
		return product{}, resp.Result.err("get")
	}
	if resp.Product.ID == "" {
		return product{}, apperrors.Newf(apperrors.KindNotFound, string(tag), "get", "seller code %s", code)
	}
	return resp.Product, nil
}

func (a *Adapter) GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error) {
	p, err := a.bySellerCode(ctx, stockCode)
	if err != nil {
		return models.CatalogRecord{}, err
	}
	return models.Normalize(tag, p.raw(), true)
}

type updateStockRequest struct {
	XMLName    xml.Name    `xml:"sch:UpdateStockByStockSellerCodeRequest"`
	StockItems []stockItem `xml:"stockItems>stockItem"`
}

type updatePriceRequest struct {
	XMLName      xml.Name  `xml:"sch:UpdateProductPriceByIdRequest"`
	ProductID    string    `xml:"productId"`
	Price        string    `xml:"price,omitempty"`
	CurrencyType int       `xml:"currencyType"`
	Discount     *discount `xml:"productDiscount,omitempty"`
}

type discount struct {
	DiscountType  int    `xml:"discountType"`
	DiscountValue string `xml:"discountValue"`
}

type resultResponse struct {
	Result result `xml:"result"`
}

// SubmitStockPrice остатки уходят одним запросом на пакет, цены по одному товару.
// N11 обрабатывает обновления синхронно.
func (a *Adapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	outcome := make(map[string]error, len(items))

	var stock updateStockRequest
	var stockCodes []string
	for _, it := range items {
		if it.Quantity != nil {
			stock.StockItems = append(stock.StockItems, stockItem{SellerStockCode: it.StockCode, Quantity: strconv.Itoa(*it.Quantity)})
			stockCodes = append(stockCodes, it.StockCode)
		}
	}
	if len(stock.StockItems) > 0 {
		var resp resultResponse
		err := a.stock.Call(ctx, "update-stock", "UpdateStockByStockSellerCode", stock, &resp)
		if err == nil && resp.Result.failed() {
			err = resp.Result.err("update-stock")
		}
		if fatal(err) {
			return nil, err
		}
		for _, sc := range stockCodes {
			outcome[sc] = err
		}
	}

	for _, it := range items {
		if !it.SalePrice.Valid && !it.ListPrice.Valid {
			continue
		}
		if outcome[it.StockCode] != nil {
			continue
		}
		err := a.updatePrice(ctx, it)
		if fatal(err) {
			return nil, err
		}
		outcome[it.StockCode] = err
	}

	res := &models.SubmitResult{}
	for _, it := range items {
		if err := outcome[it.StockCode]; err != nil {
			res.Items = append(res.Items, marketplace.FailedItem(it.StockCode, err))
			continue
		}
		res.Items = append(res.Items, models.ItemResult{StockCode: it.StockCode, Status: models.ItemSucceeded})
	}
	return res, nil
}

func (a *Adapter) updatePrice(ctx context.Context, it models.StockPriceItem) error {
	productID := it.ItemID
	if productID == "" {
		p, err := a.bySellerCode(ctx, it.StockCode)
		if err != nil {
			return err
		}
		productID = p.ID
	}
	req := updatePriceRequest{ProductID: productID, CurrencyType: currencyTRY}
	if it.ListPrice.Valid {
		req.Price = models.FormatPrice(it.ListPrice)
	}
	if it.SalePrice.Valid {
		if req.Price == "" {
			req.Price = models.FormatPrice(it.SalePrice)
		} else {
			req.Discount = &discount{DiscountType: discountFixedPrice, DiscountValue: models.FormatPrice(it.SalePrice)}
		}
	}
	var resp resultResponse
	if err := a.products.Call(ctx, "update-price", "UpdateProductPriceById", req, &resp); err != nil {
		return err
	}
	if resp.Result.failed() {
		return resp.Result.err("update-price")
	}
	return nil
}

// fatal ошибки, после которых продолжать пакет бессмысленно
func fatal(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.KindAuth, apperrors.KindCancelled, apperrors.KindTimeout:
		return true
	}
	return false
}

func (a *Adapter) PollJob(_ context.Context, job models.BatchJob) (models.BatchJob, error) {
	return job, marketplace.Unsupported(tag, "poll")
}

type saveProduct struct {
	ProductSellerCode string `xml:"productSellerCode"`
	Title             string `xml:"title"`
	Subtitle          string `xml:"subtitle"`
	Description       string `xml:"description"`
	Category          struct {
		ID string `xml:"id"`
	} `xml:"category"`
	Price            string      `xml:"price"`
	CurrencyType     int         `xml:"currencyType"`
	Images           []image     `xml:"images>image"`
	ApprovalStatus   int         `xml:"approvalStatus"`
	Attributes       []attribute `xml:"attributes>attribute"`
	PreparingDay     int         `xml:"preparingDay"`
	ShipmentTemplate string      `xml:"shipmentTemplate"`
	ProductCondition int         `xml:"productCondition"`
	StockItems       []stockItem `xml:"stockItems>stockItem"`
	Discount         *discount   `xml:"discount,omitempty"`
}

type saveProductRequest struct {
	XMLName xml.Name    `xml:"sch:SaveProductRequest"`
	Product saveProduct `xml:"product"`
}

type saveProductResponse struct {
	Result  result `xml:"result"`
	Product struct {
		ID string `xml:"id"`
	} `xml:"product"`
}

func (a *Adapter) SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	rec := draft.Record
	p := saveProduct{
		ProductSellerCode: rec.StockCode,
		Title:             rec.Title,
		Subtitle:          rec.Attributes["subtitle"],
		Description:       rec.Description,
		Price:             models.FormatPrice(rec.ListPrice),
		CurrencyType:      currencyTRY,
		ApprovalStatus:    1,
		PreparingDay:      3,
		ShipmentTemplate:  draft.Category.Attributes["shipmentTemplate"],
		ProductCondition:  1,
		StockItems: []stockItem{{
			SellerStockCode: rec.StockCode,
			Quantity:        strconv.Itoa(rec.Quantity),
			Gtin:            rec.Barcode,
			OptionPrice:     models.FormatPrice(rec.SalePrice),
		}},
	}
	p.Category.ID = draft.Category.ID
	if p.Price == "" {
		p.Price = models.FormatPrice(rec.SalePrice)
	} else if rec.SalePrice.Valid {
		p.Discount = &discount{DiscountType: discountFixedPrice, DiscountValue: models.FormatPrice(rec.SalePrice)}
	}
	for i, u := range rec.Images {
		p.Images = append(p.Images, image{URL: u, Order: i + 1})
	}
	for k, v := range draft.Category.Attributes {
		if k == "shipmentTemplate" {
			continue
		}
		p.Attributes = append(p.Attributes, attribute{Name: k, Value: v})
	}

	var resp saveProductResponse
	if err := a.products.Call(ctx, "create", "SaveProduct", saveProductRequest{Product: p}, &resp); err != nil {
		if fatal(err) || apperrors.IsTransient(err) {
			return nil, err
		}
		return models.SyncResult(marketplace.FailedItem(rec.StockCode, err)), nil
	}
	if resp.Result.failed() {
		return models.SyncResult(marketplace.FailedItem(rec.StockCode, resp.Result.err("create"))), nil
	}
	return models.SyncResult(marketplace.SucceededItems(rec.StockCode)...), nil
}

type deleteRequest struct {
	XMLName           xml.Name `xml:"sch:DeleteProductBySellerCodeRequest"`
	ProductSellerCode string   `xml:"productSellerCode"`
}

func (a *Adapter) Delete(ctx context.Context, stockCodes []string) (*models.SubmitResult, error) {
	res := &models.SubmitResult{}
	for _, sc := range stockCodes {
		var resp resultResponse
		err := a.products.Call(ctx, "delete", "DeleteProductBySellerCode", deleteRequest{ProductSellerCode: sc}, &resp)
		if err == nil && resp.Result.failed() {
			err = resp.Result.err("delete")
		}
		if fatal(err) {
			return nil, err
		}
		if err != nil {
			res.Items = append(res.Items, marketplace.FailedItem(sc, err))
			continue
		}
		res.Items = append(res.Items, models.ItemResult{StockCode: sc, Status: models.ItemSucceeded})
	}
	return res, nil
}
