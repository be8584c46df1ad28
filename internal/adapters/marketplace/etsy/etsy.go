// Package etsy адаптер Etsy: запросы подписываются OAuth1, список листингов
// обходится по непрозрачному токену следующей страницы, инвентарь меняется
// синхронно по одному листингу.
package etsy

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/dghubble/oauth1"
	"github.com/shopspring/decimal"
)

const tag = models.Etsy

// Endpoint адреса трехногого потока OAuth1 Etsy
var Endpoint = oauth1.Endpoint{
	RequestTokenURL: "https://openapi.etsy.com/v2/oauth/request_token",
	AuthorizeURL:    "https://www.etsy.com/oauth/signin",
	AccessTokenURL:  "https://openapi.etsy.com/v2/oauth/access_token",
}

// Adapter адаптер Etsy
type Adapter struct {
	client   *transport.Client
	shopID   string
	pageSize int
	limits   marketplace.Limits
	logger   interfaces.LoggerPort
}

// New создает адаптер. Если access token не задан, а request token и verifier
// есть, обмен выполняется здесь один раз.
func New(ctx context.Context, deps marketplace.Deps) (marketplace.Adapter, error) {
	creds := deps.Credentials.Etsy
	opts := transport.OAuth1Options{
		ConsumerKey:    creds.ConsumerKey,
		ConsumerSecret: creds.ConsumerSecret,
		Token:          creds.AccessToken,
		TokenSecret:    creds.AccessSecret,
		Endpoint:       Endpoint,
	}
	if opts.Token == "" {
		token, secret, err := transport.ExchangeVerifier(ctx, opts, creds.RequestToken, creds.RequestSecret, creds.Verifier)
		if err != nil {
			return nil, apperrors.New(apperrors.KindAuth, string(tag), "init", err)
		}
		opts.Token, opts.TokenSecret = token, secret
		if deps.Logger != nil {
			deps.Logger.Info("Получен access token Etsy по verifier, сохраните его в ETSY_ACCESS_TOKEN")
		}
	}

	cfg := marketplace.TransportConfig(tag, deps)
	cfg.HTTPClient = transport.NewOAuth1HTTPClient(ctx, opts)
	cfg.Auth = transport.APIKey("x-api-key", creds.ConsumerKey)

	shopID := creds.ShopID
	if shopID == "" {
		shopID = deps.Config.MarketplaceID
	}
	pageSize := deps.Config.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Adapter{
		client:   transport.NewClient(cfg),
		shopID:   shopID,
		pageSize: pageSize,
		limits:   marketplace.LimitsFrom(deps),
		logger:   deps.Logger,
	}, nil
}

func (a *Adapter) Marketplace() models.Marketplace { return tag }

func (a *Adapter) Limits() marketplace.Limits { return a.limits }

type money struct {
	Amount       int64  `json:"amount"`
	Divisor      int64  `json:"divisor"`
	CurrencyCode string `json:"currency_code"`
}

func (m money) String() string {
	if m.Divisor <= 0 {
		return ""
	}
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(m.Divisor)).StringFixed(2)
}

type listing struct {
	ListingID   int64    `json:"listing_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	Quantity    float64  `json:"quantity"`
	Price       money    `json:"price"`
	SKUs        []string `json:"skus"`
	TaxonomyID  int64    `json:"taxonomy_id"`
	Tags        []string `json:"tags"`
	WhoMade     string   `json:"who_made"`
	WhenMade    string   `json:"when_made"`
}

func (l listing) sku() string {
	for _, s := range l.SKUs {
		if s != "" {
			return s
		}
	}
	return ""
}

func (l listing) raw() models.RawListing {
	raw := models.RawListing{
		StockCode:   l.sku(),
		ItemID:      strconv.FormatInt(l.ListingID, 10),
		Title:       l.Title,
		Description: l.Description,
		Quantity:    l.Quantity,
		SalePrice:   l.Price.String(),
		Currency:    l.Price.CurrencyCode,
	}
	if l.TaxonomyID != 0 {
		raw.CategoryID = strconv.FormatInt(l.TaxonomyID, 10)
	}
	if len(l.Tags) > 0 || l.WhoMade != "" {
		raw.Attributes = map[string]string{}
		if l.WhoMade != "" {
			raw.Attributes["who_made"] = l.WhoMade
		}
		if l.WhenMade != "" {
			raw.Attributes["when_made"] = l.WhenMade
		}
		for i, t := range l.Tags {
			raw.Attributes["tag_"+strconv.Itoa(i)] = t
		}
	}
	return raw
}

type listingsResponse struct {
	Count         int64     `json:"count"`
	Results       []listing `json:"results"`
	NextPageToken string    `json:"next_page_token"`
}

type imagesResponse struct {
	Results []struct {
		URL  string `json:"url_fullxfull"`
		Rank int    `json:"rank"`
	} `json:"results"`
}

func (a *Adapter) shopPath(suffix string) string {
	return "/application/shops/" + url.PathEscape(a.shopID) + suffix
}

func listingPath(id string, suffix string) string {
	return "/application/listings/" + url.PathEscape(id) + suffix
}

// listings обходит активные листинги магазина по токену следующей страницы
func (a *Adapter) listings(ctx context.Context) iter.Seq2[listing, error] {
	return func(yield func(listing, error) bool) {
		token := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(listing{}, err)
				return
			}
			q := url.Values{}
			q.Set("state", "active")
			q.Set("limit", strconv.Itoa(a.pageSize))
			if token != "" {
				q.Set("page_token", token)
			}
			var resp listingsResponse
			if err := a.client.DoJSON(ctx, "list", http.MethodGet, a.shopPath("/listings"), q, nil, &resp); err != nil {
				yield(listing{}, err)
				return
			}
			for _, l := range resp.Results {
				if !yield(l, nil) {
					return
				}
			}
			if resp.NextPageToken == "" || resp.NextPageToken == token || len(resp.Results) == 0 {
				return
			}
			token = resp.NextPageToken
		}
	}
}

func (a *Adapter) images(ctx context.Context, listingID string) ([]string, error) {
	var resp imagesResponse
	if err := a.client.DoJSON(ctx, "images", http.MethodGet, listingPath(listingID, "/images"), nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Results))
	for _, img := range resp.Results {
		out = append(out, img.URL)
	}
	return out, nil
}

func (a *Adapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	raws := func(yield func(models.RawListing, error) bool) {
		for l, err := range a.listings(ctx) {
			if err != nil {
				yield(models.RawListing{}, err)
				return
			}
			raw := l.raw()
			if includeFull {
				imgs, err := a.images(ctx, raw.ItemID)
				if err != nil && !apperrors.IsNotFound(err) {
					yield(models.RawListing{}, err)
					return
				}
				raw.Images = imgs
			}
			if !yield(raw, nil) {
				return
			}
		}
	}
	return marketplace.Normalized(tag, includeFull, raws)
}

// find ищет листинг по sku. У Etsy нет поиска по sku, поэтому список просматривается целиком.
func (a *Adapter) find(ctx context.Context, stockCode string) (listing, error) {
	for l, err := range a.listings(ctx) {
		if err != nil {
			return listing{}, err
		}
		if l.sku() == stockCode {
			return l, nil
		}
	}
	return listing{}, apperrors.Newf(apperrors.KindNotFound, string(tag), "get", "sku %s", stockCode)
}

func (a *Adapter) GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error) {
	l, err := a.find(ctx, stockCode)
	if err != nil {
		return models.CatalogRecord{}, err
	}
	raw := l.raw()
	if imgs, err := a.images(ctx, raw.ItemID); err == nil {
		raw.Images = imgs
	}
	return models.Normalize(tag, raw, true)
}

type offering struct {
	OfferingID int64       `json:"offering_id,omitempty"`
	Price      interface{} `json:"price"`
	Quantity   int         `json:"quantity"`
	IsEnabled  bool        `json:"is_enabled"`
}

type inventoryProduct struct {
	ProductID      int64         `json:"product_id,omitempty"`
	SKU            string        `json:"sku"`
	PropertyValues []interface{} `json:"property_values"`
	Offerings      []offering    `json:"offerings"`
}

type inventory struct {
	Products           []inventoryProduct `json:"products"`
	PriceOnProperty    []int64            `json:"price_on_property"`
	QuantityOnProperty []int64            `json:"quantity_on_property"`
	SKUOnProperty      []int64            `json:"sku_on_property"`
}

// offeringPrice приводит цену предложения из ответа (объект money) к числу для запроса
func offeringPrice(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	amount, _ := m["amount"].(float64)
	divisor, _ := m["divisor"].(float64)
	if divisor <= 0 {
		return v
	}
	f, _ := decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(divisor)).Round(2).Float64()
	return f
}

func (a *Adapter) resolveID(ctx context.Context, stockCode, itemID string) (string, error) {
	if itemID != "" {
		return itemID, nil
	}
	l, err := a.find(ctx, stockCode)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(l.ListingID, 10), nil
}

// updateInventory читает инвентарь листинга, меняет предложения и записывает обратно
func (a *Adapter) updateInventory(ctx context.Context, it models.StockPriceItem) error {
	id, err := a.resolveID(ctx, it.StockCode, it.ItemID)
	if err != nil {
		return err
	}
	var inv inventory
	if err := a.client.DoJSON(ctx, "update", http.MethodGet, listingPath(id, "/inventory"), nil, nil, &inv); err != nil {
		return err
	}
	var price interface{}
	if it.SalePrice.Valid {
		f, _ := it.SalePrice.Decimal.Round(2).Float64()
		price = f
	}
	for i := range inv.Products {
		p := &inv.Products[i]
		// Вариации с другим sku не трогаем
		if p.SKU != "" && p.SKU != it.StockCode && len(inv.Products) > 1 {
			continue
		}
		if p.SKU == "" {
			p.SKU = it.StockCode
		}
		for j := range p.Offerings {
			o := &p.Offerings[j]
			o.OfferingID = 0
			o.Price = offeringPrice(o.Price)
			if price != nil {
				o.Price = price
			}
			if it.Quantity != nil {
				o.Quantity = *it.Quantity
			}
		}
		p.ProductID = 0
		if p.PropertyValues == nil {
			p.PropertyValues = []interface{}{}
		}
	}
	return a.client.DoJSON(ctx, "update", http.MethodPut, listingPath(id, "/inventory"), nil, inv, nil)
}

// SubmitStockPrice Etsy не поддерживает пакетные обновления и цену до скидки:
// list price пропускается, остальные поля пишутся по одному листингу
func (a *Adapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	res := &models.SubmitResult{}
	for _, it := range items {
		if it.Quantity == nil && !it.SalePrice.Valid {
			res.Items = append(res.Items, marketplace.FailedItem(it.StockCode,
				apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "update", "list price is not supported")))
			continue
		}
		err := a.updateInventory(ctx, it)
		switch apperrors.KindOf(err) {
		case apperrors.KindAuth, apperrors.KindCancelled, apperrors.KindTimeout:
			return nil, err
		}
		if err != nil {
			res.Items = append(res.Items, marketplace.FailedItem(it.StockCode, err))
			continue
		}
		res.Items = append(res.Items, models.ItemResult{StockCode: it.StockCode, Status: models.ItemSucceeded})
	}
	return res, nil
}

func (a *Adapter) PollJob(_ context.Context, job models.BatchJob) (models.BatchJob, error) {
	return job, marketplace.Unsupported(tag, "poll")
}

type createListing struct {
	Quantity    int      `json:"quantity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	WhoMade     string   `json:"who_made"`
	WhenMade    string   `json:"when_made"`
	TaxonomyID  int64    `json:"taxonomy_id"`
	Tags        []string `json:"tags,omitempty"`
	State       string   `json:"state"`
}

// SubmitCreate создает черновик листинга, sku и остаток записываются в его инвентарь
func (a *Adapter) SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	rec := draft.Record
	fail := func(err error) (*models.SubmitResult, error) {
		if apperrors.IsTransient(err) || apperrors.IsAuth(err) {
			return nil, err
		}
		return models.SyncResult(marketplace.FailedItem(rec.StockCode, err)), nil
	}

	taxonomyID, err := strconv.ParseInt(draft.Category.ID, 10, 64)
	if err != nil {
		return fail(apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "create", "taxonomy id %q: %v", draft.Category.ID, err))
	}
	price := rec.SalePrice
	if !price.Valid {
		price = rec.ListPrice
	}
	if !price.Valid {
		return fail(apperrors.Newf(apperrors.KindMalformedRequest, string(tag), "create", "listing requires a price"))
	}
	p, _ := price.Decimal.Round(2).Float64()

	body := createListing{
		Quantity:    rec.Quantity,
		Title:       rec.Title,
		Description: rec.Description,
		Price:       p,
		WhoMade:     attr(draft.Category.Attributes, "who_made", "i_did"),
		WhenMade:    attr(draft.Category.Attributes, "when_made", "made_to_order"),
		TaxonomyID:  taxonomyID,
		State:       "draft",
	}
	var created listing
	if err := a.client.DoJSON(ctx, "create", http.MethodPost, a.shopPath("/listings"), nil, body, &created); err != nil {
		return fail(err)
	}

	q := rec.Quantity
	err = a.updateInventory(ctx, models.StockPriceItem{
		StockCode: rec.StockCode,
		ItemID:    strconv.FormatInt(created.ListingID, 10),
		Quantity:  &q,
		SalePrice: price,
	})
	if err != nil {
		return fail(err)
	}
	return models.SyncResult(marketplace.SucceededItems(rec.StockCode)...), nil
}

func attr(attrs map[string]string, key, def string) string {
	if v := attrs[key]; v != "" {
		return v
	}
	return def
}

func (a *Adapter) Delete(ctx context.Context, stockCodes []string) (*models.SubmitResult, error) {
	res := &models.SubmitResult{}
	for _, sc := range stockCodes {
		id, err := a.resolveID(ctx, sc, "")
		if err == nil {
			err = a.client.DoJSON(ctx, "delete", http.MethodDelete, listingPath(id, ""), nil, nil, nil)
		}
		switch apperrors.KindOf(err) {
		case apperrors.KindAuth, apperrors.KindCancelled, apperrors.KindTimeout:
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
