// Package amazon адаптер Amazon Selling Partner API. Каталог читается отчетом
// GET_MERCHANT_LISTINGS_ALL_DATA, изменения уходят фидами JSON_LISTINGS_FEED.
package amazon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

const tag = models.Amazon

var errorCodes = transport.CodeTable{
	"QuotaExceeded":         apperrors.KindTransient,
	"InternalFailure":       apperrors.KindTransient,
	"ServiceUnavailable":    apperrors.KindTransient,
	"Unauthorized":          apperrors.KindAuth,
	"InvalidInput":          apperrors.KindMalformedRequest,
	"InvalidRequest":        apperrors.KindMalformedRequest,
	"NotFound":              apperrors.KindNotFound,
	"ResourceNotFound":      apperrors.KindNotFound,
	"RequestEntityTooLarge": apperrors.KindMalformedRequest,
}

type errorBody struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func classify(resp *transport.Response) *apperrors.Error {
	if resp.StatusCode < 400 {
		return nil
	}
	var body errorBody
	if json.Unmarshal(resp.Body, &body) != nil || len(body.Errors) == 0 {
		return nil
	}
	first := body.Errors[0]
	kind, ok := errorCodes.Lookup(first.Code)
	if !ok {
		return nil
	}
	e := apperrors.Newf(kind, "", "", "%s", first.Message)
	e.Code = first.Code
	return e
}

// Adapter адаптер Amazon
type Adapter struct {
	client *transport.Client
	// docs клиент для скачивания и загрузки документов по подписанным адресам без токена SP-API
	docs          *transport.Client
	sellerID      string
	marketplaceID string
	limits        marketplace.Limits
	logger        interfaces.LoggerPort

	reportInterval time.Duration
	reportBudget   time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// New создает адаптер
func New(_ context.Context, deps marketplace.Deps) (marketplace.Adapter, error) {
	creds := deps.Credentials.Amazon

	docsCfg := marketplace.TransportConfig(tag, deps)
	docsCfg.BaseURL = ""

	cfg := marketplace.TransportConfig(tag, deps)
	cfg.Classifier = classify
	cfg.Auth = transport.NewOAuth2ClientCredentials(transport.OAuth2Options{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     deps.Config.TokenURL,
		Scopes:       creds.Scopes,
		Header:       "x-amz-access-token",
	})

	return &Adapter{
		client:         transport.NewClient(cfg),
		docs:           transport.NewClient(docsCfg),
		sellerID:       creds.SellerID,
		marketplaceID:  deps.Config.MarketplaceID,
		limits:         marketplace.LimitsFrom(deps),
		logger:         deps.Logger,
		reportInterval: 5 * time.Second,
		reportBudget:   15 * time.Minute,
		sleep:          sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Adapter) Marketplace() models.Marketplace { return tag }

func (a *Adapter) Limits() marketplace.Limits { return a.limits }

type listingItem struct {
	SKU       string `json:"sku"`
	Summaries []struct {
		MarketplaceID string `json:"marketplaceId"`
		ASIN          string `json:"asin"`
		ProductType   string `json:"productType"`
		ItemName      string `json:"itemName"`
		MainImage     struct {
			Link string `json:"link"`
		} `json:"mainImage"`
	} `json:"summaries"`
	Attributes struct {
		PurchasableOffer []struct {
			Currency string `json:"currency"`
			OurPrice []struct {
				Schedule []struct {
					ValueWithTax json.Number `json:"value_with_tax"`
				} `json:"schedule"`
			} `json:"our_price"`
		} `json:"purchasable_offer"`
		ListPrice []struct {
			Currency     string      `json:"currency"`
			ValueWithTax json.Number `json:"value_with_tax"`
		} `json:"list_price"`
		ProductDescription []struct {
			Value string `json:"value"`
		} `json:"product_description"`
	} `json:"attributes"`
	FulfillmentAvailability []struct {
		FulfillmentChannelCode string  `json:"fulfillmentChannelCode"`
		Quantity               float64 `json:"quantity"`
	} `json:"fulfillmentAvailability"`
}

func (it listingItem) raw() models.RawListing {
	raw := models.RawListing{StockCode: it.SKU, ItemID: it.SKU}
	if len(it.Summaries) > 0 {
		s := it.Summaries[0]
		raw.Title = s.ItemName
		if s.ASIN != "" {
			raw.Attributes = map[string]string{"asin1": s.ASIN}
		}
		raw.CategoryID = s.ProductType
		if s.MainImage.Link != "" {
			raw.Images = []string{s.MainImage.Link}
		}
	}
	attrs := it.Attributes
	if len(attrs.PurchasableOffer) > 0 {
		offer := attrs.PurchasableOffer[0]
		raw.Currency = offer.Currency
		if len(offer.OurPrice) > 0 && len(offer.OurPrice[0].Schedule) > 0 {
			raw.SalePrice = offer.OurPrice[0].Schedule[0].ValueWithTax.String()
		}
	}
	if len(attrs.ListPrice) > 0 {
		raw.ListPrice = attrs.ListPrice[0].ValueWithTax.String()
		if raw.Currency == "" {
			raw.Currency = attrs.ListPrice[0].Currency
		}
	}
	if len(attrs.ProductDescription) > 0 {
		raw.Description = attrs.ProductDescription[0].Value
	}
	for _, fa := range it.FulfillmentAvailability {
		if fa.FulfillmentChannelCode == "DEFAULT" {
			raw.Quantity = fa.Quantity
		}
	}
	return raw
}

// GetOne читает листинг через Listings Items API
func (a *Adapter) GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error) {
	q := url.Values{}
	q.Set("marketplaceIds", a.marketplaceID)
	q.Set("includedData", "summaries,attributes,fulfillmentAvailability")
	path := "/listings/2021-08-01/items/" + url.PathEscape(a.sellerID) + "/" + url.PathEscape(stockCode)

	var item listingItem
	if err := a.client.DoJSON(ctx, "get", http.MethodGet, path, q, nil, &item); err != nil {
		return models.CatalogRecord{}, err
	}
	if item.SKU == "" {
		item.SKU = stockCode
	}
	return models.Normalize(tag, item.raw(), true)
}

// documentRef ссылка на документ отчета или фида
type documentRef struct {
	DocumentID           string `json:"reportDocumentId"`
	FeedDocumentID       string `json:"feedDocumentId"`
	URL                  string `json:"url"`
	CompressionAlgorithm string `json:"compressionAlgorithm"`
}

func (d documentRef) gzipped() bool {
	return strings.EqualFold(d.CompressionAlgorithm, "GZIP")
}

// processing статусы обработки отчетов и фидов
const (
	statusDone      = "DONE"
	statusCancelled = "CANCELLED"
	statusFatal     = "FATAL"
)
