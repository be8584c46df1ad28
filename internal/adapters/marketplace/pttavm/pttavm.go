// Package pttavm адаптер PttAVM: SOAP сервис, весь каталог одним ответом,
// синхронные обновления по одному товару.
package pttavm

import (
	"context"
	"encoding/xml"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

const (
	tag       = models.PttAVM
	namespace = "http://tempuri.org/"
	action    = "http://tempuri.org/IService/"
)

// hataKodlari коды HataKodu из ответов сервиса. Превышение лимита запросов
// в минуту приходит успешным HTTP ответом с кодом LIMIT_ASIMI.
var hataKodlari = transport.CodeTable{
	"LIMIT_ASIMI":        apperrors.KindTransient,
	"SERVIS_MESGUL":      apperrors.KindTransient,
	"YETKISIZ_ERISIM":    apperrors.KindAuth,
	"GECERSIZ_KULLANICI": apperrors.KindAuth,
	"URUN_BULUNAMADI":    apperrors.KindNotFound,
	"GECERSIZ_FIYAT":     apperrors.KindItemRejected,
	"GECERSIZ_STOK":      apperrors.KindItemRejected,
	"KATEGORI_HATALI":    apperrors.KindItemRejected,
}

type sonuc struct {
	Basarili string `xml:"Basarili"`
	HataKodu string `xml:"HataKodu"`
	Mesaj    string `xml:"Mesaj"`
}

func (s sonuc) failed() bool {
	return s.Basarili != "" && !strings.EqualFold(s.Basarili, "true")
}

func (s sonuc) err(op string) error {
	kind, known := hataKodlari.Lookup(s.HataKodu)
	if !known {
		kind = apperrors.KindMalformedRequest
	}
	e := apperrors.Newf(kind, string(tag), op, "%s", s.Mesaj)
	e.Code = s.HataKodu
	return e
}

func classify(resp *transport.Response) *apperrors.Error {
	if !strings.Contains(string(resp.Body), "HataKodu>") {
		return nil
	}
	var env struct {
		Body struct {
			Inner struct {
				Result struct {
					sonuc
				} `xml:",any"`
			} `xml:",any"`
		} `xml:"Body"`
	}
	if xml.Unmarshal(resp.Body, &env) != nil {
		return nil
	}
	s := env.Body.Inner.Result.sonuc
	if !s.failed() {
		return nil
	}
	if kind, known := hataKodlari.Lookup(s.HataKodu); known && kind == apperrors.KindTransient {
		e := apperrors.Newf(kind, "", "", "%s", s.Mesaj)
		e.Code = s.HataKodu
		return e
	}
	return nil
}

// Adapter адаптер PttAVM
type Adapter struct {
	soap   *transport.SOAPClient
	limits marketplace.Limits
	logger interfaces.LoggerPort
}

// New создает адаптер
func New(_ context.Context, deps marketplace.Deps) (marketplace.Adapter, error) {
	creds := deps.Credentials.PttAVM
	cfg := marketplace.TransportConfig(tag, deps)
	cfg.Classifier = classify
	return &Adapter{
		soap: transport.NewSOAPClient(cfg, transport.SOAPConfig{
			Username:  creds.Username,
			Password:  creds.Password,
			Namespace: namespace,
			Faults:    hataKodlari,
		}),
		limits: marketplace.LimitsFrom(deps),
		logger: deps.Logger,
	}, nil
}

func (a *Adapter) Marketplace() models.Marketplace { return tag }

func (a *Adapter) Limits() marketplace.Limits { return a.limits }

type urun struct {
	UrunID      string   `xml:"UrunId"`
	UrunKodu    string   `xml:"UrunKodu"`
	Barkod      string   `xml:"Barkod"`
	UrunAdi     string   `xml:"UrunAdi"`
	Aciklama    string   `xml:"Aciklama"`
	Miktar      string   `xml:"Miktar"`
	KdvliFiyat  string   `xml:"KDVli"`
	PiyasaFiyat string   `xml:"PiyasaFiyati"`
	KategoriID  string   `xml:"KategoriId"`
	KategoriAdi string   `xml:"KategoriAdi"`
	Resimler    []string `xml:"UrunResimleri>string"`
}

func (u urun) raw() (models.RawListing, error) {
	q, err := models.ParseQuantity(u.Miktar)
	if err != nil {
		return models.RawListing{}, err
	}
	raw := models.RawListing{
		StockCode:    u.UrunKodu,
		MainID:       u.Barkod,
		ItemID:       u.Barkod,
		Barcode:      u.Barkod,
		Title:        u.UrunAdi,
		Description:  u.Aciklama,
		Quantity:     q,
		SalePrice:    u.KdvliFiyat,
		ListPrice:    u.PiyasaFiyat,
		Currency:     models.DefaultCurrency(),
		CategoryID:   u.KategoriID,
		CategoryPath: u.KategoriAdi,
		Images:       u.Resimler,
	}
	if raw.ItemID == "" {
		raw.ItemID = u.UrunID
	}
	return raw, nil
}

type listRequest struct {
	XMLName xml.Name `xml:"sch:StokKontrolListesi"`
	Barkod  string   `xml:"sch:barkod,omitempty"`
}

type listResponse struct {
	Result struct {
		sonuc
		Urunler []urun `xml:"Urunler>StokKontrolDetay"`
	} `xml:"StokKontrolListesiResult"`
}

func (a *Adapter) list(ctx context.Context, op, barkod string) ([]urun, error) {
	var resp listResponse
	if err := a.soap.Call(ctx, op, action+"StokKontrolListesi", listRequest{Barkod: barkod}, &resp); err != nil {
		return nil, err
	}
	if resp.Result.failed() {
		return nil, resp.Result.err(op)
	}
	return resp.Result.Urunler, nil
}

// ListCatalog PttAVM отдает весь каталог одним ответом без постраничной разбивки
func (a *Adapter) ListCatalog(ctx context.Context, includeFull bool) iter.Seq2[models.CatalogRecord, error] {
	raws := func(yield func(models.RawListing, error) bool) {
		urunler, err := a.list(ctx, "list", "")
		if err != nil {
			yield(models.RawListing{}, err)
			return
		}
		for _, u := range urunler {
			raw, err := u.raw()
			if err != nil {
				// Неразборчивый остаток портит одну запись, а не весь список
				raw = models.RawListing{StockCode: u.UrunKodu, MainID: u.Barkod, Quantity: math.NaN()}
			}
			if !yield(raw, nil) {
				return
			}
		}
	}
	return marketplace.Normalized(tag, includeFull, raws)
}

func (a *Adapter) GetOne(ctx context.Context, stockCode string) (models.CatalogRecord, error) {
	urunler, err := a.list(ctx, "get", stockCode)
	if err != nil {
		return models.CatalogRecord{}, err
	}
	for _, u := range urunler {
		if u.UrunKodu == stockCode || (u.UrunKodu == "" && u.Barkod == stockCode) {
			raw, err := u.raw()
			if err != nil {
				return models.CatalogRecord{}, apperrors.New(apperrors.KindMalformedRequest, string(tag), "get", err)
			}
			return models.Normalize(tag, raw, true)
		}
	}
	return models.CatalogRecord{}, apperrors.Newf(apperrors.KindNotFound, string(tag), "get", "stock code %s", stockCode)
}

type updateRequest struct {
	XMLName     xml.Name `xml:"sch:StokFiyatGuncelle3"`
	Barkod      string   `xml:"sch:barkod"`
	Miktar      string   `xml:"sch:miktar,omitempty"`
	KdvliFiyat  string   `xml:"sch:kdvli,omitempty"`
	PiyasaFiyat string   `xml:"sch:piyasaFiyati,omitempty"`
}

type updateResponse struct {
	Result sonuc `xml:"StokFiyatGuncelle3Result"`
}

// SubmitStockPrice отправляет каждый элемент отдельным вызовом
func (a *Adapter) SubmitStockPrice(ctx context.Context, items []models.StockPriceItem) (*models.SubmitResult, error) {
	res := &models.SubmitResult{}
	for _, it := range items {
		barkod := it.ItemID
		if barkod == "" {
			barkod = it.StockCode
		}
		req := updateRequest{
			Barkod:      barkod,
			KdvliFiyat:  models.FormatPrice(it.SalePrice),
			PiyasaFiyat: models.FormatPrice(it.ListPrice),
		}
		if it.Quantity != nil {
			req.Miktar = strconv.Itoa(*it.Quantity)
		}

		var resp updateResponse
		err := a.soap.Call(ctx, "update", action+"StokFiyatGuncelle3", req, &resp)
		if err == nil && resp.Result.failed() {
			err = resp.Result.err("update")
		}
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

type createRequest struct {
	XMLName     xml.Name `xml:"sch:UrunEkle"`
	UrunKodu    string   `xml:"sch:urunKodu"`
	Barkod      string   `xml:"sch:barkod"`
	UrunAdi     string   `xml:"sch:urunAdi"`
	Aciklama    string   `xml:"sch:aciklama"`
	KategoriID  string   `xml:"sch:kategoriId"`
	Miktar      int      `xml:"sch:miktar"`
	KdvliFiyat  string   `xml:"sch:kdvli"`
	PiyasaFiyat string   `xml:"sch:piyasaFiyati,omitempty"`
	KDVOrani    string   `xml:"sch:kdvOrani"`
	Resimler    []string `xml:"sch:resimler>sch:string"`
}

type createResponse struct {
	Result sonuc `xml:"UrunEkleResult"`
}

func (a *Adapter) SubmitCreate(ctx context.Context, draft models.CreateDraft) (*models.SubmitResult, error) {
	rec := draft.Record
	barkod := rec.Barcode
	if barkod == "" {
		barkod = rec.StockCode
	}
	vat := draft.Category.Attributes["kdvOrani"]
	if vat == "" {
		vat = "20"
	}
	req := createRequest{
		UrunKodu:    rec.StockCode,
		Barkod:      barkod,
		UrunAdi:     rec.Title,
		Aciklama:    rec.Description,
		KategoriID:  draft.Category.ID,
		Miktar:      rec.Quantity,
		KdvliFiyat:  models.FormatPrice(rec.SalePrice),
		PiyasaFiyat: models.FormatPrice(rec.ListPrice),
		KDVOrani:    vat,
		Resimler:    rec.Images,
	}
	var resp createResponse
	err := a.soap.Call(ctx, "create", action+"UrunEkle", req, &resp)
	if err == nil && resp.Result.failed() {
		err = resp.Result.err("create")
	}
	if err != nil {
		if apperrors.IsTransient(err) || apperrors.IsAuth(err) {
			return nil, err
		}
		return models.SyncResult(marketplace.FailedItem(rec.StockCode, err)), nil
	}
	return models.SyncResult(marketplace.SucceededItems(rec.StockCode)...), nil
}

// Delete PttAVM не поддерживает удаление через API
func (a *Adapter) Delete(context.Context, []string) (*models.SubmitResult, error) {
	return nil, marketplace.Unsupported(tag, "delete")
}
