package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/joho/godotenv"
)

// TrendyolCredentials basic auth поставщика Trendyol
type TrendyolCredentials struct {
	SupplierID string
	APIKey     string
	APISecret  string
}

// HepsiburadaCredentials basic auth мерчанта Hepsiburada
type HepsiburadaCredentials struct {
	MerchantID string
	Username   string
	Password   string
}

// CiceksepetiCredentials ключ API Çiçeksepeti
type CiceksepetiCredentials struct {
	APIKey string
}

// SOAPCredentials логин для WS-Security UsernameToken (N11, PttAVM)
type SOAPCredentials struct {
	Username string
	Password string
}

// EtsyCredentials ключи OAuth1. Access token можно получить утилитой oauth1-setup
// или передать request token с verifier, тогда адаптер обменяет их при старте.
type EtsyCredentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	RequestToken   string
	RequestSecret  string
	Verifier       string
	ShopID         string
}

// AmazonCredentials OAuth2 client credentials
type AmazonCredentials struct {
	ClientID     string
	ClientSecret string
	SellerID     string
	Scopes       []string
}

// Credentials учетные данные всех маркетплейсов. Загружаются один раз при старте
// и передаются в конструкторы адаптеров явно.
type Credentials struct {
	Trendyol    TrendyolCredentials
	Hepsiburada HepsiburadaCredentials
	Ciceksepeti CiceksepetiCredentials
	N11         SOAPCredentials
	PttAVM      SOAPCredentials
	Etsy        EtsyCredentials
	Amazon      AmazonCredentials
}

// LoadCredentials читает переменные окружения, предварительно подгрузив .env, если он есть
func LoadCredentials(envFiles ...string) Credentials {
	// Отсутствие .env не ошибка: переменные могут прийти из окружения
	_ = godotenv.Load(envFiles...)
	return CredentialsFromEnv(os.Getenv)
}

// CredentialsFromEnv собирает учетные данные через функцию чтения переменных
func CredentialsFromEnv(getenv func(string) string) Credentials {
	var scopes []string
	if raw := getenv("AMAZON_SCOPES"); raw != "" {
		scopes = strings.Split(raw, ",")
	}
	return Credentials{
		Trendyol: TrendyolCredentials{
			SupplierID: getenv("TRENDYOL_SUPPLIER_ID"),
			APIKey:     getenv("TRENDYOL_API_KEY"),
			APISecret:  getenv("TRENDYOL_API_SECRET"),
		},
		Hepsiburada: HepsiburadaCredentials{
			MerchantID: getenv("HEPSIBURADA_MERCHANT_ID"),
			Username:   getenv("HEPSIBURADA_USERNAME"),
			Password:   getenv("HEPSIBURADA_PASSWORD"),
		},
		Ciceksepeti: CiceksepetiCredentials{
			APIKey: getenv("CICEKSEPETI_API_KEY"),
		},
		N11: SOAPCredentials{
			Username: getenv("N11_APP_KEY"),
			Password: getenv("N11_APP_SECRET"),
		},
		PttAVM: SOAPCredentials{
			Username: getenv("PTTAVM_USERNAME"),
			Password: getenv("PTTAVM_PASSWORD"),
		},
		Etsy: EtsyCredentials{
			ConsumerKey:    getenv("ETSY_CONSUMER_KEY"),
			ConsumerSecret: getenv("ETSY_CONSUMER_SECRET"),
			AccessToken:    getenv("ETSY_ACCESS_TOKEN"),
			AccessSecret:   getenv("ETSY_ACCESS_SECRET"),
			RequestToken:   getenv("ETSY_REQUEST_TOKEN"),
			RequestSecret:  getenv("ETSY_REQUEST_SECRET"),
			Verifier:       getenv("ETSY_VERIFIER"),
			ShopID:         getenv("ETSY_SHOP_ID"),
		},
		Amazon: AmazonCredentials{
			ClientID:     getenv("AMAZON_CLIENT_ID"),
			ClientSecret: getenv("AMAZON_CLIENT_SECRET"),
			SellerID:     getenv("AMAZON_SELLER_ID"),
			Scopes:       scopes,
		},
	}
}

// Missing возвращает имена незаданных переменных для маркетплейса
func (c Credentials) Missing(m models.Marketplace) []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	switch m {
	case models.Trendyol:
		check("TRENDYOL_SUPPLIER_ID", c.Trendyol.SupplierID)
		check("TRENDYOL_API_KEY", c.Trendyol.APIKey)
		check("TRENDYOL_API_SECRET", c.Trendyol.APISecret)
	case models.Hepsiburada:
		check("HEPSIBURADA_MERCHANT_ID", c.Hepsiburada.MerchantID)
		check("HEPSIBURADA_USERNAME", c.Hepsiburada.Username)
		check("HEPSIBURADA_PASSWORD", c.Hepsiburada.Password)
	case models.Ciceksepeti:
		check("CICEKSEPETI_API_KEY", c.Ciceksepeti.APIKey)
	case models.N11:
		check("N11_APP_KEY", c.N11.Username)
		check("N11_APP_SECRET", c.N11.Password)
	case models.PttAVM:
		check("PTTAVM_USERNAME", c.PttAVM.Username)
		check("PTTAVM_PASSWORD", c.PttAVM.Password)
	case models.Etsy:
		check("ETSY_CONSUMER_KEY", c.Etsy.ConsumerKey)
		check("ETSY_CONSUMER_SECRET", c.Etsy.ConsumerSecret)
		check("ETSY_SHOP_ID", c.Etsy.ShopID)
		if c.Etsy.AccessToken == "" && (c.Etsy.RequestToken == "" || c.Etsy.Verifier == "") {
			missing = append(missing, "ETSY_ACCESS_TOKEN")
		} else if c.Etsy.AccessToken != "" {
			check("ETSY_ACCESS_SECRET", c.Etsy.AccessSecret)
		}
	case models.Amazon:
		check("AMAZON_CLIENT_ID", c.Amazon.ClientID)
		check("AMAZON_CLIENT_SECRET", c.Amazon.ClientSecret)
		check("AMAZON_SELLER_ID", c.Amazon.SellerID)
	default:
		missing = append(missing, fmt.Sprintf("unknown marketplace %s", m))
	}
	return missing
}
