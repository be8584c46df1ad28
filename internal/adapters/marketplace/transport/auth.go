package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dghubble/oauth1"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator добавляет в запрос учетные данные маркетплейса
type Authenticator interface {
	// Apply подписывает запрос
	Apply(ctx context.Context, req *http.Request) error
	// Invalidate сбрасывает закэшированный токен. Возвращает false, если
	// сбрасывать нечего и повтор запроса ничего не изменит.
	Invalidate() bool
}

// NoAuth запросы без аутентификации, а также для клиентов, подписывающих запросы сами (OAuth1)
type NoAuth struct{}

func (NoAuth) Apply(context.Context, *http.Request) error { return nil }
func (NoAuth) Invalidate() bool                          { return false }

// BasicAuth HTTP basic аутентификация
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

func (BasicAuth) Invalidate() bool { return false }

// HeaderAuth статический ключ в заголовке (x-api-key, Bearer)
type HeaderAuth struct {
	Header string
	Prefix string
	Value  string
}

// BearerToken статический bearer токен
func BearerToken(token string) HeaderAuth {
	return HeaderAuth{Header: "Authorization", Prefix: "Bearer ", Value: token}
}

// APIKey ключ в произвольном заголовке
func APIKey(header, key string) HeaderAuth {
	return HeaderAuth{Header: header, Value: key}
}

func (a HeaderAuth) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set(a.Header, a.Prefix+a.Value)
	return nil
}

func (HeaderAuth) Invalidate() bool { return false }

// Chain применяет несколько схем по очереди
type Chain []Authenticator

func (c Chain) Apply(ctx context.Context, req *http.Request) error {
	for _, a := range c {
		if err := a.Apply(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) Invalidate() bool {
	reset := false
	for _, a := range c {
		if a.Invalidate() {
			reset = true
		}
	}
	return reset
}

const tokenCacheKey = "access_token"

// OAuth2ClientCredentials токен OAuth2 client credentials с кэшем и обновлением
// под мьютексом: читают многие, обновляет один.
type OAuth2ClientCredentials struct {
	config *clientcredentials.Config
	header string
	prefix string
	skew   time.Duration
	// base клиент для запроса токена
	base *http.Client

	mu    sync.Mutex
	cache *gocache.Cache
}

// OAuth2Options параметры OAuth2 аутентификации
type OAuth2Options struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// Header заголовок для токена, по умолчанию Authorization
	Header string
	// Prefix префикс значения, по умолчанию "Bearer "
	Prefix     string
	HTTPClient *http.Client
}

// NewOAuth2ClientCredentials создает аутентификатор
func NewOAuth2ClientCredentials(opts OAuth2Options) *OAuth2ClientCredentials {
	header, prefix := opts.Header, opts.Prefix
	if header == "" {
		header = "Authorization"
		if prefix == "" {
			prefix = "Bearer "
		}
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuth2ClientCredentials{
		config: &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		header: header,
		prefix: prefix,
		skew:   time.Minute,
		base:   base,
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// Token возвращает действующий токен, при необходимости запрашивая новый
func (a *OAuth2ClientCredentials) Token(ctx context.Context) (string, error) {
	if tok, ok := a.cache.Get(tokenCacheKey); ok {
		return tok.(string), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Другая горутина могла обновить токен, пока мы ждали мьютекс
	if tok, ok := a.cache.Get(tokenCacheKey); ok {
		return tok.(string), nil
	}

	tctx := context.WithValue(ctx, oauth2.HTTPClient, a.base)
	token, err := a.config.Token(tctx)
	if err != nil {
		return "", fmt.Errorf("oauth2 token refresh: %w", err)
	}

	ttl := gocache.NoExpiration
	if !token.Expiry.IsZero() {
		ttl = time.Until(token.Expiry) - a.skew
		if ttl <= 0 {
			ttl = time.Second
		}
	}
	a.cache.Set(tokenCacheKey, token.AccessToken, ttl)
	return token.AccessToken, nil
}

func (a *OAuth2ClientCredentials) Apply(ctx context.Context, req *http.Request) error {
	tok, err := a.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set(a.header, a.prefix+tok)
	return nil
}

func (a *OAuth2ClientCredentials) Invalidate() bool {
	a.cache.Delete(tokenCacheKey)
	return true
}

// OAuth1Options ключи OAuth1 приложения и пользователя
type OAuth1Options struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	// Endpoint нужен только для обмена verifier и трехногого потока
	Endpoint    oauth1.Endpoint
	CallbackURL string
	// HTTPClient базовый клиент подписанных запросов
	HTTPClient *http.Client
}

func (o OAuth1Options) config() *oauth1.Config {
	cfg := oauth1.NewConfig(o.ConsumerKey, o.ConsumerSecret)
	cfg.Endpoint = o.Endpoint
	cfg.CallbackURL = o.CallbackURL
	return cfg
}

// NewOAuth1HTTPClient возвращает клиент, подписывающий каждый запрос
func NewOAuth1HTTPClient(ctx context.Context, opts OAuth1Options) *http.Client {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	ctx = context.WithValue(ctx, oauth1.HTTPClient, base)
	return opts.config().Client(ctx, oauth1.NewToken(opts.Token, opts.TokenSecret))
}

// ExchangeVerifier меняет request token и verifier на access token.
// Verifier получают заранее утилитой настройки, адаптер только завершает обмен.
func ExchangeVerifier(ctx context.Context, opts OAuth1Options, requestToken, requestSecret, verifier string) (token, secret string, err error) {
	cfg := opts.config()
	token, secret, err = cfg.AccessToken(requestToken, requestSecret, verifier)
	if err != nil {
		return "", "", fmt.Errorf("oauth1 verifier exchange: %w", err)
	}
	return token, secret, nil
}

// RequestAuthorization первый шаг трехногого потока: request token и адрес авторизации
func RequestAuthorization(opts OAuth1Options) (requestToken, requestSecret, authURL string, err error) {
	cfg := opts.config()
	requestToken, requestSecret, err = cfg.RequestToken()
	if err != nil {
		return "", "", "", fmt.Errorf("oauth1 request token: %w", err)
	}
	u, err := cfg.AuthorizationURL(requestToken)
	if err != nil {
		return "", "", "", fmt.Errorf("oauth1 authorization url: %w", err)
	}
	return requestToken, requestSecret, u.String(), nil
}
