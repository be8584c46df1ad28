// Package transport содержит общий HTTP клиент адаптеров маркетплейсов:
// ограничение частоты, таймауты, повторы с экспоненциальной задержкой,
// схемы аутентификации и классификацию ответов в виды ошибок.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/athebyme/gomarket-sync/internal/metrics"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 4
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
	maxRetryAfter      = time.Minute
	maxErrorBody       = 512
)

// Classifier переводит ответ маркетплейса в ошибку. Возвращает nil, если ответ
// нужно обработать стандартными правилами по HTTP статусу.
type Classifier func(resp *Response) *apperrors.Error

// Config настройки клиента одного маркетплейса
type Config struct {
	Marketplace string
	BaseURL     string
	Timeout     time.Duration
	RPS         float64
	Burst       int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	UserAgent   string
	// HTTPClient базовый клиент; для OAuth1 это подписывающий клиент
	HTTPClient *http.Client
	Auth       Authenticator
	Classifier Classifier
	Logger     interfaces.LoggerPort
}

// Client HTTP клиент с лимитом частоты и повторами временных ошибок
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// Request описание запроса. Тело хранится целиком, чтобы его можно было отправить повторно.
type Request struct {
	Op          string
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string
}

// Response ответ маркетплейса с прочитанным телом
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewClient создает клиент
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gomarket-sync/1.0"
	}
	if cfg.Auth == nil {
		cfg.Auth = NoAuth{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		sleep:   sleepCtx,
	}
}

// Marketplace тег маркетплейса клиента
func (c *Client) Marketplace() string {
	return c.cfg.Marketplace
}

// BaseURL базовый адрес API
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do выполняет запрос с повторами. Возвращает ответ только для успешных статусов.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var lastErr *apperrors.Error
	authRetried := false

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		resp, err := c.once(ctx, req)
		if err == nil {
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.wrapCtx(req.Op, ctxErr)
		}

		lastErr = err
		switch err.Kind {
		case apperrors.KindAuth:
			// Токен мог истечь раньше срока: сбрасываем его и пробуем один раз
			if authRetried || !c.cfg.Auth.Invalidate() {
				return nil, err
			}
			authRetried = true
			attempt--
			metrics.HTTPRetries.WithLabelValues(c.cfg.Marketplace, string(err.Kind)).Inc()
			continue
		case apperrors.KindTransient:
		default:
			return nil, err
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		if resp != nil {
			if ra, ok := retryAfter(resp.Header); ok {
				delay = max(delay, ra)
			}
		}

		metrics.HTTPRetries.WithLabelValues(c.cfg.Marketplace, string(err.Kind)).Inc()
		if c.cfg.Logger != nil {
			c.cfg.Logger.Debug("Повтор запроса после временной ошибки",
				interfaces.LogField{Key: "op", Value: req.Op},
				interfaces.LogField{Key: "attempt", Value: attempt},
				interfaces.LogField{Key: "delay", Value: delay.String()},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}

		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, c.wrapCtx(req.Op, serr)
		}
	}

	lastErr.Err = fmt.Errorf("retries exhausted after %d attempts: %w", c.cfg.MaxAttempts, lastErr.Err)
	return nil, lastErr
}

func (c *Client) wrapCtx(op string, err error) error {
	kind := apperrors.KindCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = apperrors.KindTimeout
	}
	return apperrors.New(kind, c.cfg.Marketplace, op, err)
}

// backoff задержка перед повтором: base * 2^(attempt-1), не больше BackoffMax
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if d > float64(c.cfg.BackoffMax) {
		return c.cfg.BackoffMax
	}
	return time.Duration(d)
}

func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	} else {
		return 0, false
	}
	if d < 0 {
		d = 0
	}
	return min(d, maxRetryAfter), true
}

// once выполняет одну попытку. При ошибке ответ возвращается, если он был получен.
func (c *Client) once(ctx context.Context, req Request) (*Response, *apperrors.Error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.New(apperrors.KindCancelled, c.cfg.Marketplace, req.Op, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := c.build(reqCtx, req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindMalformedRequest, c.cfg.Marketplace, req.Op, err)
	}
	if err := c.cfg.Auth.Apply(reqCtx, httpReq); err != nil {
		return nil, apperrors.New(apperrors.KindAuth, c.cfg.Marketplace, req.Op, err)
	}

	started := time.Now()
	httpResp, err := c.http.Do(httpReq)
	metrics.HTTPDuration.WithLabelValues(c.cfg.Marketplace, req.Op).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransient, c.cfg.Marketplace, req.Op, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransient, c.cfg.Marketplace, req.Op, fmt.Errorf("read body: %w", err))
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	if e := c.classify(req.Op, resp); e != nil {
		return resp, e
	}
	return resp, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		if u, err = url.Parse(req.Path); err != nil {
			return nil, err
		}
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	return httpReq, nil
}

func (c *Client) classify(op string, resp *Response) *apperrors.Error {
	if c.cfg.Classifier != nil {
		if e := c.cfg.Classifier(resp); e != nil {
			if e.Marketplace == "" {
				e.Marketplace = c.cfg.Marketplace
			}
			if e.Op == "" {
				e.Op = op
			}
			if e.StatusCode == 0 {
				e.StatusCode = resp.StatusCode
			}
			return e
		}
	}
	if resp.StatusCode < 400 {
		return nil
	}
	e := apperrors.New(KindForStatus(resp.StatusCode), c.cfg.Marketplace, op, errors.New(snippet(resp.Body)))
	e.StatusCode = resp.StatusCode
	return e
}

// KindForStatus стандартное соответствие HTTP статуса виду ошибки
func KindForStatus(status int) apperrors.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.KindAuth
	case status == http.StatusNotFound:
		return apperrors.KindNotFound
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return apperrors.KindTransient
	case status >= 400:
		return apperrors.KindMalformedRequest
	}
	return apperrors.KindUnknown
}

// CodeTable соответствие структурированных кодов ошибок маркетплейса видам ошибок
type CodeTable map[string]apperrors.Kind

// Lookup возвращает вид ошибки по коду
func (t CodeTable) Lookup(code string) (apperrors.Kind, bool) {
	k, ok := t[strings.TrimSpace(code)]
	return k, ok
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response body"
	}
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

// DoJSON отправляет JSON и разбирает JSON ответ в out (если out не nil)
func (c *Client) DoJSON(ctx context.Context, op, method, path string, query url.Values, in, out interface{}) error {
	req := Request{Op: op, Method: method, Path: path, Query: query}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return apperrors.New(apperrors.KindMalformedRequest, c.cfg.Marketplace, op, fmt.Errorf("marshal request: %w", err))
		}
		req.Body = body
		req.ContentType = "application/json"
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperrors.New(apperrors.KindMalformedRequest, c.cfg.Marketplace, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
