package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
)

const (
	soapEnvNS = "http://schemas.xmlsoap.org/soap/envelope/"
	wsseNS    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wsuNS     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	pwdText   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
)

type envelope struct {
	XMLName xml.Name    `xml:"soapenv:Envelope"`
	SoapEnv string      `xml:"xmlns:soapenv,attr"`
	NS      string      `xml:"xmlns:sch,attr,omitempty"`
	Header  *soapHeader `xml:"soapenv:Header,omitempty"`
	Body    soapBody    `xml:"soapenv:Body"`
}

type soapHeader struct {
	Security *wsSecurity `xml:"wsse:Security,omitempty"`
}

type wsSecurity struct {
	WSSE           string        `xml:"xmlns:wsse,attr"`
	WSU            string        `xml:"xmlns:wsu,attr"`
	MustUnderstand string        `xml:"soapenv:mustUnderstand,attr"`
	Token          usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string       `xml:"wsse:Username"`
	Password wssePassword `xml:"wsse:Password"`
	Nonce    string       `xml:"wsse:Nonce"`
	Created  string       `xml:"wsu:Created"`
}

type wssePassword struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type soapBody struct {
	Content interface{}
}

type responseEnvelope struct {
	Body struct {
		Fault   *Fault `xml:"Fault"`
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Fault SOAP Fault ответа
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		// ErrorCode структурированный код ошибки из detail, если маркетплейс его передает
		ErrorCode string `xml:"errorCode"`
	} `xml:"detail"`
}

// SOAPConfig параметры SOAP клиента
type SOAPConfig struct {
	Username string
	Password string
	// Namespace пространство имен операций (префикс sch)
	Namespace string
	// Path путь сервиса относительно BaseURL
	Path string
	// Faults соответствие кодов SOAP Fault видам ошибок
	Faults CodeTable
}

// SOAPClient вызывает операции SOAP сервиса с заголовком WS-Security UsernameToken
type SOAPClient struct {
	client *Client
	cfg    SOAPConfig
	now    func() time.Time
}

// NewSOAPClient создает SOAP клиент поверх транспорта. Классификатор Fault
// подключается к транспорту, чтобы Fault с HTTP 500 не повторялись как временные.
func NewSOAPClient(cfg Config, soap SOAPConfig) *SOAPClient {
	inner := cfg.Classifier
	cfg.Classifier = func(resp *Response) *apperrors.Error {
		if e := classifyFault(resp, soap.Faults); e != nil {
			return e
		}
		if inner != nil {
			return inner(resp)
		}
		return nil
	}
	return &SOAPClient{client: NewClient(cfg), cfg: soap, now: time.Now}
}

// Marketplace тег маркетплейса
func (s *SOAPClient) Marketplace() string {
	return s.client.Marketplace()
}

// WithPath клиент другого сервиса того же маркетплейса с общим лимитом частоты
func (s *SOAPClient) WithPath(path string) *SOAPClient {
	cp := *s
	cp.cfg.Path = path
	return &cp
}

func classifyFault(resp *Response, table CodeTable) *apperrors.Error {
	if !bytes.Contains(resp.Body, []byte("Fault")) {
		return nil
	}
	var env responseEnvelope
	if err := xml.Unmarshal(resp.Body, &env); err != nil || env.Body.Fault == nil {
		return nil
	}
	f := env.Body.Fault

	code := strings.TrimSpace(f.Detail.ErrorCode)
	if code == "" {
		code = localName(f.Code)
	}
	kind, ok := table.Lookup(code)
	if !ok {
		kind = faultKind(f.Code)
	}
	e := apperrors.New(kind, "", "", errors.New(strings.TrimSpace(f.String)))
	e.Code = code
	return e
}

// faultKind стандартные коды SOAP 1.1: Client значит ошибку запроса, Server временную
func faultKind(code string) apperrors.Kind {
	switch strings.ToLower(localName(code)) {
	case "client":
		return apperrors.KindMalformedRequest
	case "failedauthentication", "invalidsecurity", "invalidsecuritytoken":
		return apperrors.KindAuth
	default:
		return apperrors.KindTransient
	}
}

func localName(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (s *SOAPClient) security() (*wsSecurity, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &wsSecurity{
		WSSE:           wsseNS,
		WSU:            wsuNS,
		MustUnderstand: "1",
		Token: usernameToken{
			Username: s.cfg.Username,
			Password: wssePassword{Type: pwdText, Value: s.cfg.Password},
			Nonce:    base64.StdEncoding.EncodeToString(nonce),
			Created:  s.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Call отправляет запрос req (структура с XMLName вида "sch:Operation") и
// разбирает содержимое Body ответа в out
func (s *SOAPClient) Call(ctx context.Context, op, action string, req, out interface{}) error {
	sec, err := s.security()
	if err != nil {
		return apperrors.New(apperrors.KindMalformedRequest, s.Marketplace(), op, err)
	}
	env := envelope{
		SoapEnv: soapEnvNS,
		NS:      s.cfg.Namespace,
		Header:  &soapHeader{Security: sec},
		Body:    soapBody{Content: req},
	}
	payload, err := xml.Marshal(env)
	if err != nil {
		return apperrors.New(apperrors.KindMalformedRequest, s.Marketplace(), op, fmt.Errorf("marshal envelope: %w", err))
	}

	header := http.Header{}
	header.Set("SOAPAction", action)
	header.Set("Accept", "text/xml")
	resp, err := s.client.Do(ctx, Request{
		Op:          op,
		Method:      http.MethodPost,
		Path:        s.cfg.Path,
		Header:      header,
		Body:        append([]byte(xml.Header), payload...),
		ContentType: "text/xml; charset=utf-8",
	})
	if err != nil {
		return err
	}

	var renv responseEnvelope
	if err := xml.Unmarshal(resp.Body, &renv); err != nil {
		return apperrors.New(apperrors.KindMalformedRequest, s.Marketplace(), op, fmt.Errorf("decode envelope: %w", err))
	}
	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(renv.Body.Content, out); err != nil {
		return apperrors.New(apperrors.KindMalformedRequest, s.Marketplace(), op, fmt.Errorf("decode body: %w", err))
	}
	return nil
}
