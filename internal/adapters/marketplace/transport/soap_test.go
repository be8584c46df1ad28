package transport

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRequest struct {
	XMLName xml.Name `xml:"sch:PingRequest"`
	Value   string   `xml:"value"`
}

type pingResponse struct {
	XMLName xml.Name `xml:"PingResponse"`
	Echo    string   `xml:"echo"`
}

const faultBody = `<?xml version="1.0"?>
<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/">
  <S:Body>
    <S:Fault>
      <faultcode>S:Server</faultcode>
      <faultstring>%s</faultstring>
      <detail><errorCode>%s</errorCode></detail>
    </S:Fault>
  </S:Body>
</S:Envelope>`

func newSOAP(url string, faults CodeTable) *SOAPClient {
	return NewSOAPClient(Config{
		Marketplace: "n11",
		BaseURL:     url,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}, SOAPConfig{Username: "key", Password: "secret", Namespace: "http://www.n11.com/ws/schemas", Path: "/ProductService", Faults: faults})
}

func TestSOAPClient_EnvelopeAndResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/ProductService", r.URL.Path)
		assert.Equal(t, "PingAction", r.Header.Get("SOAPAction"))
		assert.Contains(t, string(body), "<wsse:Username>key</wsse:Username>")
		assert.Contains(t, string(body), "PasswordText\">secret</wsse:Password>")
		assert.Contains(t, string(body), "<sch:PingRequest><value>hi</value></sch:PingRequest>")

		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/"><S:Body>` +
			`<ns3:PingResponse xmlns:ns3="http://www.n11.com/ws/schemas"><echo>hi</echo></ns3:PingResponse></S:Body></S:Envelope>`))
	}))
	defer srv.Close()

	var out pingResponse
	err := newSOAP(srv.URL, nil).Call(context.Background(), "ping", "PingAction", pingRequest{Value: "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Echo)
}

func TestSOAPClient_FaultCodeTable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		if n == 1 {
			_, _ = w.Write([]byte(fmt.Sprintf(faultBody, "slow down", "THROTTLED")))
			return
		}
		_, _ = w.Write([]byte(fmt.Sprintf(faultBody, "unknown product", "PRODUCT_NOT_FOUND")))
	}))
	defer srv.Close()

	faults := CodeTable{"THROTTLED": apperrors.KindTransient, "PRODUCT_NOT_FOUND": apperrors.KindNotFound}
	err := newSOAP(srv.URL, faults).Call(context.Background(), "get", "GetAction", pingRequest{}, nil)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PRODUCT_NOT_FOUND", appErr.Code)
	assert.Equal(t, "n11", appErr.Marketplace)
}

func TestFaultKind(t *testing.T) {
	assert.Equal(t, apperrors.KindMalformedRequest, faultKind("soap:Client"))
	assert.Equal(t, apperrors.KindAuth, faultKind("wsse:FailedAuthentication"))
	assert.Equal(t, apperrors.KindTransient, faultKind("S:Server"))
}
