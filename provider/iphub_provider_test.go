package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cloud66-oss/iphub/utils"
	"github.com/stretchr/testify/suite"
)

type seenRequest struct {
	method string
	path   string
	key    string
}

type ipHubProviderTestSuite struct {
	suite.Suite
	server *httptest.Server
	status int
	body   string
	header http.Header

	mu       sync.Mutex
	requests []seenRequest
}

func (suite *ipHubProviderTestSuite) SetupTest() {
	suite.status = http.StatusOK
	suite.body = ""
	suite.header = http.Header{}
	suite.requests = nil

	suite.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		suite.mu.Lock()
		suite.requests = append(suite.requests, seenRequest{method: r.Method, path: r.URL.Path, key: r.Header.Get("X-Key")})
		suite.mu.Unlock()

		for k, v := range suite.header {
			w.Header()[k] = v
		}
		w.WriteHeader(suite.status)
		w.Write([]byte(suite.body))
	}))
}

func (suite *ipHubProviderTestSuite) TearDownTest() {
	suite.server.Close()
}

func (suite *ipHubProviderTestSuite) provider() *IPHubProvider {
	provider, err := NewIPHubProvider("secret-key", WithBaseURL(suite.server.URL+"/"))
	suite.Require().NoError(err)
	return provider
}

func (suite *ipHubProviderTestSuite) TestLookup() {
	suite.body = `{"ip":"8.8.8.8","countryCode":"US","countryName":"United States","asn":15169,"isp":"GOOGLE","block":1,"hostname":"dns.google"}`

	record, err := suite.provider().Lookup(context.Background(), "8.8.8.8")
	suite.Require().NoError(err)

	suite.Equal(&utils.ClassificationRecord{
		IP:          "8.8.8.8",
		CountryCode: "US",
		CountryName: "United States",
		ASN:         15169,
		ISP:         "GOOGLE",
		Hostname:    "dns.google",
		Block:       utils.NonResidential,
	}, record)

	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.Require().Len(suite.requests, 1)
	suite.Equal(seenRequest{method: http.MethodGet, path: "/ip/8.8.8.8", key: "secret-key"}, suite.requests[0])
}

func (suite *ipHubProviderTestSuite) TestRateLimited() {
	suite.status = http.StatusTooManyRequests
	suite.header.Set("Retry-After", "30")

	record, err := suite.provider().Lookup(context.Background(), "8.8.8.8")
	suite.Nil(record)

	var rle *utils.RateLimitError
	if suite.ErrorAs(err, &rle) {
		suite.Equal(30*time.Second, rle.RetryAfter)
	}
}

func (suite *ipHubProviderTestSuite) TestUnexpectedStatus() {
	suite.status = http.StatusInternalServerError

	_, err := suite.provider().Lookup(context.Background(), "8.8.8.8")

	var ue *utils.UnavailableError
	if suite.ErrorAs(err, &ue) {
		suite.Equal("unexpected status 500", ue.Reason)
	}
}

func (suite *ipHubProviderTestSuite) TestMissingIPField() {
	suite.body = `{"error":"Invalid IP address"}`

	record, err := suite.provider().Lookup(context.Background(), "not-an-ip")
	suite.Nil(record)

	var ue *utils.UnavailableError
	suite.ErrorAs(err, &ue)
}

func (suite *ipHubProviderTestSuite) TestUnknownBlockLevel() {
	suite.body = `{"ip":"8.8.8.8","block":7}`

	_, err := suite.provider().Lookup(context.Background(), "8.8.8.8")

	var ue *utils.UnavailableError
	if suite.ErrorAs(err, &ue) {
		suite.Contains(ue.Reason, "unknown block level 7")
	}
}

func (suite *ipHubProviderTestSuite) TestMalformedBody() {
	suite.body = `<html>`

	_, err := suite.provider().Lookup(context.Background(), "8.8.8.8")

	var ue *utils.UnavailableError
	suite.ErrorAs(err, &ue)
}

func (suite *ipHubProviderTestSuite) TestTransportFailure() {
	provider := suite.provider()
	suite.server.Close()

	_, err := provider.Lookup(context.Background(), "8.8.8.8")

	var ue *utils.UnavailableError
	if suite.ErrorAs(err, &ue) {
		suite.Equal("request failed", ue.Reason)
		suite.NotNil(ue.Err)
	}
}

func (suite *ipHubProviderTestSuite) TestRequiresKey() {
	_, err := NewIPHubProvider("")
	suite.Error(err)
}

func TestIpHubProviderTestSuite(t *testing.T) {
	suite.Run(t, new(ipHubProviderTestSuite))
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("120"); d != 2*time.Minute {
		t.Errorf("got %s, want 2m", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("got %s, want 0", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("got %s, want 0", d)
	}
	if d := parseRetryAfter(time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)); d <= 0 {
		t.Errorf("expected a positive delay for a future date, got %s", d)
	}
}
