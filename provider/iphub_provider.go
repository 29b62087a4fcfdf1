package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloud66-oss/iphub/utils"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIPHubURL = "http://v2.api.iphub.info"
	defaultTimeout  = 10 * time.Second
	maxBodySize     = 1 << 16
)

// IPHubProvider queries the IPHub v2 API. Each instance carries its own key so providers with
// different keys can live side by side.
type IPHubProvider struct {
	apiKey  string
	baseURL string
	cli     *http.Client
}

type IPHubOption func(*IPHubProvider)

func WithBaseURL(baseURL string) IPHubOption {
	return func(p *IPHubProvider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(cli *http.Client) IPHubOption {
	return func(p *IPHubProvider) {
		p.cli = cli
	}
}

func WithTimeout(timeout time.Duration) IPHubOption {
	return func(p *IPHubProvider) {
		p.cli = &http.Client{Timeout: timeout}
	}
}

// iphubResponse mirrors the API body; IP is a pointer so a missing field can be told apart from an
// empty one
type iphubResponse struct {
	IP          *string `json:"ip"`
	CountryCode string  `json:"countryCode"`
	CountryName string  `json:"countryName"`
	ASN         int     `json:"asn"`
	ISP         string  `json:"isp"`
	Hostname    string  `json:"hostname"`
	Block       *int    `json:"block"`
}

func NewIPHubProvider(apiKey string, opts ...IPHubOption) (*IPHubProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("an IPHub API key is required")
	}

	provider := &IPHubProvider{
		apiKey:  apiKey,
		baseURL: DefaultIPHubURL,
		cli:     &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider, nil
}

func (provider *IPHubProvider) Start(ctx context.Context) error {
	log.Info().Str("url", provider.baseURL).Msg("starting IPHub Provider")

	if _, err := url.Parse(provider.baseURL); err != nil {
		return fmt.Errorf("invalid IPHub url: %w", err)
	}

	return nil
}

// Lookup sends the address as-is; IPHub is the one deciding whether it is valid
func (provider *IPHubProvider) Lookup(ctx context.Context, address string) (*utils.ClassificationRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.baseURL+"/ip/"+url.PathEscape(address), nil)
	if err != nil {
		return nil, &utils.UnavailableError{Reason: "failed to build request", Err: err}
	}
	req.Header.Set("X-Key", provider.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := provider.cli.Do(req)
	if err != nil {
		return nil, &utils.UnavailableError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &utils.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &utils.UnavailableError{Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var body iphubResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return nil, &utils.UnavailableError{Reason: "malformed response", Err: err}
	}

	if body.IP == nil {
		return nil, &utils.UnavailableError{Reason: "response has no ip field"}
	}
	if body.Block == nil {
		return nil, &utils.UnavailableError{Reason: "response has no block field"}
	}

	block := utils.BlockLevel(*body.Block)
	if !block.Valid() {
		return nil, &utils.UnavailableError{Reason: fmt.Sprintf("unknown block level %d", *body.Block)}
	}

	return &utils.ClassificationRecord{
		IP:          *body.IP,
		CountryCode: body.CountryCode,
		CountryName: body.CountryName,
		ASN:         body.ASN,
		ISP:         body.ISP,
		Hostname:    body.Hostname,
		Block:       block,
	}, nil
}

func (provider *IPHubProvider) Shutdown(ctx context.Context) {
	log.Info().Msg("shutting down IPHub Provider")
	provider.cli.CloseIdleConnections()
}

func (provider *IPHubProvider) Refresh(ctx context.Context) error {
	return nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}
