package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrUpstreamRequestFailed wraps every failure talking to the quote API.
	ErrUpstreamRequestFailed = errors.New("quote: upstream request failed")

	// ErrInvalidSymbol is returned for symbols that cannot be placed in a URL path.
	ErrInvalidSymbol = errors.New("quote: invalid symbol")
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// UpstreamError describes a failed quote lookup.
type UpstreamError struct {
	StatusCode int // zero for transport or decode failures
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("quote: upstream returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("quote: upstream request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamRequestFailed, e.Err}
}

// SpotPrice is the current price of Base in Currency.
type SpotPrice struct {
	Base     string `json:"base"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// Config describes the quote endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches spot prices from a Coinbase-compatible API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("quote: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// NormalizeSymbol upper-cases and validates a currency or asset symbol.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// SpotPrice fetches the spot price of asset in currency.
func (c *Client) SpotPrice(ctx context.Context, asset, currency string) (*SpotPrice, error) {
	a, err := NormalizeSymbol(asset)
	if err != nil {
		return nil, err
	}
	cur, err := NormalizeSymbol(currency)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v2/prices/%s-%s/spot", c.baseURL, a, cur)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(data)))}
	}

	var envelope struct {
		Data *SpotPrice `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("decode body: %w", err)}
	}
	if envelope.Data == nil || envelope.Data.Amount == "" {
		return nil, &UpstreamError{Err: errors.New("decode body: missing data.amount")}
	}
	return envelope.Data, nil
}
