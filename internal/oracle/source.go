package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const pricePath = "/price"

// PriceSource supplies the current asset price a check settles against.
type PriceSource interface {
	Current(ctx context.Context) (decimal.Decimal, error)
}

// HTTPOptions parameterise the HTTP price source.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPSource pulls the price from an upstream JSON endpoint.
type HTTPSource struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPSource constructs an HTTP price source.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPSource{
		opts:    opts,
		logger:  logger.With().Str("component", "price_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

// Current fetches the latest price. Zero or negative prices are rejected so a
// broken upstream cannot settle checks.
func (s *HTTPSource) Current(ctx context.Context) (decimal.Decimal, error) {
	if s.baseURL == "" {
		return decimal.Decimal{}, errors.New("price source base url required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+pricePath, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "sentinel-monitor/1.0")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var priceRes priceResponse
	if err := json.Unmarshal(payload, &priceRes); err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price payload: %w", err)
	}
	if !priceRes.Price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("upstream returned non-positive price %s", priceRes.Price)
	}
	return priceRes.Price, nil
}

type errorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price api error (%d)", status)
}

// StaticSource serves a fixed price. Useful for local runs and simulations.
type StaticSource struct {
	price decimal.Decimal
}

func NewStaticSource(price decimal.Decimal) *StaticSource {
	return &StaticSource{price: price}
}

func (s *StaticSource) Current(context.Context) (decimal.Decimal, error) {
	if !s.price.IsPositive() {
		return decimal.Decimal{}, errors.New("static price must be positive")
	}
	return s.price, nil
}

var (
	_ PriceSource = (*HTTPSource)(nil)
	_ PriceSource = (*StaticSource)(nil)
)
