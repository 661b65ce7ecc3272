// Package appstore validates receipts against the App Store verifyReceipt
// endpoint.
package appstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/receipt"
	"github.com/rs/zerolog"
)

const (
	ProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	SandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	defaultTimeout        = 15 * time.Second
	maxHTTPErrorBodyBytes = 4096
	maxResponseBytes      = 8 << 20
)

// statusText describes the documented verifyReceipt status codes.
var statusText = map[int]string{
	21000: "request to the App Store was not made using HTTP POST",
	21002: "receipt data was malformed or the service experienced a temporary issue",
	21003: "receipt could not be authenticated",
	21004: "shared secret does not match the account's shared secret",
	21005: "receipt server was temporarily unable to provide the receipt",
	21006: "receipt is valid but the subscription has expired",
	21007: "receipt is from the test environment but was sent to production",
	21008: "receipt is from the production environment but was sent to the test environment",
	21009: "internal data access error",
	21010: "user account cannot be found or has been deleted",
}

type Config struct {
	Source Source
	// ProductionURL and SandboxURL override the endpoints, for tests.
	ProductionURL string
	SandboxURL    string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// Client implements receipt.Validator.
type Client struct {
	source        Source
	productionURL string
	sandboxURL    string
	httpClient    *http.Client
	logger        zerolog.Logger
}

var _ receipt.Validator = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.ProductionURL == "" {
		cfg.ProductionURL = ProductionURL
	}
	if cfg.SandboxURL == "" {
		cfg.SandboxURL = SandboxURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return fmt.Errorf("verifyReceipt returned redirect to %s", req.URL)
			},
		}
	}

	return &Client{
		source:        cfg.Source,
		productionURL: cfg.ProductionURL,
		sandboxURL:    cfg.SandboxURL,
		httpClient:    httpClient,
		logger:        cfg.Logger,
	}
}

func (c *Client) endpoint(env receipt.Environment) string {
	if env == receipt.EnvironmentProduction {
		return c.productionURL
	}
	return c.sandboxURL
}

type verifyRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

// Validate reads the local receipt and submits it once. There is no automatic
// retry and no sandbox fallback; the caller decides what to do with a failure.
func (c *Client) Validate(ctx context.Context, env receipt.Environment, sharedSecret string) (receipt.Bundle, error) {
	if c.source == nil {
		return nil, receipt.ErrNoReceiptData
	}
	data, err := c.source.ReceiptData(ctx)
	if err != nil {
		if errors.Is(err, receipt.ErrNoReceiptData) {
			return nil, receipt.ErrNoReceiptData
		}
		return nil, &receipt.ValidationError{Kind: receipt.KindSource, Op: "read receipt", Err: err}
	}

	payload, err := json.Marshal(verifyRequest{
		ReceiptData: base64.StdEncoding.EncodeToString(data),
		Password:    sharedSecret,
	})
	if err != nil {
		return nil, &receipt.ValidationError{Kind: receipt.KindInternal, Op: "encode request", Err: err}
	}

	url := c.endpoint(env)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &receipt.ValidationError{Kind: receipt.KindInternal, Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "flashcards-iap")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &receipt.ValidationError{Kind: receipt.KindTransport, Op: "verifyReceipt", Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("Failed to close verifyReceipt response body")
		}
	}()

	if resp.StatusCode >= 300 {
		return nil, &receipt.ValidationError{Kind: receipt.KindTransport, Op: "verifyReceipt", Err: formatHTTPStatusError(resp, "verifyReceipt")}
	}

	var decoded verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, &receipt.ValidationError{Kind: receipt.KindDecode, Op: "decode response", Err: err}
	}
	if decoded.Status != 0 {
		return nil, &receipt.ValidationError{
			Kind:   receipt.KindStatus,
			Op:     "verifyReceipt",
			Status: decoded.Status,
			Err:    errors.New(describeStatus(decoded.Status)),
		}
	}

	bundle := newBundle(decoded)
	c.logger.Debug().
		Str("environment", env.String()).
		Str("receipt_environment", decoded.Environment).
		Int("transactions", len(bundle.transactions)).
		Msg("Receipt validated")
	return bundle, nil
}

func describeStatus(status int) string {
	if text, ok := statusText[status]; ok {
		return text
	}
	if status >= 21100 && status <= 21199 {
		return "internal App Store error"
	}
	return "unrecognised receipt status"
}

func formatHTTPStatusError(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHTTPErrorBodyBytes))
	if readErr != nil {
		return fmt.Errorf("%s responded with status %s (failed to read response body: %w)", operation, resp.Status, readErr)
	}

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return fmt.Errorf("%s responded with status %s", operation, resp.Status)
	}
	return fmt.Errorf("%s responded with status %s: %s", operation, resp.Status, detail)
}
