// Package payment talks to the Razorpay REST API and verifies the signatures
// it attaches to checkout callbacks and webhooks.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrInvalidSignature = errors.New("invalid payment signature")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("razorpay: %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("razorpay: status %d", e.StatusCode)
}

type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
	// MaxTries bounds CreateOrder attempts; zero means 3.
	MaxTries uint
	// InitialBackoff is the first retry delay; zero means 500ms.
	InitialBackoff time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// KeyID is the public key handed to the browser checkout widget.
func (c *Client) KeyID() string {
	return c.cfg.KeyID
}

func (c *Client) Currency() string {
	return c.cfg.Currency
}

type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// CreateOrder registers a gateway order for amount. Network failures and 5xx
// answers are retried with exponential backoff; 4xx answers are not.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string, notes map[string]string) (*RemoteOrder, error) {
	body := map[string]any{
		"amount":   MinorUnits(amount),
		"currency": c.cfg.Currency,
		"receipt":  receipt,
		"notes":    notes,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff

	attempt := 0
	order, err := backoff.Retry(ctx, func() (*RemoteOrder, error) {
		attempt++
		var out RemoteOrder
		err := c.do(ctx, http.MethodPost, "/orders", body, &out)
		if err == nil {
			return &out, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}

		c.logger.Warn("razorpay create order attempt failed", "error", err, "receipt", receipt, "attempt", attempt)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.MaxTries))
	if err != nil {
		return nil, fmt.Errorf("create razorpay order: %w", err)
	}

	c.logger.Info("razorpay order created", "gateway_order_id", order.ID, "receipt", receipt, "amount", order.Amount)
	return order, nil
}

// Refund refunds amount of a captured payment; a zero amount refunds it in
// full. Refunds are never retried.
func (c *Client) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (*Refund, error) {
	body := map[string]any{}
	if amount.IsPositive() {
		body["amount"] = MinorUnits(amount)
	}

	var out Refund
	if err := c.do(ctx, http.MethodPost, "/payments/"+paymentID+"/refund", body, &out); err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", paymentID, err)
	}

	c.logger.Info("razorpay refund requested", "refund_id", out.ID, "gateway_payment_id", paymentID)
	return &out, nil
}

// VerifyPaymentSignature checks the signature the checkout widget returns
// after a successful payment.
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return verify(c.cfg.KeySecret, orderID+"|"+paymentID, signature)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the
// raw request body.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	return verify(c.cfg.WebhookSecret, string(body), signature)
}

// Sign is the hex HMAC-SHA256 of message under secret.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, message, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Description = envelope.Error.Description
		}
		return apiErr
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// MinorUnits converts a rupee amount to paise.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts paise to rupees.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
