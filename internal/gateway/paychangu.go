package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/metrics"
)

const (
	opInitiate = "initiate"
	opVerify   = "verify"
)

type CheckoutRequest struct {
	TxRef       string
	Amount      decimal.Decimal
	Currency    string
	Email       string
	FirstName   string
	LastName    string
	Phone       string
	CallbackURL string
	ReturnURL   string
	Title       string
	Description string
}

type CheckoutSession struct {
	CheckoutURL string
	TxRef       string
}

// Verification carries the gateway's raw status string; callers normalise it.
type Verification struct {
	TxRef         string
	Status        string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
}

type Config struct {
	BaseURL     string
	SecretKey   string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseBackoff time.Duration
}

// Client talks to a PayChangu-compatible payment API.
type Client struct {
	cfg     Config
	http    *http.Client
	tracer  trace.Tracer
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, log *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer:  otel.Tracer("order-fulfillment-service/gateway"),
		log:     log,
		metrics: m,
	}
}

type checkoutPayload struct {
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Email         string        `json:"email,omitempty"`
	FirstName     string        `json:"first_name,omitempty"`
	LastName      string        `json:"last_name,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	CallbackURL   string        `json:"callback_url"`
	ReturnURL     string        `json:"return_url"`
	TxRef         string        `json:"tx_ref"`
	Title         string        `json:"title,omitempty"`
	Description   string        `json:"description,omitempty"`
	Customization customization `json:"customization"`
}

type customization struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) Initiate(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	p := checkoutPayload{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		CallbackURL: req.CallbackURL,
		ReturnURL:   req.ReturnURL,
		TxRef:       req.TxRef,
		Title:       req.Title,
		Description: req.Description,
	}
	p.Customization = customization{Title: req.Title, Description: req.Description}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	var data struct {
		CheckoutURL string `json:"checkout_url"`
		TxRef       string `json:"tx_ref"`
	}
	if err := c.do(ctx, opInitiate, http.MethodPost, "/payment", body, req.TxRef, &data); err != nil {
		return nil, err
	}
	if data.CheckoutURL == "" {
		return nil, &apperr.GatewayRejectedError{Op: opInitiate, StatusCode: http.StatusOK, Message: "response carries no checkout_url"}
	}
	if data.TxRef == "" {
		data.TxRef = req.TxRef
	}
	return &CheckoutSession{CheckoutURL: data.CheckoutURL, TxRef: data.TxRef}, nil
}

func (c *Client) Verify(ctx context.Context, txRef string) (*Verification, error) {
	var data struct {
		TxRef         string          `json:"tx_ref"`
		Status        string          `json:"status"`
		TransactionID json.RawMessage `json:"transaction_id"`
		Reference     string          `json:"reference"`
		Amount        decimal.Decimal `json:"amount"`
		Currency      string          `json:"currency"`
	}
	path := "/payment/verify/" + url.PathEscape(txRef)
	if err := c.do(ctx, opVerify, http.MethodGet, path, nil, txRef, &data); err != nil {
		return nil, err
	}
	v := &Verification{
		TxRef:         data.TxRef,
		Status:        data.Status,
		TransactionID: rawString(data.TransactionID),
		Amount:        data.Amount,
		Currency:      data.Currency,
	}
	if v.TxRef == "" {
		v.TxRef = txRef
	}
	if v.TransactionID == "" {
		v.TransactionID = data.Reference
	}
	return v, nil
}

// do runs one logical call with bounded retries. Network errors, timeouts, 429 and
// 5xx are retried; any other non-2xx is a GatewayRejectedError.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, txRef string, out any) error {
	ctx, span := c.tracer.Start(ctx, "paychangu."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("payment.tx_ref", txRef),
	)

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
		data, retry, err := c.attempt(ctx, op, method, path, body)
		if err == nil {
			if out != nil && len(data) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					err = fmt.Errorf("decode %s response: %w", op, err)
					c.finish(span, op, "decode_error", start, err)
					return &apperr.GatewayUnavailableError{Op: op, Attempts: attempt, Err: err}
				}
			}
			span.SetAttributes(attribute.Int("payment.attempts", attempt))
			c.finish(span, op, "ok", start, nil)
			return nil
		}
		if !retry {
			c.finish(span, op, "rejected", start, err)
			return err
		}
		lastErr = err
		c.log.Warn("gateway_attempt_failed",
			zap.String("op", op),
			zap.String("tx_ref", txRef),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	err := &apperr.GatewayUnavailableError{Op: op, Attempts: c.cfg.MaxAttempts, Err: lastErr}
	c.finish(span, op, "unavailable", start, err)
	return err
}

// attempt returns the envelope data on success and whether a failure may be retried.
func (c *Client) attempt(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("gateway returned %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, &apperr.GatewayRejectedError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, true, fmt.Errorf("decode gateway envelope: %w", err)
	}
	return env.Data, false, nil
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.cfg.BaseBackoff << (attempt - 2)
	d += time.Duration(rand.Int64N(int64(d)/2 + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) finish(span trace.Span, op, outcome string, start time.Time, err error) {
	c.metrics.GatewayRequest(op, outcome, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func errorMessage(raw []byte, fallback string) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Message) > 0 {
		if s := rawString(env.Message); s != "" {
			return s
		}
	}
	return fallback
}

// rawString accepts a JSON string or number and returns its text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

// IsUnavailable reports whether err means the gateway could not be reached.
func IsUnavailable(err error) bool {
	var u *apperr.GatewayUnavailableError
	return errors.As(err, &u)
}
