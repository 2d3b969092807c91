// Package botapi talks to the external WhatsApp bot service: QR pairing,
// health, and outbound message delivery.
package botapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/wppadmin/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned by every call when no base URL is set.
	ErrNotConfigured = errors.New("bot api url not configured")
	// ErrNoQRCode means /start answered 2xx without qrCodeData or qrCode.
	ErrNoQRCode = errors.New("qr code missing from bot response")
)

// StatusError is a non-2xx answer. Message is the bot's own "message" field
// when it sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bot api returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bot api returned %d", e.Code)
}

// UnreachableError wraps transport failures.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// HealthResponse is the bot's /health answer, kept raw for passthrough.
type HealthResponse struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// OK reports a 2xx status.
func (h *HealthResponse) OK() bool {
	return h.StatusCode >= 200 && h.StatusCode < 300
}

// SendRequest is an outbound message for the bot to deliver.
type SendRequest struct {
	MessageID     string `json:"message_id"`
	Platform      string `json:"platform"`
	To            string `json:"to"`
	ContentType   string `json:"content_type"`
	Text          string `json:"text,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// Client calls the bot with no retries. A zero timeout means none.
type Client struct {
	baseURL string
	http    *resty.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(baseURL string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "wppadmin/1.0").
		SetRetryCount(0)
	if timeout > 0 {
		httpClient.SetTimeout(timeout)
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		metrics: m,
		logger:  logger.Named("botapi"),
	}
}

// BaseURL returns the configured URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Configured() bool { return c != nil && c.baseURL != "" }

type startResponse struct {
	QRCodeData string `json:"qrCodeData"`
	QRCode     string `json:"qrCode"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Start asks the bot to begin pairing and returns the QR payload.
func (c *Client) Start(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	var out startResponse
	resp, err := c.do(ctx, "start", c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json"), http.MethodPost, "/start")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", statusError(resp)
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	qr := out.QRCodeData
	if qr == "" {
		qr = out.QRCode
	}
	if qr == "" {
		return "", ErrNoQRCode
	}
	return qr, nil
}

// Health fetches /health. Non-2xx answers are returned, not turned into errors.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	resp, err := c.do(ctx, "health", c.http.R().SetContext(ctx), http.MethodGet, "/health")
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Header:      resp.Header(),
		Body:        resp.Body(),
	}, nil
}

// Send hands one message to the bot for delivery.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	resp, err := c.do(ctx, "send", c.http.R().SetContext(ctx).SetBody(req), http.MethodPost, "/send")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return statusError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string, req *resty.Request, method, path string) (*resty.Response, error) {
	start := time.Now()
	resp, err := req.Execute(method, path)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode())
	}
	if c.metrics != nil {
		c.metrics.BotRequests.WithLabelValues(endpoint, status).Inc()
		c.metrics.BotLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.Warn("bot api unreachable", zap.String("endpoint", endpoint), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &UnreachableError{URL: c.baseURL + path, Err: err}
	}
	return resp, nil
}

func statusError(resp *resty.Response) error {
	var body errorBody
	_ = json.Unmarshal(resp.Body(), &body)
	return &StatusError{Code: resp.StatusCode(), Message: body.Message}
}
