// Package client is the typed HTTP gateway to the admin API. Every call is a
// single round trip; nothing is retried.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/auth"
	"github.com/matheus3301/wppadmin/internal/model"
)

// ErrNoToken is returned by Login when the server answered 2xx without
// setting the session cookie.
var ErrNoToken = errors.New("login succeeded but no session cookie was set")

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin api returned %d", e.Status)
	}
	return fmt.Sprintf("admin api returned %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports a 401 from the API guard.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// SendRequest is the body of POST /api/messages.
type SendRequest struct {
	ContactID     string            `json:"contact_id"`
	ContentType   model.ContentType `json:"content_type"`
	TextContent   *string           `json:"text_content,omitempty"`
	AttachmentURL *string           `json:"attachment_url,omitempty"`
	Platform      model.Platform    `json:"platform,omitempty"`
}

// BotHealth is the bot's health answer as relayed by the server.
type BotHealth struct {
	StatusCode int
	Body       []byte
}

func (h *BotHealth) OK() bool {
	return h.StatusCode >= 200 && h.StatusCode < 300
}

type Client struct {
	baseURL string
	token   string
	http    *resty.Client
	logger  *zap.Logger
}

// New returns a client for baseURL authenticated with token, which may be
// empty until Login.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", "wppadminctl/1.0").
			SetHeader("Accept", "application/json").
			SetRetryCount(0),
		logger: logger.Named("client"),
	}
	c.SetToken(token)
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Token() string { return c.token }

func (c *Client) SetToken(token string) {
	c.token = token
	if token != "" {
		c.http.SetAuthToken(token)
	}
}

// SetTimeout bounds every request. Zero means no timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.http.SetTimeout(d)
}

type apiMessage struct {
	Status  string `json:"status"`
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method, path string, body, result any) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var msg apiMessage
		_ = json.Unmarshal(resp.Body(), &msg)
		apiErr := &APIError{Status: resp.StatusCode(), Message: msg.Message}
		c.logger.Debug("api error", zap.String("method", method), zap.String("path", path), zap.Error(apiErr))
		return resp, apiErr
	}
	return resp, nil
}

// Login exchanges the shared password for a session token and keeps it.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	resp, err := c.call(ctx, http.MethodPost, "/api/login", map[string]string{"password": password}, nil)
	if err != nil {
		return "", err
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.CookieName && ck.Value != "" {
			c.SetToken(ck.Value)
			return ck.Value, nil
		}
	}
	return "", ErrNoToken
}

// Logout revokes the current token server side.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/api/logout", nil, nil)
	return err
}

func (c *Client) ListContacts(ctx context.Context) ([]model.Contact, error) {
	var out []model.Contact
	if _, err := c.call(ctx, http.MethodGet, "/api/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, contactID string) ([]model.Message, error) {
	var out []model.Message
	if _, err := c.call(ctx, http.MethodGet, "/api/contacts/"+url.PathEscape(contactID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateContactName sets the display name. An empty name clears it.
func (c *Client) UpdateContactName(ctx context.Context, id, name string) (*model.Contact, error) {
	var out model.Contact
	if _, err := c.call(ctx, http.MethodPatch, "/api/contacts/"+url.PathEscape(id), map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetAIEnabled(ctx context.Context, id string, enabled bool) (*model.Contact, error) {
	var out model.Contact
	if _, err := c.call(ctx, http.MethodPut, "/api/contacts/"+url.PathEscape(id)+"/ai", map[string]bool{"ai_enabled": enabled}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteContact(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodDelete, "/api/contacts/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) MarkChatAsRead(ctx context.Context, contactID string) error {
	_, err := c.call(ctx, http.MethodPost, "/api/contacts/"+url.PathEscape(contactID)+"/read", nil, nil)
	return err
}

type bulkReadRequest struct {
	ContactIDs []string         `json:"contact_ids"`
	Status     model.ReadStatus `json:"status"`
}

type bulkIDsRequest struct {
	ContactIDs []string `json:"contact_ids"`
}

// BulkUpdateReadStatus returns the number of contacts changed, which may be
// lower than len(ids).
func (c *Client) BulkUpdateReadStatus(ctx context.Context, ids []string, status model.ReadStatus) (int, error) {
	var out struct {
		UpdatedCount int `json:"updated_count"`
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/contacts/bulk/read-status", bulkReadRequest{ContactIDs: ids, Status: status}, &out); err != nil {
		return 0, err
	}
	return out.UpdatedCount, nil
}

// BulkDeleteContacts returns the number of contacts removed, which may be
// lower than len(ids).
func (c *Client) BulkDeleteContacts(ctx context.Context, ids []string) (int, error) {
	var out struct {
		DeletedCount int `json:"deleted_count"`
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/contacts/bulk/delete", bulkIDsRequest{ContactIDs: ids}, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// SendMessage stores an agent message and queues it for bot delivery.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*model.Message, error) {
	var out model.Message
	if _, err := c.call(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BackupContacts lists every WhatsApp contact for export.
func (c *Client) BackupContacts(ctx context.Context) ([]model.BackupContact, error) {
	var out []model.BackupContact
	if _, err := c.call(ctx, http.MethodGet, "/api/backup/whatsapp-contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BotHealth relays the bot's health check. Non-2xx bot answers are returned
// as a BotHealth, not an error; only failures of the admin server itself
// are errors.
func (c *Client) BotHealth(ctx context.Context) (*BotHealth, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/api/whatsapp/health")
	if err != nil {
		return nil, fmt.Errorf("GET /api/whatsapp/health: %w", err)
	}
	var msg apiMessage
	if resp.StatusCode() == http.StatusUnauthorized ||
		(resp.IsError() && json.Unmarshal(resp.Body(), &msg) == nil && msg.Status == "error") {
		return nil, &APIError{Status: resp.StatusCode(), Message: msg.Message}
	}
	return &BotHealth{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

type startResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	QRCode  string `json:"qrCode"`
}

// BotStart asks the bot to begin pairing and returns the QR payload.
func (c *Client) BotStart(ctx context.Context) (string, error) {
	var out startResponse
	if _, err := c.call(ctx, http.MethodPost, "/api/whatsapp/start", nil, &out); err != nil {
		return "", err
	}
	return out.QRCode, nil
}

// BotStartPNG is BotStart with the QR code rendered server side.
func (c *Client) BotStartPNG(ctx context.Context, size int) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("format", "png").
		SetQueryParam("size", fmt.Sprint(size)).
		Post("/api/whatsapp/start")
	if err != nil {
		return nil, fmt.Errorf("POST /api/whatsapp/start: %w", err)
	}
	if resp.IsError() {
		var msg apiMessage
		_ = json.Unmarshal(resp.Body(), &msg)
		return nil, &APIError{Status: resp.StatusCode(), Message: msg.Message}
	}
	return resp.Body(), nil
}

// RealtimeURL is the websocket endpoint streaming inserts for contactID.
func (c *Client) RealtimeURL(contactID string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/realtime/messages?contact_id=" + url.QueryEscape(contactID)
}

// AuthHeader returns the header the websocket dial must carry.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}
