package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/auth"
	"github.com/matheus3301/wppadmin/internal/botapi"
	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/ingest"
	"github.com/matheus3301/wppadmin/internal/metrics"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/outbox"
	"github.com/matheus3301/wppadmin/internal/realtime"
	"github.com/matheus3301/wppadmin/internal/store"
)

const (
	testPassword = "hunter2"
	testSecret   = "jwt-secret"
	testHook     = "hook-secret"
)

type testEnv struct {
	srv   *Server
	store *store.Store
	bus   *bus.Bus
	auth  *auth.Authenticator
	token string
}

func newTestEnv(t *testing.T, botURL string, authCfg auth.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.Migrate()
	require.NoError(t, err)

	logger := zap.NewNop()
	m := metrics.Registry("wppadmin_test")
	b := bus.New()
	bot := botapi.New(botURL, 0, m, logger)
	a := auth.NewAuthenticator(authCfg, nil)

	srv := New(Dependencies{
		Store:    st,
		Bot:      bot,
		Auth:     a,
		Ingest:   ingest.NewEngine(st, b, m, logger, true),
		Outbox:   outbox.NewSender(st, bot, b, m, logger, true),
		Realtime: realtime.NewBusSource(b),
		Metrics:  m,
	}, Options{WebhookSecret: testHook}, logger)

	env := &testEnv{srv: srv, store: st, bus: b, auth: a}
	if authCfg.Secret != "" && authCfg.Password != "" {
		env.token, _, err = a.Login(authCfg.Password)
		require.NoError(t, err)
	}
	return env
}

func defaultAuth() auth.Config {
	return auth.Config{Password: testPassword, Secret: testSecret, TTL: 8 * time.Hour}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: e.token})
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) webhook(t *testing.T, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/messages", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WebhookSecretHeader, testHook)
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func inbound(id, user, text string) ingest.InboundMessage {
	return ingest.InboundMessage{ID: id, Platform: model.PlatformWhatsApp, PlatformUserID: user, TextContent: &text}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{"password": "nope"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())
	assert.JSONEq(t, `{"success":false,"message":"Invalid password."}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/login", map[string]string{"password": testPassword}, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, auth.CookieName, ck.Name)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, ck.SameSite)
	assert.Equal(t, "/", ck.Path)
	assert.Equal(t, 8*60*60, ck.MaxAge)
	assert.False(t, ck.Secure)

	_, err := env.auth.Verify(context.Background(), ck.Value)
	assert.NoError(t, err)
}

func TestLoginBadBody(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"An internal error occurred."}`, w.Body.String())
}

func TestLoginNotConfigured(t *testing.T) {
	env := newTestEnv(t, "", auth.Config{Password: testPassword})
	w := env.do(t, http.MethodPost, "/api/login", map[string]string{"password": testPassword}, false)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Server configuration error."}`, w.Body.String())
	assert.Empty(t, w.Result().Cookies())
}

func TestPageGuard(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())

	w := env.do(t, http.MethodGet, "/", nil, false)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = env.do(t, http.MethodGet, "/login", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/login")

	w = env.do(t, http.MethodGet, "/", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIGuard(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	w := env.do(t, http.MethodGet, "/api/contacts", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"Authentication required."}`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutRevokes(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	w := env.do(t, http.MethodPost, "/api/logout", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Result().Cookies())
	assert.True(t, w.Result().Cookies()[0].MaxAge < 0)

	w = env.do(t, http.MethodGet, "/api/contacts", nil, true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookAuth(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/messages", strings.NewReader(`{}`))
	req.Header.Set(WebhookSecretHeader, "wrong")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.webhook(t, ingest.InboundMessage{Platform: "telegram", PlatformUserID: "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContactLifecycle(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())

	w := env.webhook(t, []ingest.InboundMessage{inbound("m1", "5511", "hello"), inbound("m2", "5522", "hi there")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/contacts", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	contacts := decode[[]model.Contact](t, w)
	require.Len(t, contacts, 2)
	first := contacts[0]
	assert.Equal(t, 1, first.UnreadCount)

	w = env.do(t, http.MethodPatch, "/api/contacts/"+first.ID, map[string]string{"name": "Ana"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	renamed := decode[model.Contact](t, w)
	require.NotNil(t, renamed.Name)
	assert.Equal(t, "Ana", *renamed.Name)

	w = env.do(t, http.MethodPut, "/api/contacts/"+first.ID+"/ai", map[string]bool{"ai_enabled": false}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[model.Contact](t, w).AIEnabled)

	w = env.do(t, http.MethodPost, "/api/contacts/"+first.ID+"/read", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/contacts/"+first.ID+"/messages", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Message](t, w), 1)

	ids := []string{contacts[0].ID, contacts[1].ID, "ghost", contacts[0].ID}
	w = env.do(t, http.MethodPost, "/api/contacts/bulk/read-status", map[string]any{"contact_ids": ids, "status": "unread"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated_count":2}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/contacts/bulk/read-status", map[string]any{"contact_ids": ids, "status": "maybe"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/contacts/"+contacts[1].ID, nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/contacts/bulk/delete", map[string]any{"contact_ids": ids}, true)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]int](t, w)
	assert.Equal(t, 1, got["deleted_count"])
	assert.LessOrEqual(t, got["deleted_count"], len(ids))

	w = env.do(t, http.MethodPatch, "/api/contacts/"+first.ID, map[string]string{"name": "x"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"Contact not found."}`, w.Body.String())
}

func TestSendMessageQueuesDelivery(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	require.Equal(t, http.StatusOK, env.webhook(t, inbound("m1", "5511", "hello")).Code)
	contacts, err := env.store.ListContacts(context.Background())
	require.NoError(t, err)
	id := contacts[0].ID

	w := env.do(t, http.MethodPost, "/api/messages", map[string]any{
		"contact_id": id, "content_type": "text", "text_content": "reply", "platform": "whatsapp",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode[model.Message](t, w)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, model.SenderAgent, msg.SenderType)

	status, _, err := env.store.OutboxStatusOf(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxQueued, status)

	w = env.do(t, http.MethodPost, "/api/messages", map[string]any{
		"contact_id": id, "content_type": "image", "platform": "whatsapp",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/messages", map[string]any{
		"contact_id": id, "content_type": "text", "text_content": "x", "platform": "instagram",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/messages", map[string]any{
		"contact_id": "missing", "content_type": "text", "text_content": "x",
	}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBackupContacts(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	name := "Jo,e"
	in := inbound("m1", "123", "hi")
	in.Name = &name
	require.Equal(t, http.StatusOK, env.webhook(t, in).Code)
	fb := inbound("m2", "fb1", "hi")
	fb.Platform = model.PlatformFacebook
	require.Equal(t, http.StatusOK, env.webhook(t, fb).Code)

	w := env.do(t, http.MethodGet, "/api/backup/whatsapp-contacts", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"Jo,e","platform_user_id":"123"}]`, w.Body.String())
}

func TestBotNotConfigured(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/whatsapp/start"},
		{http.MethodGet, "/api/whatsapp/health"},
	} {
		w := env.do(t, tc.method, tc.path, nil, true)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"status":"error","message":"WhatsApp bot API URL is not configured."}`, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/api/whatsapp/start", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"info","message":"Check bot status using the /api/whatsapp/health endpoint."}`, w.Body.String())
}

func TestBotStart(t *testing.T) {
	startStatus := http.StatusOK
	startBody := `{"qrCodeData":"2@qr-payload"}`
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(startStatus)
		io.WriteString(w, startBody)
	}))
	defer bot.Close()
	env := newTestEnv(t, bot.URL, defaultAuth())

	w := env.do(t, http.MethodPost, "/api/whatsapp/start", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","message":"QR code received","qrCode":"2@qr-payload"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/whatsapp/start?format=png&size=128", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	tests := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusOK, `{}`, "QR code data not received from bot API."},
		{http.StatusBadGateway, `{}`, "Error from bot API: 502"},
		{http.StatusConflict, `{"message":"already paired"}`, "already paired"},
	}
	for _, tt := range tests {
		startStatus, startBody = tt.status, tt.body
		w = env.do(t, http.MethodPost, "/api/whatsapp/start", nil, true)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, tt.want, decode[map[string]string](t, w)["message"])
	}
}

func TestBotHealthPassthrough(t *testing.T) {
	status := http.StatusOK
	body := `{"status":"connected","uptime":12}`
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Bot", "1")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	env := newTestEnv(t, bot.URL, defaultAuth())

	w := env.do(t, http.MethodGet, "/api/whatsapp/health", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, body, w.Body.String())

	status, body = http.StatusServiceUnavailable, `degraded, not json`
	w = env.do(t, http.MethodGet, "/api/whatsapp/health", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, body, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Bot"))

	url := bot.URL
	bot.Close()
	w = env.do(t, http.MethodGet, "/api/whatsapp/health", nil, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to connect to WhatsApp bot health endpoint at "+url+"/health.", decode[map[string]string](t, w)["message"])
}

func TestRealtimeWebsocket(t *testing.T) {
	env := newTestEnv(t, "", defaultAuth())
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/realtime/messages?contact_id=c1"

	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + env.token}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	text := "pushed"
	env.bus.Emit(bus.KindMessageInserted, model.Message{ID: "x", ContactID: "other", ContentType: model.ContentText, TextContent: &text})
	env.bus.Emit(bus.KindMessageInserted, model.Message{ID: "m9", ContactID: "c1", ContentType: model.ContentText, TextContent: &text})

	var got model.Message
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "m9", got.ID)
	conn.Close(websocket.StatusNormalClosure, "")
}
