package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/http/middleware"
	"github.com/diagnosis/zks-preview/internal/platform/auth"
	"github.com/diagnosis/zks-preview/internal/platform/mailer"
	"github.com/diagnosis/zks-preview/internal/registry"
	"github.com/diagnosis/zks-preview/internal/repo/memory"
	"github.com/diagnosis/zks-preview/internal/session"
	"github.com/diagnosis/zks-preview/internal/upstream"
	"github.com/diagnosis/zks-preview/pkg/metrics"
)

// ---------- Mocks ----------

type mockChat struct {
	answer  string
	err     error
	lastURL string
	lastMsg upstream.Message
}

func (m *mockChat) Send(_ context.Context, webhookURL string, msg upstream.Message) (string, error) {
	m.lastURL = webhookURL
	m.lastMsg = msg
	return m.answer, m.err
}

type mockMailer struct {
	mu      sync.Mutex
	invites []string
}

func (m *mockMailer) SendTestAccessInvite(_ context.Context, inv mailer.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites = append(m.invites, inv.Email+"|"+inv.Code+"|"+inv.Link)
	return nil
}

// ---------- Harness ----------

type testServer struct {
	t       *testing.T
	handler http.Handler
	mgr     *session.Manager
	chat    *mockChat
	mail    *mockMailer
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{t: t, chat: &mockChat{answer: "Hallo!"}, mail: &mockMailer{}, now: time.Now().Truncate(time.Second)}
	clock := func() time.Time { return ts.now }

	codec := auth.NewCodec("handler-test-secret", "zks-preview").WithClock(clock)
	secret, err := auth.NewAdminSecret("admin-pass", "")
	if err != nil {
		t.Fatalf("admin secret: %v", err)
	}
	reg := registry.New(memory.NewAccessCodeRepo(), nil).WithClock(clock)
	ts.mgr = session.NewManager(reg, memory.NewSessionRepo(), memory.NewAdminSessionRepo(), codec, secret, nil, session.Options{}).WithClock(clock)

	limits := memory.NewRateLimiter()
	ts.handler = NewRouter(RouterDeps{
		Sessions:      ts.mgr,
		Chat:          ts.chat,
		EmailSvc:      ts.mail,
		Metrics:       metrics.New(),
		RedeemLimiter: middleware.NewRateLimiter(limits, middleware.RateLimitConfig{Name: "redeem", Requests: 10, Window: time.Minute}),
		LoginLimiter:  middleware.NewRateLimiter(limits, middleware.RateLimitConfig{Name: "login", Requests: 5, Window: time.Minute}),
		SiteURL:       "https://zks.example",
		ChatOptions: ChatOptions{
			FallbackText:   "Bitte später erneut versuchen.",
			ContactURL:     "/kontakt",
			VoicePublicKey: "pk-test",
		},
	})
	return ts
}

func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:4711"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) adminToken() string {
	ts.t.Helper()
	rr := ts.do(http.MethodPost, "/admin/login", "", map[string]string{"password": "admin-pass"})
	if rr.Code != http.StatusOK {
		ts.t.Fatalf("admin login: %d %s", rr.Code, rr.Body.String())
	}
	var out domain.AdminLoginResponse
	decode(ts.t, rr, &out)
	return out.Token
}

func (ts *testServer) createCode(admin string, body map[string]interface{}) {
	ts.t.Helper()
	rr := ts.do(http.MethodPost, "/admin/testcodes", admin, body)
	if rr.Code != http.StatusOK {
		ts.t.Fatalf("create code: %d %s", rr.Code, rr.Body.String())
	}
}

func (ts *testServer) redeem(email, code string) (*httptest.ResponseRecorder, domain.TestAccessResponse) {
	ts.t.Helper()
	rr := ts.do(http.MethodPost, "/test-access", "", map[string]string{"email": email, "accessCode": code})
	var out domain.TestAccessResponse
	if rr.Code == http.StatusCreated {
		decode(ts.t, rr, &out)
	}
	return rr, out
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
}

func demoCode(emails ...string) map[string]interface{} {
	return map[string]interface{}{
		"code":           "ZKS-DEMO-2024",
		"emails":         emails,
		"customerName":   "Foo GmbH",
		"expiresInHours": 48,
		"botConfig": map[string]string{
			"webhookUrl":       "https://n8n.example/webhook/foo",
			"botName":          "Ava",
			"greeting":         "Hallo!",
			"voiceAssistantId": "asst-1",
		},
	}
}

// ---------- Tests ----------

func TestRedeemAndSession(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()
	ts.createCode(admin, demoCode("user@foo.de"))

	rr, resp := ts.redeem("User@Foo.DE", "zks-demo-2024")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp.Token == "" || resp.AccessCode != "ZKS-DEMO-2024" || resp.BotConfig == nil || resp.BotConfig.BotName != "Ava" {
		t.Fatalf("unexpected redemption response: %+v", resp)
	}

	rr = ts.do(http.MethodGet, "/test-session", resp.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var sess domain.TestSessionResponse
	decode(t, rr, &sess)
	if !sess.Valid || sess.Email != "user@foo.de" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestRedeem_InvalidCredentialIsUniform(t *testing.T) {
	ts := newTestServer(t)
	ts.createCode(ts.adminToken(), demoCode("user@foo.de"))

	wrongEmail, _ := ts.redeem("other@foo.de", "ZKS-DEMO-2024")
	wrongCode, _ := ts.redeem("user@foo.de", "NOPE")

	if wrongEmail.Code != http.StatusUnauthorized || wrongCode.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401s, got %d and %d", wrongEmail.Code, wrongCode.Code)
	}
	if wrongEmail.Body.String() != wrongCode.Body.String() {
		t.Fatalf("responses must not reveal which field was wrong: %q vs %q", wrongEmail.Body.String(), wrongCode.Body.String())
	}
}

func TestRedeem_ValidationDetails(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/test-access", "", map[string]string{"email": "nope"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var out struct {
		Code    string              `json:"code"`
		Details []domain.FieldError `json:"details"`
	}
	decode(t, rr, &out)
	if out.Code != "INVALID_INPUT" || len(out.Details) != 2 {
		t.Fatalf("unexpected validation response: %+v", out)
	}

	rr = ts.do(http.MethodPost, "/test-access", "", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rr.Code)
	}
}

func TestRedeem_RateLimited(t *testing.T) {
	ts := newTestServer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		last, _ = ts.redeem("user@foo.de", "NOPE")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 11th attempt, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", last.Header().Get("Retry-After"))
	}
}

func TestAdminLogin_SpoofedForwardedForIsLimited(t *testing.T) {
	ts := newTestServer(t)

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"password":"guess"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		req.RemoteAddr = "203.0.113.7:4711"
		rr := httptest.NewRecorder()
		ts.handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 15 {
		t.Fatalf("expected 15 of 20 guesses limited, got %d", limited)
	}
}

func TestTrustProxyUsesForwardedAddress(t *testing.T) {
	ts := newTestServer(t)
	limits := memory.NewRateLimiter()
	ts.handler = NewRouter(RouterDeps{
		Sessions:      ts.mgr,
		Chat:          ts.chat,
		EmailSvc:      ts.mail,
		RedeemLimiter: middleware.NewRateLimiter(limits, middleware.RateLimitConfig{Name: "redeem", Requests: 10, Window: time.Minute}),
		LoginLimiter:  middleware.NewRateLimiter(limits, middleware.RateLimitConfig{Name: "login", Requests: 1, Window: time.Minute}),
		TrustProxy:    true,
	})

	login := func(clientIP string) int {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"password":"guess"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", clientIP)
		req.RemoteAddr = "10.0.0.2:5000"
		rr := httptest.NewRecorder()
		ts.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := login("198.51.100.1"); code != http.StatusUnauthorized {
		t.Fatalf("first client: expected 401, got %d", code)
	}
	if code := login("198.51.100.1"); code != http.StatusTooManyRequests {
		t.Fatalf("first client again: expected 429, got %d", code)
	}
	if code := login("198.51.100.2"); code != http.StatusUnauthorized {
		t.Fatalf("behind a trusted proxy clients are keyed separately, got %d", code)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/test-session"},
		{http.MethodPost, "/chat"},
		{http.MethodGet, "/voice/config"},
		{http.MethodGet, "/admin/session"},
		{http.MethodGet, "/admin/testcodes"},
		{http.MethodPost, "/admin/testcodes"},
		{http.MethodDelete, "/admin/testcodes/X"},
	} {
		rr := ts.do(tc.method, tc.path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestAdminIsolation(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()
	ts.createCode(admin, demoCode("user@foo.de"))
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	if rr := ts.do(http.MethodGet, "/admin/testcodes", resp.Token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("test token must not reach admin endpoints, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/test-session", admin, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("admin token is not a test session, got %d", rr.Code)
	}
	rr := ts.do(http.MethodPost, "/admin/login", "", map[string]string{"password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rr.Code)
	}
	var out struct {
		Code string `json:"code"`
	}
	decode(t, rr, &out)
	if out.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED for wrong password, got %q", out.Code)
	}
}

func TestDeleteCodeRevokesSessions(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()
	ts.createCode(admin, demoCode("user@foo.de"))
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	rr := ts.do(http.MethodDelete, "/admin/testcodes/zks-demo-2024", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/test-session", resp.Token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after delete, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodDelete, "/admin/testcodes/ZKS-DEMO-2024", admin, nil); rr.Code != http.StatusOK {
		t.Fatalf("deleting a missing code is a no-op, got %d", rr.Code)
	}
}

func TestUpdateAllowListEndpoint(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()
	ts.createCode(admin, demoCode("a@foo.de", "b@foo.de"))
	_, a := ts.redeem("a@foo.de", "ZKS-DEMO-2024")
	_, b := ts.redeem("b@foo.de", "ZKS-DEMO-2024")

	rr := ts.do(http.MethodPut, "/admin/testcodes/ZKS-DEMO-2024/emails", admin, map[string]interface{}{"emails": []string{"b@foo.de"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := ts.do(http.MethodGet, "/test-session", a.Token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("removed email must lose access, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/test-session", b.Token, nil); rr.Code != http.StatusOK {
		t.Fatalf("remaining email keeps access, got %d", rr.Code)
	}

	rr = ts.do(http.MethodPut, "/admin/testcodes/MISSING/emails", admin, map[string]interface{}{"emails": []string{"b@foo.de"}})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListCodesShowsUsageAndIsActive(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()
	ts.createCode(admin, demoCode("user@foo.de"))
	ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	rr := ts.do(http.MethodGet, "/admin/testcodes", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Data []domain.AccessCodeWithUsage `json:"data"`
	}
	decode(t, rr, &out)
	if len(out.Data) != 1 || !out.Data[0].IsActive || out.Data[0].Usage.ActiveSessionCount != 1 {
		t.Fatalf("unexpected list: %+v", out.Data)
	}

	rr = ts.do(http.MethodGet, "/admin/testcodes/ZKS-DEMO-2024/usage", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for usage, got %d", rr.Code)
	}
	rr = ts.do(http.MethodGet, "/admin/sessions?code=ZKS-DEMO-2024", admin, nil)
	if rr.Code != http.StatusOK || strings.Contains(rr.Body.String(), "token") {
		t.Fatalf("session list must not expose tokens: %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreateCodeNotifySendsInvites(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()

	body := demoCode("a@foo.de", "b@foo.de")
	body["notify"] = true
	ts.createCode(admin, body)

	deadline := time.Now().Add(2 * time.Second)
	for {
		ts.mail.mu.Lock()
		n := len(ts.mail.invites)
		ts.mail.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 invites, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	ts.mail.mu.Lock()
	defer ts.mail.mu.Unlock()
	if !strings.Contains(ts.mail.invites[0], "|ZKS-DEMO-2024|https://zks.example/preview?") {
		t.Fatalf("unexpected invite: %s", ts.mail.invites[0])
	}
}

func TestCreateCodeValidation(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()

	rr := ts.do(http.MethodPost, "/admin/testcodes", admin, map[string]interface{}{"code": "X", "emails": []string{"a@foo.de"}, "expiresInHours": 0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestChatRelay(t *testing.T) {
	ts := newTestServer(t)
	ts.createCode(ts.adminToken(), demoCode("user@foo.de"))
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	rr := ts.do(http.MethodPost, "/chat", resp.Token, map[string]string{"message": "Hallo"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out domain.ChatResponse
	decode(t, rr, &out)
	if out.Response != "Hallo!" || out.Fallback {
		t.Fatalf("unexpected chat response: %+v", out)
	}
	if ts.chat.lastURL != "https://n8n.example/webhook/foo" || ts.chat.lastMsg.BotName != "Ava" || ts.chat.lastMsg.Email != "user@foo.de" {
		t.Fatalf("unexpected upstream call: %s %+v", ts.chat.lastURL, ts.chat.lastMsg)
	}
}

func TestChatUsesBotConfigFromRedemption(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()

	body := demoCode("user@foo.de")
	body["botConfig"] = map[string]string{"webhookUrl": "https://old.example/hook", "botName": "Old"}
	ts.createCode(admin, body)
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	body["botConfig"] = map[string]string{"webhookUrl": "https://new.example/hook", "botName": "New"}
	ts.createCode(admin, body)

	rr := ts.do(http.MethodPost, "/chat", resp.Token, map[string]string{"message": "Hallo"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ts.chat.lastURL != "https://old.example/hook" || ts.chat.lastMsg.BotName != "Old" {
		t.Fatalf("live session must keep its bot config, got %s %+v", ts.chat.lastURL, ts.chat.lastMsg)
	}

	_, fresh := ts.redeem("user@foo.de", "ZKS-DEMO-2024")
	ts.do(http.MethodPost, "/chat", fresh.Token, map[string]string{"message": "Hallo"})
	if ts.chat.lastURL != "https://new.example/hook" {
		t.Fatalf("new session should use the current bot config, got %s", ts.chat.lastURL)
	}
}

func TestChatFallbackOnUpstreamFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.createCode(ts.adminToken(), demoCode("user@foo.de"))
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	ts.chat.err = upstream.ErrUnavailable
	rr := ts.do(http.MethodPost, "/chat", resp.Token, map[string]string{"message": "Hallo"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 fallback, got %d", rr.Code)
	}
	var out domain.ChatResponse
	decode(t, rr, &out)
	if !out.Fallback || out.ContactURL != "/kontakt" || out.Response == "" {
		t.Fatalf("unexpected fallback: %+v", out)
	}

	ts.chat.err = upstream.ErrNoWebhook
	rr = ts.do(http.MethodPost, "/chat", resp.Token, map[string]string{"message": "Hallo"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 without webhook, got %d", rr.Code)
	}
}

func TestChatFallbackOnSlowUpstream(t *testing.T) {
	ts := newTestServer(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	// swap the mock for a real client with a short timeout
	client := upstream.NewChatClient(slow.URL, 50*time.Millisecond)
	ts.handler = NewRouter(RouterDeps{
		Sessions:    ts.mgr,
		Chat:        client,
		ChatOptions: ChatOptions{FallbackText: "later", ContactURL: "/kontakt"},
	})

	body := demoCode("user@foo.de")
	body["botConfig"] = map[string]string{"botName": "Ava"}
	admin := ts.adminToken()
	ts.createCode(admin, body)
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	rr := ts.do(http.MethodPost, "/chat", resp.Token, map[string]string{"message": "Hallo"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 fallback, got %d", rr.Code)
	}
	var out domain.ChatResponse
	decode(t, rr, &out)
	if !out.Fallback || out.Response != "later" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestVoiceConfig(t *testing.T) {
	ts := newTestServer(t)
	ts.createCode(ts.adminToken(), demoCode("user@foo.de"))
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	rr := ts.do(http.MethodGet, "/voice/config", resp.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out domain.VoiceConfigResponse
	decode(t, rr, &out)
	if out.AssistantID != "asst-1" || out.PublicKey != "pk-test" || out.BotName != "Ava" {
		t.Fatalf("unexpected voice config: %+v", out)
	}
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()
	ts.createCode(admin, demoCode("user@foo.de"))
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	if rr := ts.do(http.MethodDelete, "/test-session", resp.Token, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/test-session", resp.Token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodPost, "/admin/logout", admin, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/admin/session", admin, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after admin logout, got %d", rr.Code)
	}
}

func TestSessionExpiryOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	body := demoCode("user@foo.de")
	body["expiresInHours"] = 168
	ts.createCode(ts.adminToken(), body)
	_, resp := ts.redeem("user@foo.de", "ZKS-DEMO-2024")

	ts.now = ts.now.Add(23*time.Hour + 59*time.Minute)
	if rr := ts.do(http.MethodGet, "/test-session", resp.Token, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 at 23h59m, got %d", rr.Code)
	}
	ts.now = ts.now.Add(2 * time.Minute)
	if rr := ts.do(http.MethodGet, "/test-session", resp.Token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 at 24h01m, got %d", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	if rr := ts.do(http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rr.Code)
	}
	ts.redeem("nobody@foo.de", "NOPE")
	rr := ts.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "zks_preview_test_access_redemptions_total") {
		t.Fatalf("metrics missing redemption counter: %d", rr.Code)
	}
}
