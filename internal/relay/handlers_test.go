package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/flemzord/tgrelay/internal/journal"
	"github.com/flemzord/tgrelay/internal/telegram"
)

// fakeSender is a test double for the Sender interface. It always records
// the request; SendFunc, if set, decides the outcome.
type fakeSender struct {
	mu   sync.Mutex
	sent []telegram.SendMessageRequest

	SendFunc func(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
}

func (f *fakeSender) SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()

	if f.SendFunc != nil {
		return f.SendFunc(ctx, req)
	}
	return &telegram.Message{MessageID: 1}, nil
}

// Sent returns a copy of all recorded requests.
func (f *fakeSender) Sent() []telegram.SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]telegram.SendMessageRequest, len(f.sent))
	copy(cp, f.sent)
	return cp
}

// fakeRecorder is a test double for the Recorder interface.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeRecorder) Record(_ context.Context, e journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeRecorder) Entries() []journal.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]journal.Entry, len(f.entries))
	copy(cp, f.entries)
	return cp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(sender Sender) *Server {
	return New(Options{
		ListenAddr:  "127.0.0.1:0",
		ChatID:      4242,
		BotUsername: "relay_bot",
		Version:     "test",
		Sender:      sender,
		Logger:      discardLogger(),
	})
}

func post(t *testing.T, h http.Handler, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()

	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestRelay_RawBody(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "text/plain", "server down", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "sent" {
		t.Errorf("status = %q, want %q", resp.Status, "sent")
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	if sent[0].ChatID != 4242 {
		t.Errorf("ChatID = %d, want 4242", sent[0].ChatID)
	}
	if sent[0].Text != "server down" {
		t.Errorf("Text = %q, want %q", sent[0].Text, "server down")
	}
	if sent[0].ParseMode != "" {
		t.Errorf("ParseMode = %q, want empty", sent[0].ParseMode)
	}
}

func TestRelay_JSONBody(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "application/json", `{"message":"deploy finished"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	if sent[0].Text != "deploy finished" {
		t.Errorf("Text = %q, want %q", sent[0].Text, "deploy finished")
	}
}

func TestRelay_JSONContentTypeWithCharset(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "application/json; charset=utf-8", `{"message":"hi"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Text != "hi" {
		t.Errorf("sent = %+v, want one send with text %q", sent, "hi")
	}
}

func TestRelay_ParseModeHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"markdown", "MarkdownV2"},
		{"MARKDOWN", "MarkdownV2"},
		{"html", "HTML"},
		{"HtMl", "HTML"},
		{"boldly", ""},
		{"", ""},
	}

	for _, tt := range tests {
		sender := &fakeSender{}
		h := newTestServer(sender).buildRouter()

		var headers map[string]string
		if tt.header != "" {
			headers = map[string]string{"Telegram-Parse-Mode": tt.header}
		}

		rr := post(t, h, "text/plain", "x", headers)
		if rr.Code != http.StatusOK {
			t.Fatalf("header %q: status = %d, want %d", tt.header, rr.Code, http.StatusOK)
		}

		sent := sender.Sent()
		if len(sent) != 1 {
			t.Fatalf("header %q: sends = %d, want 1", tt.header, len(sent))
		}
		if sent[0].ParseMode != tt.want {
			t.Errorf("header %q: ParseMode = %q, want %q", tt.header, sent[0].ParseMode, tt.want)
		}
	}
}

func TestRelay_RemoteFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		SendFunc: func(context.Context, telegram.SendMessageRequest) (*telegram.Message, error) {
			return nil, &telegram.APIError{Code: 400, Description: "Bad Request: chat not found"}
		},
	}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "application/json", `{"message":"alert"}`, map[string]string{"Telegram-Parse-Mode": "markdown"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}

	msg := decodeError(t, rr)
	if !strings.HasPrefix(msg, "telegram send failed: ") {
		t.Errorf("error = %q, want telegram send failed prefix", msg)
	}
	if !strings.Contains(msg, "chat not found") {
		t.Errorf("error = %q, want upstream detail", msg)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	if sent[0].ParseMode != "MarkdownV2" {
		t.Errorf("ParseMode = %q, want %q", sent[0].ParseMode, "MarkdownV2")
	}
}

func TestRelay_EmptyBody(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "text/plain", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if msg := decodeError(t, rr); msg != "empty body" {
		t.Errorf("error = %q, want %q", msg, "empty body")
	}
	if n := len(sender.Sent()); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
}

func TestRelay_EmptyJSONMessageIsForwarded(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "application/json", `{"message":""}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	if sent[0].Text != "" {
		t.Errorf("Text = %q, want empty", sent[0].Text)
	}
}

func TestRelay_InvalidJSON(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "application/json", "{oops", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if msg := decodeError(t, rr); !strings.HasPrefix(msg, "invalid JSON: ") {
		t.Errorf("error = %q, want invalid JSON prefix", msg)
	}
	if n := len(sender.Sent()); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
}

func TestRelay_MissingMessageField(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "application/json", `{"note":"x"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if msg := decodeError(t, rr); msg != `invalid JSON: missing field "message"` {
		t.Errorf("error = %q", msg)
	}
	if n := len(sender.Sent()); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
}

func TestRelay_InvalidUTF8(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "application/octet-stream", string([]byte{0xff, 0xfe, 0xfd}), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if msg := decodeError(t, rr); msg != "invalid UTF-8 in request body" {
		t.Errorf("error = %q, want %q", msg, "invalid UTF-8 in request body")
	}
	if n := len(sender.Sent()); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
}

func TestRelay_OversizedBody(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	rr := post(t, h, "text/plain", strings.Repeat("a", maxBodyBytes+1), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if n := len(sender.Sent()); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
}

func TestRelay_JournalRecordsOutcomes(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	recorder := &fakeRecorder{}

	srv := New(Options{
		ListenAddr: "127.0.0.1:0",
		ChatID:     4242,
		Sender:     sender,
		Journal:    recorder,
		Logger:     discardLogger(),
	})
	h := srv.buildRouter()

	if rr := post(t, h, "text/plain", "héllo", nil); rr.Code != http.StatusOK {
		t.Fatalf("first POST status = %d, want %d", rr.Code, http.StatusOK)
	}

	sender.SendFunc = func(context.Context, telegram.SendMessageRequest) (*telegram.Message, error) {
		return nil, &telegram.APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	}
	if rr := post(t, h, "text/plain", "again", map[string]string{"Telegram-Parse-Mode": "html"}); rr.Code != http.StatusBadGateway {
		t.Fatalf("second POST status = %d, want %d", rr.Code, http.StatusBadGateway)
	}

	entries := recorder.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	if entries[0].Outcome != journal.OutcomeSent {
		t.Errorf("entries[0].Outcome = %q, want %q", entries[0].Outcome, journal.OutcomeSent)
	}
	if entries[0].Chars != 5 {
		t.Errorf("entries[0].Chars = %d, want 5", entries[0].Chars)
	}
	if entries[0].ChatID != 4242 {
		t.Errorf("entries[0].ChatID = %d, want 4242", entries[0].ChatID)
	}

	if entries[1].Outcome != journal.OutcomeFailed {
		t.Errorf("entries[1].Outcome = %q, want %q", entries[1].Outcome, journal.OutcomeFailed)
	}
	if !strings.Contains(entries[1].Detail, "bot was blocked") {
		t.Errorf("entries[1].Detail = %q, want the failure reason", entries[1].Detail)
	}
	if entries[1].ParseMode != "HTML" {
		t.Errorf("entries[1].ParseMode = %q, want %q", entries[1].ParseMode, "HTML")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeSender{}).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeSender{}).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
	if resp.BotUsername != "relay_bot" {
		t.Errorf("BotUsername = %q, want %q", resp.BotUsername, "relay_bot")
	}
	if resp.ChatID != 4242 {
		t.Errorf("ChatID = %d, want 4242", resp.ChatID)
	}
	if resp.Version != "test" {
		t.Errorf("Version = %q, want %q", resp.Version, "test")
	}
	if resp.Journal {
		t.Error("Journal = true, want false")
	}
	if resp.Heartbeat {
		t.Error("Heartbeat = true, want false")
	}
}

func TestUnknownRouteAndWrongMethod(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeSender{}).buildRouter()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/"},
		{http.MethodPost, "/health"},
		{http.MethodDelete, "/status"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, rr.Code, http.StatusNotFound)
		}
		if msg := decodeError(t, rr); msg != "not found" {
			t.Errorf("%s %s: error = %q, want %q", tc.method, tc.path, msg, "not found")
		}
	}
}

func TestMetricsExposition(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newTestServer(sender).buildRouter()

	if rr := post(t, h, "text/plain", "ping", nil); rr.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want %d", rr.Code, http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `tgrelay_deliveries_total{outcome="sent"} 1`) {
		t.Errorf("exposition missing delivery counter:\n%s", body)
	}
	if !strings.Contains(body, `tgrelay_http_requests_total{code="200"} 1`) {
		t.Errorf("exposition missing request counter:\n%s", body)
	}
	if !strings.Contains(body, "tgrelay_delivery_duration_seconds") {
		t.Errorf("exposition missing duration histogram:\n%s", body)
	}
}
