package formhandler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/edgeserve/edgeserve/internal/model"
)

type fakeTransport struct {
	sent []Message
	err  error
}

func (f *fakeTransport) Send(m Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakeSessions struct {
	identity SessionIdentity
	ok       bool
}

func (f *fakeSessions) Validate(r *http.Request) (SessionIdentity, bool) {
	return f.identity, f.ok
}

func jsonRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/contact", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestHandleRejectsNonPost(t *testing.T) {
	h := New(&fakeTransport{}, nil)
	defer h.Close()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/contact", nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req, model.EmailHandlerConfig{DestinationEmail: "a@b.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRequiresAuthWhenConfigured(t *testing.T) {
	h := New(&fakeTransport{}, &fakeSessions{ok: false})
	defer h.Close()
	req := jsonRequest(`{"name":"a"}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, req, model.EmailHandlerConfig{DestinationEmail: "a@b.com", RequireAuth: true})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleHoneypotSilentDrop(t *testing.T) {
	transport := &fakeTransport{}
	h := New(transport, nil)
	defer h.Close()
	req := jsonRequest(`{"name":"a","website":"http://spam.example"}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, req, model.EmailHandlerConfig{DestinationEmail: "a@b.com", HoneypotField: "website"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on honeypot drop, got %d", rec.Code)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("expected no email sent on honeypot drop, got %d", len(transport.sent))
	}
}

func TestHandleComposesAndSendsJSON(t *testing.T) {
	transport := &fakeTransport{}
	h := New(transport, nil)
	defer h.Close()
	req := jsonRequest(`{"name":"Ada","message":"hello"}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, req, model.EmailHandlerConfig{DestinationEmail: "dest@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected 1 email sent, got %d", len(transport.sent))
	}
	msg := transport.sent[0]
	if msg.DestinationEmail != "dest@example.com" {
		t.Fatalf("unexpected destination: %s", msg.DestinationEmail)
	}
	if !strings.Contains(msg.TextBody, "name: Ada") {
		t.Fatalf("expected text body to include submitted field, got %q", msg.TextBody)
	}
}

func TestHandleMissingDestinationEmail(t *testing.T) {
	h := New(&fakeTransport{}, nil)
	defer h.Close()
	req := jsonRequest(`{"name":"a"}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, req, model.EmailHandlerConfig{})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandleUnconfiguredTransport(t *testing.T) {
	h := New(nil, nil)
	defer h.Close()
	req := jsonRequest(`{"name":"a"}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, req, model.EmailHandlerConfig{DestinationEmail: "a@b.com"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unconfigured transport, got %d", rec.Code)
	}
}

func TestHandleRateLimitsAfterTenSubmissions(t *testing.T) {
	transport := &fakeTransport{}
	h := New(transport, nil)
	defer h.Close()
	cfg := model.EmailHandlerConfig{DestinationEmail: "a@b.com"}

	for i := 0; i < RateLimitMax; i++ {
		req := jsonRequest(`{"n":"x"}`)
		req.Header.Set("X-Forwarded-For", "203.0.113.5")
		rec := httptest.NewRecorder()
		h.Handle(rec, req, cfg)
		if rec.Code != http.StatusOK {
			t.Fatalf("submission %d: expected 200, got %d", i, rec.Code)
		}
	}

	req := jsonRequest(`{"n":"x"}`)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	rec := httptest.NewRecorder()
	h.Handle(rec, req, cfg)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected quota-exceeded status, got %d", rec.Code)
	}

	other := jsonRequest(`{"n":"x"}`)
	other.Header.Set("X-Forwarded-For", "198.51.100.9")
	rec2 := httptest.NewRecorder()
	h.Handle(rec2, other, cfg)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected different source ip unaffected, got %d", rec2.Code)
	}
}

func TestHandleUrlencodedBody(t *testing.T) {
	transport := &fakeTransport{}
	h := New(transport, nil)
	defer h.Close()
	form := url.Values{"email": {"a@b.com"}, "message": {"hi"}}
	req := httptest.NewRequest(http.MethodPost, "http://example.com/contact", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Handle(rec, req, model.EmailHandlerConfig{DestinationEmail: "dest@example.com", ReplyToField: "email"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(transport.sent) != 1 || transport.sent[0].ReplyTo != "a@b.com" {
		t.Fatalf("expected reply-to extracted from email field: %+v", transport.sent)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/x", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "203.0.113.1" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/x", nil)
	req.RemoteAddr = "198.51.100.2:9999"
	if got := clientIP(req); got != "198.51.100.2" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
}
