package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

func TestBuildTargetJoinsPathAndQuery(t *testing.T) {
	rule := model.ProxyRule{TargetURL: "https://backend.internal/svc"}
	target, err := BuildTarget(rule, "/users/1", "page=2")
	if err != nil {
		t.Fatalf("build target: %v", err)
	}
	if target.String() != "https://backend.internal/svc/users/1?page=2" {
		t.Fatalf("unexpected target: %s", target.String())
	}
}

func TestBuildTargetInvalidURL(t *testing.T) {
	rule := model.ProxyRule{TargetURL: "://bad"}
	if _, err := BuildTarget(rule, "/x", ""); err == nil {
		t.Fatal("expected error for invalid target url")
	}
}

func TestAssembleHeadersForwardAllowlist(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("X-Keep", "1")
	req.Header.Set("X-Drop", "2")
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	rule := model.ProxyRule{
		HeaderConfig: model.HeaderConfig{
			Forward: []string{"X-Keep"},
			Add:     map[string]string{"X-Injected": "yes"},
		},
		ForwardCookies: false,
	}
	assembleHeaders(req, rule)

	if req.Header.Get("X-Keep") != "1" {
		t.Fatalf("expected X-Keep preserved")
	}
	if req.Header.Get("X-Drop") != "" {
		t.Fatalf("expected X-Drop stripped by allowlist")
	}
	if req.Header.Get("Cookie") != "" {
		t.Fatalf("expected cookie stripped when ForwardCookies=false")
	}
	if req.Header.Get("X-Forwarded-For") != "" {
		t.Fatalf("expected forwarding identity header stripped")
	}
	if req.Header.Get("X-Injected") != "yes" {
		t.Fatalf("expected injected header set")
	}
}

func TestAssembleHeadersStripList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("X-Secret", "1")
	rule := model.ProxyRule{HeaderConfig: model.HeaderConfig{Strip: []string{"X-Secret"}}}
	assembleHeaders(req, rule)
	if req.Header.Get("X-Secret") != "" {
		t.Fatalf("expected X-Secret stripped")
	}
}

func TestApplyAuthTransformCookieToBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok123"})
	rule := model.ProxyRule{AuthTransformKind: model.AuthTransformCookieBearer, AuthTransformArg: "session"}
	applyAuthTransform(req, rule)
	if got := req.Header.Get("Authorization"); got != "Bearer tok123" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestApplyAuthTransformMissingCookieClearsAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Basic xyz")
	rule := model.ProxyRule{AuthTransformKind: model.AuthTransformCookieBearer, AuthTransformArg: "session"}
	applyAuthTransform(req, rule)
	if req.Header.Get("Authorization") != "" {
		t.Fatalf("expected authorization cleared when cookie absent")
	}
}

func TestClassifyUpstreamErrorTimeout(t *testing.T) {
	err := classifyUpstreamError(context.DeadlineExceeded)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindUpstreamTimeout {
		t.Fatalf("expected upstream timeout kind, got %+v", err)
	}
}

func TestClassifyUpstreamErrorGeneric(t *testing.T) {
	err := classifyUpstreamError(errors.New("connection reset"))
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindUpstreamFailure {
		t.Fatalf("expected upstream failure kind, got %+v", err)
	}
}

func TestForwarderServeHTTPStreamsUpstreamResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/1" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		w.Header().Set("X-From-Upstream", "1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	f := NewForwarder(NewSSRFGuard([]string{"127.0.0.1"}), nil)
	rule := model.ProxyRule{TargetURL: upstream.URL, ProxyType: model.ProxyExternal}

	req := httptest.NewRequest(http.MethodGet, "http://edge.example.com/api/users/1", nil)
	req.Host = "edge.example.com"
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req, rule, "/users/1")

	resp := rec.Result()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "hello" {
		t.Fatalf("unexpected response: status=%d body=%q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-From-Upstream") != "1" {
		t.Fatalf("expected upstream header to pass through")
	}
}

func TestForwarderServeHTTPBlocksSSRFTarget(t *testing.T) {
	f := NewForwarder(NewSSRFGuard(nil), nil)
	rule := model.ProxyRule{TargetURL: "http://169.254.169.254/latest/meta-data", ProxyType: model.ProxyExternal}

	req := httptest.NewRequest(http.MethodGet, "http://edge.example.com/meta", nil)
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req, rule, "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected ssrf rejection status 400, got %d", rec.Code)
	}
	if rec.Header().Get("X-Error-Code") != "SSRF_REJECTED" {
		t.Fatalf("expected SSRF_REJECTED code, got %q", rec.Header().Get("X-Error-Code"))
	}
}

func TestForwarderServeHTTPTimesOutOnSlowUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := NewForwarder(NewSSRFGuard([]string{"127.0.0.1"}), nil)
	rule := model.ProxyRule{TargetURL: upstream.URL, ProxyType: model.ProxyExternal, TimeoutMs: 5}

	req := httptest.NewRequest(http.MethodGet, "http://edge.example.com/slow", nil)
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req, rule, "")

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on timeout, got %d", rec.Code)
	}
}
