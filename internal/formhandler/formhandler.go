// Package formhandler implements the email_form_handler ProxyRule
// dispatch (§4.I): request validation, honeypot, rate limiting, body
// parsing, and composition of a message handed off to an external
// EmailTransport.
package formhandler

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/scanloop"
)

// Message is a composed submission ready for dispatch.
type Message struct {
	DestinationEmail string
	ReplyTo          string
	Subject          string
	HTMLBody         string
	TextBody         string
}

// EmailTransport sends a composed Message. It is an external
// collaborator — no implementation is provided here.
type EmailTransport interface {
	Send(m Message) error
}

// SessionIdentity is the user identity attached to a request when a
// rule's RequireAuth is set, resolved by an external collaborator (the
// admin/session layer) before Handle is called.
type SessionIdentity struct {
	UserID string
	Email  string
}

// SessionValidator resolves the caller's session, if any.
type SessionValidator interface {
	Validate(r *http.Request) (SessionIdentity, bool)
}

const (
	// RateLimitMax is the maximum successful submissions allowed per
	// source IP within RateLimitWindow.
	RateLimitMax    = 10
	RateLimitWindow = time.Hour
)

// Handler dispatches POST requests matched to an email_form_handler
// ProxyRule.
type Handler struct {
	transport EmailTransport
	sessions  SessionValidator
	limiter   *rateLimiter
	stopCh    chan struct{}
}

// New builds a Handler. transport may be nil, in which case matched
// requests receive a 503 (email transport unconfigured). sessions may be
// nil if no rule in the system sets RequireAuth.
func New(transport EmailTransport, sessions SessionValidator) *Handler {
	h := &Handler{
		transport: transport,
		sessions:  sessions,
		limiter:   newRateLimiter(),
		stopCh:    make(chan struct{}),
	}
	go scanloop.Run(h.stopCh, scanloop.DefaultMinInterval, scanloop.DefaultJitterRange, h.limiter.sweep)
	return h
}

// Close stops the rate-limit sweep goroutine.
func (h *Handler) Close() { close(h.stopCh) }

// Handle serves a request matched to an email_form_handler rule.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, cfg model.EmailHandlerConfig) {
	if cfg.CorsOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", cfg.CorsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		apperr.WriteHTTP(w, apperr.New(apperr.KindBadRequest, "METHOD_NOT_ALLOWED", "only POST is accepted"))
		return
	}

	var identity SessionIdentity
	if cfg.RequireAuth {
		if h.sessions == nil {
			apperr.WriteHTTP(w, apperr.New(apperr.KindForbidden, "AUTH_REQUIRED", "session required"))
			return
		}
		id, ok := h.sessions.Validate(r)
		if !ok {
			apperr.WriteHTTP(w, apperr.New(apperr.KindForbidden, "AUTH_REQUIRED", "session required"))
			return
		}
		identity = id
	}

	sourceIP := clientIP(r)
	if !h.limiter.allow(sourceIP) {
		apperr.WriteHTTP(w, apperr.New(apperr.KindQuotaExceeded, "RATE_LIMITED", "too many submissions from this source"))
		return
	}

	fields, err := parseBody(r)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	if cfg.HoneypotField != "" && strings.TrimSpace(fields[cfg.HoneypotField]) != "" {
		// Silent drop: behave exactly like a real success so the bot
		// harvesting this field learns nothing.
		h.limiter.record(sourceIP)
		writeSuccess(w, r, cfg)
		return
	}

	if h.transport == nil {
		apperr.WriteHTTP(w, apperr.New(apperr.KindUnavailable, "EMAIL_TRANSPORT_UNCONFIGURED", "email transport is not configured"))
		return
	}
	if cfg.DestinationEmail == "" {
		apperr.WriteHTTP(w, apperr.New(apperr.KindInternal, "DESTINATION_EMAIL_MISSING", "email handler has no destination address"))
		return
	}

	msg := compose(cfg, fields, identity)
	if err := h.transport.Send(msg); err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindInternal, "EMAIL_SEND_FAILED", "failed to send form submission", err))
		return
	}

	h.limiter.record(sourceIP)
	writeSuccess(w, r, cfg)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, cfg model.EmailHandlerConfig) {
	if cfg.SuccessRedirect != "" {
		http.Redirect(w, r, cfg.SuccessRedirect, http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// clientIP derives the submitting IP: the first X-Forwarded-For entry,
// else the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if host, _, err := splitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return addr, "", fmt.Errorf("formhandler: no port in %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// parseBody reads the submission fields from a JSON object, a urlencoded
// form, or a multipart form without file parts.
func parseBody(r *http.Request) (map[string]string, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "INVALID_CONTENT_TYPE", "could not parse content-type", err)
	}

	fields := make(map[string]string)
	switch {
	case mediaType == "application/json":
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, apperr.Wrap(apperr.KindBadRequest, "INVALID_JSON_BODY", "malformed json body", err)
		}
		for k, v := range raw {
			fields[k] = fmt.Sprintf("%v", v)
		}
	case mediaType == "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, apperr.Wrap(apperr.KindBadRequest, "INVALID_FORM_BODY", "malformed urlencoded body", err)
		}
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return nil, apperr.Wrap(apperr.KindBadRequest, "INVALID_MULTIPART_BODY", "malformed multipart body", err)
		}
		for k := range r.MultipartForm.Value {
			fields[k] = r.FormValue(k)
		}
	default:
		return nil, apperr.New(apperr.KindBadRequest, "UNSUPPORTED_CONTENT_TYPE", "unsupported form content-type")
	}
	return fields, nil
}

// compose builds the HTML and plain-text representations of the
// submitted fields, attaching a syntactically valid ReplyTo if present.
func compose(cfg model.EmailHandlerConfig, fields map[string]string, identity SessionIdentity) Message {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var text strings.Builder
	var html strings.Builder
	html.WriteString("<table>")
	for _, k := range keys {
		v := fields[k]
		fmt.Fprintf(&text, "%s: %s\n", k, v)
		fmt.Fprintf(&html, "<tr><th>%s</th><td>%s</td></tr>", htmlEscape(k), htmlEscape(v))
	}
	html.WriteString("</table>")

	replyTo := ""
	if cfg.ReplyToField != "" {
		if candidate := fields[cfg.ReplyToField]; candidate != "" {
			if addr, err := mail.ParseAddress(candidate); err == nil {
				replyTo = addr.Address
			}
		}
	}

	subject := "New form submission"
	if identity.Email != "" {
		subject = "New form submission from " + identity.Email
	}

	return Message{
		DestinationEmail: cfg.DestinationEmail,
		ReplyTo:          replyTo,
		Subject:          subject,
		HTMLBody:         html.String(),
		TextBody:         text.String(),
	}
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// rateLimiter tracks successful submissions per source IP within a
// rolling window. Each source's hit list is updated atomically via
// xsync.Map.Compute, so concurrent submissions from different sources
// never contend on a shared lock.
type rateLimiter struct {
	hits *xsync.Map[string, []time.Time]
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{hits: xsync.NewMap[string, []time.Time]()}
}

// allow reports whether source is currently under the rate limit. It does
// not itself count as a submission; callers call record after a
// successful dispatch.
func (rl *rateLimiter) allow(source string) bool {
	hits, _ := rl.hits.Load(source)
	return len(pruneBefore(hits, time.Now().Add(-RateLimitWindow))) < RateLimitMax
}

func (rl *rateLimiter) record(source string) {
	rl.hits.Compute(source, func(oldVal []time.Time, _ bool) ([]time.Time, xsync.ComputeOp) {
		pruned := pruneBefore(oldVal, time.Now().Add(-RateLimitWindow))
		return append(pruned, time.Now()), xsync.UpdateOp
	})
}

func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	kept := make([]time.Time, 0, len(hits))
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	return kept
}

// sweep periodically evicts sources with no hits left in the window, so
// the map does not grow unbounded with one-time visitors.
func (rl *rateLimiter) sweep() {
	cutoff := time.Now().Add(-RateLimitWindow)
	rl.hits.Range(func(source string, _ []time.Time) bool {
		rl.hits.Compute(source, func(oldVal []time.Time, _ bool) ([]time.Time, xsync.ComputeOp) {
			pruned := pruneBefore(oldVal, cutoff)
			if len(pruned) == 0 {
				return nil, xsync.DeleteOp
			}
			return pruned, xsync.UpdateOp
		})
		return true
	})
}
