// Package httpserver wires the public serving path (§4.F–§4.J) and the
// admin contract surface into the two net/http.ServeMux trees the process
// listens on, grounded on the teacher's internal/api/server.go: explicit
// route registration, no framework, structured [component] log lines on
// every request.
package httpserver

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/authz"
	"github.com/edgeserve/edgeserve/internal/cachehdr"
	"github.com/edgeserve/edgeserve/internal/crypto"
	"github.com/edgeserve/edgeserve/internal/formhandler"
	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/proxy"
	"github.com/edgeserve/edgeserve/internal/requestlog"
	"github.com/edgeserve/edgeserve/internal/router"
	"github.com/edgeserve/edgeserve/internal/rulecache"
	"github.com/edgeserve/edgeserve/internal/storage"
)

// AuthResolver is the external collaborator that turns an incoming
// request into an authz.AuthContext (session cookie or API key
// verification). Non-goal per §1; the server only consumes the result.
type AuthResolver interface {
	Resolve(r *http.Request) (authz.AuthContext, bool)
}

// Server serves the public asset/proxy/form path and the admin contract
// mux behind one process.
type Server struct {
	router       *router.Router
	rules        *rulecache.Cache
	gateway      storage.Gateway
	forwarder    *proxy.Forwarder
	forms        *formhandler.Handler
	sticky       *crypto.StickySigner
	oracle       authz.Oracle
	authResolver AuthResolver
	loginBaseURL string
	requestLog   *requestlog.Service
	logger       *slog.Logger
}

// Config bundles Server's collaborators.
type Config struct {
	Router       *router.Router
	Rules        *rulecache.Cache
	Gateway      storage.Gateway
	Forwarder    *proxy.Forwarder
	Forms        *formhandler.Handler
	Sticky       *crypto.StickySigner
	Oracle       authz.Oracle
	AuthResolver AuthResolver // nil means every private project is unreachable
	LoginBaseURL string       // scheme://host the redirect_login behavior sends visitors to
	RequestLog   *requestlog.Service // nil disables access logging
	Logger       *slog.Logger
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		router:       cfg.Router,
		rules:        cfg.Rules,
		gateway:      cfg.Gateway,
		forwarder:    cfg.Forwarder,
		forms:        cfg.Forms,
		sticky:       cfg.Sticky,
		oracle:       cfg.Oracle,
		authResolver: cfg.AuthResolver,
		loginBaseURL: cfg.LoginBaseURL,
		requestLog:   cfg.RequestLog,
		logger:       cfg.Logger,
	}
}

// PublicMux builds the net/http.ServeMux that serves end-user traffic:
// every host/path the platform has a domain mapping for.
func (s *Server) PublicMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serve)
	return mux
}

// AdminMux builds the internal admin contract mux. Per §6 [EXPANSION] the
// CRUD handler bodies are out of scope; this only exposes a health probe
// so the admin listener is a real, runnable surface rather than an empty
// promise.
func (s *Server) AdminMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	stickyAliasID := s.readStickyCookie(r)

	result, err := s.router.Resolve(r.Context(), r.Host, r.URL.Path, r.Header.Get("X-Forwarded-Host"), stickyAliasID)
	if err != nil {
		s.logger.Info("router resolve failed", "host", r.Host, "path", r.URL.Path, "error", err)
		apperr.WriteHTTP(rec, err)
		s.emitAccessLog(r, start, rec, router.Result{})
		return
	}

	if result.StickyCookie != nil && s.sticky != nil {
		s.writeStickyCookie(rec, *result.StickyCookie)
	}

	if result.Kind != router.KindRedirect {
		if !s.checkVisibility(rec, r, result) {
			s.emitAccessLog(r, start, rec, result)
			return
		}
	}

	switch result.Kind {
	case router.KindRedirect:
		http.Redirect(rec, r, result.RedirectURL, result.RedirectStatus)
	case router.KindProxyExternal, router.KindProxyInternalRewrite:
		s.forwarder.ServeHTTP(rec, r, *result.ProxyRule, result.RulePath)
	case router.KindEmailForm:
		s.forms.Handle(rec, r, *result.ProxyRule.EmailHandlerConfig)
	case router.KindAsset:
		s.serveAsset(rec, r, result)
	default:
		apperr.WriteHTTP(rec, apperr.New(apperr.KindInternal, "UNKNOWN_RESULT_KIND", "router returned an unhandled result kind"))
	}

	s.logger.Info("request served", "host", r.Host, "path", r.URL.Path, "kind", int(result.Kind), "duration", time.Since(start))
	s.emitAccessLog(r, start, rec, result)
}

// statusRecorder captures the status code and byte count written through
// it so the access-log entry can report them after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytesOut    int64
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.wroteHeader = true
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytesOut += int64(n)
	return n, err
}

// emitAccessLog records one served request, fire and forget, if an access
// log service is configured.
func (s *Server) emitAccessLog(r *http.Request, start time.Time, rec *statusRecorder, result router.Result) {
	if s.requestLog == nil {
		return
	}
	proxyTarget := ""
	if result.ProxyRule != nil {
		proxyTarget = result.ProxyRule.TargetURL
	}
	s.requestLog.EmitRequestLog(requestlog.RequestLogEntry{
		StartedAtNs: start.UnixNano(),
		Kind:        int(result.Kind),
		ClientIP:    clientIP(r),
		Host:        r.Host,
		Path:        r.URL.Path,
		ProjectID:   idString(result.Project.ID),
		AliasID:     idString(result.Alias.ID),
		ProxyTarget: proxyTarget,
		DurationNs:  int64(time.Since(start)),
		OK:          rec.status < 500,
		HTTPMethod:  r.Method,
		HTTPStatus:  rec.status,
		RespBytes:   rec.bytesOut,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func idString(id model.ID) string {
	if model.ZeroID(id) {
		return ""
	}
	return id.String()
}

// checkVisibility enforces the effective visibility decision for
// non-public results, consulting the AuthResolver/Oracle and either
// denying (404) or redirecting to login, per the project's
// unauthorizedBehavior.
func (s *Server) checkVisibility(w http.ResponseWriter, r *http.Request, result router.Result) bool {
	if result.Vis.IsPublic {
		return true
	}

	var auth authz.AuthContext
	var ok bool
	if s.authResolver != nil {
		auth, ok = s.authResolver.Resolve(r)
	}
	if ok && s.oracle != nil && authz.Authorize(r.Context(), s.oracle, auth, result.Project.ID, result.Vis.RequiredRole) {
		return true
	}

	if result.Vis.UnauthorizedBehavior == model.UnauthorizedRedirectLogin {
		http.Redirect(w, r, s.loginRedirectURL(r), http.StatusFound)
		return false
	}
	apperr.WriteHTTP(w, apperr.New(apperr.KindNotFound, "PROJECT_NOT_FOUND", "no content at this address"))
	return false
}

func (s *Server) loginRedirectURL(r *http.Request) string {
	returnTo := "https://" + r.Host + r.URL.RequestURI()
	return fmt.Sprintf("%s/login?return_to=%s", s.loginBaseURL, returnTo)
}

func (s *Server) readStickyCookie(r *http.Request) string {
	if s.sticky == nil {
		return ""
	}
	cookie, err := r.Cookie(crypto.StickyCookieName)
	if err != nil {
		return ""
	}
	aliasID, ok := s.sticky.Verify(cookie.Value)
	if !ok {
		return ""
	}
	return aliasID
}

func (s *Server) writeStickyCookie(w http.ResponseWriter, action router.StickyCookieAction) {
	value, err := s.sticky.Sign(action.BindAliasID, action.Duration)
	if err != nil {
		s.logger.Error("sign sticky cookie failed", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     crypto.StickyCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(action.Duration.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// serveAsset streams the resolved asset from storage, attaching
// Cache-Control (§4.H) and an ETag derived from the asset's content hash,
// honoring If-None-Match per §3.9.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, result router.Result) {
	asset := result.Asset
	etag := `"` + asset.ContentHash + `"`
	w.Header().Set("ETag", etag)

	rules, err := s.rules.CacheRules(r.Context(), result.Project.ID)
	if err != nil {
		apperr.WriteHTTP(w, fmt.Errorf("httpserver: load cache rules: %w", err))
		return
	}
	isImmutable := cachehdr.IsImmutablePath(result.RulePath, asset.ContentHash)
	directives := cachehdr.Resolve(result.RulePath, rules, isImmutable, result.Vis.IsPublic)
	w.Header().Set("Cache-Control", cachehdr.Render(directives))
	w.Header().Set("Surrogate-Control", fmt.Sprintf("max-age=%d", cachehdr.OriginTTL(directives)))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	reader, err := s.gateway.Download(r.Context(), asset.StorageKey)
	if err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.KindInternal, "ASSET_DOWNLOAD_FAILED", "failed to read asset from storage", err))
		return
	}
	defer reader.Close()

	if asset.MimeType != "" {
		w.Header().Set("Content-Type", asset.MimeType)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Warn("asset stream interrupted", "key", asset.StorageKey, "error", err)
	}
}
