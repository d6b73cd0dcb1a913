// Package config handles environment-based configuration loading for the
// serving core, grounded on the teacher's LoadEnvConfig: typed fields,
// per-field parsing, and accumulated validation errors reported together
// rather than failing on the first bad variable.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds every environment-variable-driven setting consumed by
// the serving core (§6).
type EnvConfig struct {
	PrimaryDomain string

	// EncryptionKey is the raw 32-byte AEAD key decoded from
	// ENCRYPTION_KEY (base64).
	EncryptionKey []byte

	RetentionEnabled bool
	RetentionDryRun  bool

	ControlPlaneURL    string
	WorkspaceID        string
	WorkspaceSecret    string
	UsageReportingOn   bool

	StateDir string
	CacheDir string

	ListenAddress string

	ProxyTransportMaxIdleConns        int
	ProxyTransportMaxIdleConnsPerHost int
	ProxyTransportIdleConnTimeout     time.Duration

	FormRateLimitPerHour int
	FormRateLimitSweep    time.Duration
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig, or an error listing every problem found.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.PrimaryDomain = strings.TrimSpace(envStr("PRIMARY_DOMAIN", ""))
	if cfg.PrimaryDomain == "" {
		errs = append(errs, "PRIMARY_DOMAIN must be set")
	}

	key, err := decodeEncryptionKey(envStr("ENCRYPTION_KEY", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("ENCRYPTION_KEY: %v", err))
	}
	cfg.EncryptionKey = key

	cfg.RetentionEnabled = envBool("RETENTION_ENABLED", true, &errs)
	cfg.RetentionDryRun = envBool("RETENTION_DRY_RUN", false, &errs)

	cfg.ControlPlaneURL = envStr("CONTROL_PLANE_URL", "")
	cfg.WorkspaceID = envStr("WORKSPACE_ID", "")
	cfg.WorkspaceSecret = envStr("WORKSPACE_SECRET", "")
	cfg.UsageReportingOn = cfg.ControlPlaneURL != "" && cfg.WorkspaceID != "" && cfg.WorkspaceSecret != ""

	cfg.StateDir = envStr("EDGESERVE_STATE_DIR", "/var/lib/edgeserve")
	cfg.CacheDir = envStr("EDGESERVE_CACHE_DIR", "/var/cache/edgeserve")
	cfg.ListenAddress = envStr("EDGESERVE_LISTEN_ADDRESS", "0.0.0.0:8080")

	cfg.ProxyTransportMaxIdleConns = envInt("EDGESERVE_PROXY_MAX_IDLE_CONNS", 100, &errs)
	cfg.ProxyTransportMaxIdleConnsPerHost = envInt("EDGESERVE_PROXY_MAX_IDLE_CONNS_PER_HOST", 10, &errs)
	cfg.ProxyTransportIdleConnTimeout = envDuration("EDGESERVE_PROXY_IDLE_CONN_TIMEOUT", 90*time.Second, &errs)

	cfg.FormRateLimitPerHour = envInt("EDGESERVE_FORM_RATE_LIMIT_PER_HOUR", 10, &errs)
	cfg.FormRateLimitSweep = envDuration("EDGESERVE_FORM_RATE_LIMIT_SWEEP", 10*time.Minute, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

func decodeEncryptionKey(v string) ([]byte, error) {
	if v == "" {
		return nil, fmt.Errorf("must be set")
	}
	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// --- helpers, grounded on the teacher's env.go style ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid bool %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}
