// Package config handles loading and validation of the DNS failover
// controller's configuration from environment variables and an optional
// YAML configuration file.
//
// Configuration follows the same conventions the rest of this codebase's
// lineage uses:
//   - All env vars use the DNSFAILOVER_ prefix
//   - _FILE suffix for Docker/Kubernetes secret mounts (e.g. TOKEN_FILE)
//   - YAML config file via DNSFAILOVER_CONFIG env var
//   - Priority: env vars > config file > defaults
//   - Fail fast on any configuration error
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Defaults for settings not otherwise supplied.
const (
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "json"
	DefaultDryRun                = false
	DefaultNamespace             = "dns-failover"
	DefaultStateConfigMapName    = "dns-failover-state"
	DefaultPodLabelSelector      = "app=cloudflared"
	DefaultMinReplicas           = 1
	DefaultStabilizationFailover = 2 * time.Minute
	DefaultStabilizationFailback = 10 * time.Minute
	DefaultMaxFailovers24h       = 3
	DefaultReconcileInterval     = 30 * time.Second
	DefaultHealthPort            = 8080
	DefaultRateLimit             = 5.0
	DefaultRateBurst             = 10
)

// DefaultCDNPrefixes mirrors dnsobserver.DefaultCDNPrefixes so the config
// package does not need to import dnsobserver just for one constant.
var DefaultCDNPrefixes = []string{"104.16.", "104.17.", "104.18.", "172.64.", "172.65.", "172.66."}

// Config holds the complete application configuration. All settings use the
// DNSFAILOVER_ prefix.
type Config struct {
	LogLevel  string
	LogFormat string

	Hostname        string   // managed hostname, e.g. app.example.com
	TunnelID        string   // Cloudflare Tunnel UUID the primary CNAME must contain
	FailoverAddress string   // IP address the failover A record must point to
	CDNPrefixes     []string // address prefixes that classify a resolved A record as PRIMARY

	ZoneID          string
	RecordName      string
	APIToken        string
	APIBaseURL      string
	RateLimit       float64
	RateBurst       int

	Namespace          string
	PodLabelSelector   string
	MinReplicas        int
	StateConfigMapName string
	TunnelHealthURL    string
	KubeconfigPath     string // empty means in-cluster

	StabilizationFailover time.Duration
	StabilizationFailback time.Duration
	MaxFailovers24h       int
	DryRun                bool
	ReconcileInterval     time.Duration

	HealthPort int

	ConfigFile string
}

// Load reads configuration from environment variables and an optional YAML
// file, in that priority order over file defaults, over built-in defaults.
// It fails fast: any invalid value produces a single aggregated error.
func Load() (*Config, error) {
	var allErrors []string

	var file *fileConfig
	if path := getEnv("DNSFAILOVER_CONFIG"); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			allErrors = append(allErrors, err.Error())
		} else {
			file = loaded
			slog.Debug("config file loaded, applying environment overrides", slog.String("path", path))
		}
	}

	cfg := defaultConfig()
	if file != nil {
		file.applyTo(cfg)
		cfg.ConfigFile = getEnv("DNSFAILOVER_CONFIG")
	}
	allErrors = append(allErrors, applyEnvOverrides(cfg)...)
	allErrors = append(allErrors, validateConfig(cfg)...)

	if len(allErrors) > 0 {
		return nil, &ValidationError{Errors: allErrors}
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:              DefaultLogLevel,
		LogFormat:             DefaultLogFormat,
		CDNPrefixes:           append([]string(nil), DefaultCDNPrefixes...),
		APIBaseURL:            "https://api.cloudflare.com/client/v4",
		RateLimit:             DefaultRateLimit,
		RateBurst:             DefaultRateBurst,
		Namespace:             DefaultNamespace,
		PodLabelSelector:      DefaultPodLabelSelector,
		MinReplicas:           DefaultMinReplicas,
		StateConfigMapName:    DefaultStateConfigMapName,
		StabilizationFailover: DefaultStabilizationFailover,
		StabilizationFailback: DefaultStabilizationFailback,
		MaxFailovers24h:       DefaultMaxFailovers24h,
		DryRun:                DefaultDryRun,
		ReconcileInterval:     DefaultReconcileInterval,
		HealthPort:            DefaultHealthPort,
	}
}

func applyEnvOverrides(cfg *Config) []string {
	var errs []string

	if v := getEnv("DNSFAILOVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("DNSFAILOVER_LOG_LEVEL: invalid value %q (must be debug, info, warn, or error)", cfg.LogLevel))
	}

	if v := getEnv("DNSFAILOVER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("DNSFAILOVER_LOG_FORMAT: invalid value %q (must be json or text)", cfg.LogFormat))
	}

	setString("DNSFAILOVER_HOSTNAME", &cfg.Hostname)
	setString("DNSFAILOVER_TUNNEL_ID", &cfg.TunnelID)
	setString("DNSFAILOVER_FAILOVER_ADDRESS", &cfg.FailoverAddress)
	setString("DNSFAILOVER_ZONE_ID", &cfg.ZoneID)
	setString("DNSFAILOVER_RECORD_NAME", &cfg.RecordName)
	setString("DNSFAILOVER_API_BASE_URL", &cfg.APIBaseURL)
	setString("DNSFAILOVER_NAMESPACE", &cfg.Namespace)
	setString("DNSFAILOVER_POD_LABEL_SELECTOR", &cfg.PodLabelSelector)
	setString("DNSFAILOVER_STATE_CONFIGMAP_NAME", &cfg.StateConfigMapName)
	setString("DNSFAILOVER_TUNNEL_HEALTH_URL", &cfg.TunnelHealthURL)
	setString("DNSFAILOVER_KUBECONFIG", &cfg.KubeconfigPath)

	cfg.APIToken = getEnvWithFileFallback("DNSFAILOVER_API_TOKEN")

	if v := getEnv("DNSFAILOVER_CDN_PREFIXES"); v != "" {
		cfg.CDNPrefixes = splitAndTrim(v)
	}

	if v := getEnv("DNSFAILOVER_DRY_RUN"); v != "" {
		cfg.DryRun = parseBool(v, cfg.DryRun)
	}

	errs = append(errs, setInt("DNSFAILOVER_MIN_REPLICAS", &cfg.MinReplicas, 1, nil)...)
	errs = append(errs, setInt("DNSFAILOVER_MAX_FAILOVERS_24H", &cfg.MaxFailovers24h, 0, nil)...)
	errs = append(errs, setInt("DNSFAILOVER_RATE_BURST", &cfg.RateBurst, 1, nil)...)
	errs = append(errs, setPort("DNSFAILOVER_HEALTH_PORT", &cfg.HealthPort)...)
	errs = append(errs, setFloat("DNSFAILOVER_RATE_LIMIT", &cfg.RateLimit)...)
	errs = append(errs, setDuration("DNSFAILOVER_STABILIZATION_FAILOVER", &cfg.StabilizationFailover)...)
	errs = append(errs, setDuration("DNSFAILOVER_STABILIZATION_FAILBACK", &cfg.StabilizationFailback)...)
	errs = append(errs, setDuration("DNSFAILOVER_RECONCILE_INTERVAL", &cfg.ReconcileInterval)...)

	return errs
}

func setString(key string, dest *string) {
	if v := getEnv(key); v != "" {
		*dest = v
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
