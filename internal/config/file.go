package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration file structure. It mirrors Config
// but uses YAML-friendly optional fields so a partial file only overrides
// the settings it names.
type fileConfig struct {
	Logging *fileLoggingConfig `yaml:"logging,omitempty"`
	DNS     *fileDNSConfig     `yaml:"dns,omitempty"`
	Cluster *fileClusterConfig `yaml:"cluster,omitempty"`
	Engine  *fileEngineConfig  `yaml:"engine,omitempty"`
	Server  *fileServerConfig  `yaml:"server,omitempty"`
}

type fileLoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

type fileDNSConfig struct {
	Hostname        string   `yaml:"hostname,omitempty"`
	TunnelID        string   `yaml:"tunnel_id,omitempty"`
	FailoverAddress string   `yaml:"failover_address,omitempty"`
	CDNPrefixes     []string `yaml:"cdn_prefixes,omitempty"`
	ZoneID          string   `yaml:"zone_id,omitempty"`
	RecordName      string   `yaml:"record_name,omitempty"`
	APIBaseURL      string   `yaml:"api_base_url,omitempty"`
	RateLimit       *float64 `yaml:"rate_limit,omitempty"`
	RateBurst       *int     `yaml:"rate_burst,omitempty"`
}

type fileClusterConfig struct {
	Namespace          string `yaml:"namespace,omitempty"`
	PodLabelSelector   string `yaml:"pod_label_selector,omitempty"`
	MinReplicas        *int   `yaml:"min_replicas,omitempty"`
	StateConfigMapName string `yaml:"state_configmap_name,omitempty"`
	TunnelHealthURL    string `yaml:"tunnel_health_url,omitempty"`
	KubeconfigPath     string `yaml:"kubeconfig_path,omitempty"`
}

type fileEngineConfig struct {
	StabilizationFailover string `yaml:"stabilization_failover,omitempty"`
	StabilizationFailback string `yaml:"stabilization_failback,omitempty"`
	MaxFailovers24h       *int   `yaml:"max_failovers_24h,omitempty"`
	DryRun                *bool  `yaml:"dry_run,omitempty"`
	ReconcileInterval     string `yaml:"reconcile_interval,omitempty"`
}

type fileServerConfig struct {
	HealthPort int `yaml:"health_port,omitempty"`
}

// loadFile reads and parses a YAML config file from disk.
func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("DNSFAILOVER_CONFIG: reading %q: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("DNSFAILOVER_CONFIG: parsing %q: %w", path, err)
	}
	return &fc, nil
}

// applyTo overlays non-empty file values onto cfg. Values are overwritten
// again by applyEnvOverrides afterward, preserving env > file > default.
func (fc *fileConfig) applyTo(cfg *Config) {
	if l := fc.Logging; l != nil {
		if l.Level != "" {
			cfg.LogLevel = l.Level
		}
		if l.Format != "" {
			cfg.LogFormat = l.Format
		}
	}

	if d := fc.DNS; d != nil {
		if d.Hostname != "" {
			cfg.Hostname = d.Hostname
		}
		if d.TunnelID != "" {
			cfg.TunnelID = d.TunnelID
		}
		if d.FailoverAddress != "" {
			cfg.FailoverAddress = d.FailoverAddress
		}
		if len(d.CDNPrefixes) > 0 {
			cfg.CDNPrefixes = d.CDNPrefixes
		}
		if d.ZoneID != "" {
			cfg.ZoneID = d.ZoneID
		}
		if d.RecordName != "" {
			cfg.RecordName = d.RecordName
		}
		if d.APIBaseURL != "" {
			cfg.APIBaseURL = d.APIBaseURL
		}
		if d.RateLimit != nil {
			cfg.RateLimit = *d.RateLimit
		}
		if d.RateBurst != nil {
			cfg.RateBurst = *d.RateBurst
		}
	}

	if c := fc.Cluster; c != nil {
		if c.Namespace != "" {
			cfg.Namespace = c.Namespace
		}
		if c.PodLabelSelector != "" {
			cfg.PodLabelSelector = c.PodLabelSelector
		}
		if c.MinReplicas != nil {
			cfg.MinReplicas = *c.MinReplicas
		}
		if c.StateConfigMapName != "" {
			cfg.StateConfigMapName = c.StateConfigMapName
		}
		if c.TunnelHealthURL != "" {
			cfg.TunnelHealthURL = c.TunnelHealthURL
		}
		if c.KubeconfigPath != "" {
			cfg.KubeconfigPath = c.KubeconfigPath
		}
	}

	if e := fc.Engine; e != nil {
		if d, err := time.ParseDuration(e.StabilizationFailover); err == nil {
			cfg.StabilizationFailover = d
		}
		if d, err := time.ParseDuration(e.StabilizationFailback); err == nil {
			cfg.StabilizationFailback = d
		}
		if e.MaxFailovers24h != nil {
			cfg.MaxFailovers24h = *e.MaxFailovers24h
		}
		if e.DryRun != nil {
			cfg.DryRun = *e.DryRun
		}
		if d, err := time.ParseDuration(e.ReconcileInterval); err == nil {
			cfg.ReconcileInterval = d
		}
	}

	if s := fc.Server; s != nil && s.HealthPort > 0 {
		cfg.HealthPort = s.HealthPort
	}
}
