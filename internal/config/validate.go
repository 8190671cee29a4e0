package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// validateConfig performs cross-field validation on the complete
// configuration, beyond the per-field parsing already done while applying
// overrides.
func validateConfig(cfg *Config) []string {
	var errs []string

	if cfg.Hostname == "" {
		errs = append(errs, "DNSFAILOVER_HOSTNAME: required")
	}
	if cfg.TunnelID == "" {
		errs = append(errs, "DNSFAILOVER_TUNNEL_ID: required")
	}
	if cfg.FailoverAddress == "" {
		errs = append(errs, "DNSFAILOVER_FAILOVER_ADDRESS: required")
	} else if net.ParseIP(cfg.FailoverAddress) == nil {
		errs = append(errs, fmt.Sprintf("DNSFAILOVER_FAILOVER_ADDRESS: must be an IP address, got %q", cfg.FailoverAddress))
	}
	if cfg.ZoneID == "" {
		errs = append(errs, "DNSFAILOVER_ZONE_ID: required")
	}
	if cfg.RecordName == "" {
		errs = append(errs, "DNSFAILOVER_RECORD_NAME: required")
	}
	if cfg.APIToken == "" {
		errs = append(errs, "DNSFAILOVER_API_TOKEN (or DNSFAILOVER_API_TOKEN_FILE): required")
	}

	if cfg.StabilizationFailover <= 0 {
		errs = append(errs, "DNSFAILOVER_STABILIZATION_FAILOVER: must be positive")
	}
	if cfg.StabilizationFailback <= 0 {
		errs = append(errs, "DNSFAILOVER_STABILIZATION_FAILBACK: must be positive")
	}
	if cfg.MaxFailovers24h < 1 {
		errs = append(errs, "DNSFAILOVER_MAX_FAILOVERS_24H: must be at least 1")
	}

	return errs
}
