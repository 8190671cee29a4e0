package providerclient

import (
	"strings"

	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
)

// Record is a single DNS record as reported by the provider's API.
type Record struct {
	ID      string
	Type    string
	Name    string
	Content string
	TTL     int
	Proxied bool
}

// classify maps a provider record onto a DNSTarget per spec: an A record
// whose content equals failoverAddress is FAILOVER; a CNAME whose content
// contains tunnelID is PRIMARY; anything else is UNKNOWN.
func classify(rec *Record, failoverAddress, tunnelID string) engine.DNSTarget {
	if rec == nil {
		return engine.TargetUnknown
	}
	switch strings.ToUpper(rec.Type) {
	case "A":
		if rec.Content == failoverAddress {
			return engine.TargetFailover
		}
	case "CNAME":
		if strings.Contains(rec.Content, tunnelID) {
			return engine.TargetPrimary
		}
	}
	return engine.TargetUnknown
}

// desiredRecord builds the record shape set_target should converge the
// provider on for the given target.
func desiredRecord(target engine.DNSTarget, label, tunnelID, tunnelSuffix, failoverAddress string) Record {
	switch target {
	case engine.TargetPrimary:
		return Record{
			Type:    "CNAME",
			Name:    label,
			Content: tunnelID + "." + tunnelSuffix,
			Proxied: true,
		}
	case engine.TargetFailover:
		return Record{
			Type:    "A",
			Name:    label,
			Content: failoverAddress,
			Proxied: false,
		}
	default:
		return Record{}
	}
}

// matches reports whether an existing record already satisfies desired
// (type, content, and proxying flag) so set_target can skip the write.
func matches(existing *Record, desired Record) bool {
	if existing == nil {
		return false
	}
	return strings.EqualFold(existing.Type, desired.Type) &&
		existing.Content == desired.Content &&
		existing.Proxied == desired.Proxied
}

// subdomainLabel returns the first dot-separated component of hostname.
func subdomainLabel(hostname string) string {
	if i := strings.IndexByte(hostname, '.'); i >= 0 {
		return hostname[:i]
	}
	return hostname
}
