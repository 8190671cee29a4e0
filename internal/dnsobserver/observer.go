// Package dnsobserver resolves the managed hostname via the system resolver
// and classifies the result as a cross-check against the provider API. It is
// advisory only: it never participates in commit decisions (spec §4.2, §9).
package dnsobserver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
)

// DefaultCDNPrefixes are the well-known address prefixes of the CDN's edge
// network. Configurable, per spec §4.2; these are a reasonable default
// covering the operator's own edge ranges.
var DefaultCDNPrefixes = []string{
	"104.16.",
	"104.17.",
	"104.18.",
	"172.64.",
	"172.65.",
	"172.66.",
}

// Exchanger is the subset of *dns.Client the observer needs. Satisfied by
// *dns.Client; tests supply a fake.
type Exchanger interface {
	Exchange(msg *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithResolvers overrides the resolver addresses (host:port) to query,
// bypassing /etc/resolv.conf discovery. Used in tests.
func WithResolvers(resolvers []string) Option {
	return func(o *Observer) {
		if len(resolvers) > 0 {
			o.resolvers = resolvers
		}
	}
}

// WithExchanger overrides the DNS exchange transport, for tests.
func WithExchanger(exchanger Exchanger) Option {
	return func(o *Observer) {
		if exchanger != nil {
			o.exchanger = exchanger
		}
	}
}

// Observer implements spec §4.2's observe() operation.
type Observer struct {
	hostname        string
	failoverAddress string
	cdnPrefixes     []string
	resolvers       []string
	exchanger       Exchanger
	logger          *slog.Logger
}

// New constructs an Observer for hostname, classifying results against
// failoverAddress and cdnPrefixes (DefaultCDNPrefixes if nil). Resolver
// addresses are read from /etc/resolv.conf unless overridden with
// WithResolvers.
func New(hostname, failoverAddress string, cdnPrefixes []string, opts ...Option) *Observer {
	if cdnPrefixes == nil {
		cdnPrefixes = DefaultCDNPrefixes
	}
	o := &Observer{
		hostname:        dns.Fqdn(hostname),
		failoverAddress: failoverAddress,
		cdnPrefixes:     cdnPrefixes,
		exchanger:       &dns.Client{},
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.resolvers) == 0 {
		o.resolvers = systemResolvers()
	}
	return o
}

func systemResolvers() []string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return []string{"127.0.0.1:53"}
	}
	addrs := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		addrs = append(addrs, server+":"+cfg.Port)
	}
	return addrs
}

// Observe resolves the managed hostname and classifies the result per spec
// §4.2. Resolution failure, or no match against either the failover address
// or the CDN prefix set, yields engine.TargetUnknown.
func (o *Observer) Observe(ctx context.Context) engine.DNSTarget {
	addrs, err := o.resolve(ctx)
	if err != nil {
		o.logger.Debug("dns observation failed, reporting unknown", slog.Any("error", err))
		return engine.TargetUnknown
	}
	return classify(addrs, o.failoverAddress, o.cdnPrefixes)
}

func (o *Observer) resolve(ctx context.Context) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(o.hostname, dns.TypeA)
	msg.RecursionDesired = true

	var lastErr error
	for _, resolver := range o.resolvers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := o.exchanger.Exchange(msg, resolver)
		if err != nil {
			lastErr = err
			continue
		}
		return addressesFromAnswer(resp), nil
	}
	return nil, lastErr
}

func addressesFromAnswer(resp *dns.Msg) []string {
	if resp == nil {
		return nil
	}
	addrs := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	return addrs
}

// classify applies spec §4.2's precedence: failover address match first,
// then CDN prefix match, else unknown.
func classify(addrs []string, failoverAddress string, cdnPrefixes []string) engine.DNSTarget {
	for _, addr := range addrs {
		if addr == failoverAddress {
			return engine.TargetFailover
		}
	}
	for _, addr := range addrs {
		for _, prefix := range cdnPrefixes {
			if strings.HasPrefix(addr, prefix) {
				return engine.TargetPrimary
			}
		}
	}
	return engine.TargetUnknown
}
