// Package validate holds the input checks applied before anything reaches the
// extractor: URL admission (SSRF guard), text sanitizing for values echoed to
// clients, and filename sanitizing for artifact lookups.
package validate

import (
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Config configures the optional domain lists on top of the fixed
// loopback/private-range rules.
type Config struct {
	// AllowedDomains restricts URLs to these hosts. Empty allows every public host.
	AllowedDomains []string `mapstructure:"allowed_domains"`
	// BlockedDomains refuses these hosts. Entries may use "*.example.com".
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

var blockedHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
	"::1":       {},
}

var privatePrefixes = []string{"10.", "192.168."}

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"0.0.0.0/8",
	"169.254.0.0/16",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// URLValidator decides whether a client-supplied URL may be handed to the
// extractor.
type URLValidator struct {
	allowed *hostPatterns
	blocked *hostPatterns
	logger  *zap.Logger
}

// NewURLValidator builds a validator from cfg. A nil logger disables warnings.
func NewURLValidator(cfg Config, logger *zap.Logger) *URLValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLValidator{
		allowed: newHostPatterns(cfg.AllowedDomains),
		blocked: newHostPatterns(cfg.BlockedDomains),
		logger:  logger,
	}
}

// Valid reports whether raw is an absolute http(s) URL pointing at a public host.
func (v *URLValidator) Valid(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		v.logger.Warn("URL validation error", zap.Error(err))
		return false
	}
	if u.Scheme == "" || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	if ip, numeric := legacyIPv4(host); numeric {
		if ip == nil {
			v.logger.Warn("Malformed numeric host", zap.String("host", u.Host))
			return false
		}
		host = ip.String()
	}
	if isInternalHost(host) {
		v.logger.Warn("Blocked localhost/private address", zap.String("host", u.Host))
		return false
	}
	if v.blocked.Match(host) {
		v.logger.Warn("Blocked domain", zap.String("host", host))
		return false
	}
	if v.allowed != nil && !v.allowed.Match(host) {
		v.logger.Warn("Domain not in allow-list", zap.String("host", host))
		return false
	}
	return true
}

func isInternalHost(host string) bool {
	if _, ok := blockedHosts[host]; ok {
		return true
	}
	if strings.HasSuffix(host, ".localhost") {
		return true
	}
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	if in172Private(host) {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// in172Private matches the textual "172.16." through "172.31." prefixes.
func in172Private(host string) bool {
	rest, ok := strings.CutPrefix(host, "172.")
	if !ok {
		return false
	}
	octet, _, ok := strings.Cut(rest, ".")
	if !ok || len(octet) != 2 {
		return false
	}
	return octet >= "16" && octet <= "31"
}
