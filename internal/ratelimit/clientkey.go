package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// KeyResolver derives the rate-limit key for a request.
type KeyResolver struct {
	trustForwarded bool
	trusted        []*net.IPNet
}

// NewKeyResolver builds a resolver. When trustForwarded is set the first
// X-Forwarded-For entry is used as the key; if trustedProxies is non-empty,
// only peers inside those CIDRs (or exact IPs) may supply the header.
func NewKeyResolver(trustForwarded bool, trustedProxies []string) (*KeyResolver, error) {
	k := &KeyResolver{trustForwarded: trustForwarded}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			if ip := net.ParseIP(raw); ip != nil && ip.To4() != nil {
				raw += "/32"
			} else {
				raw += "/128"
			}
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", raw, err)
		}
		k.trusted = append(k.trusted, n)
	}
	return k, nil
}

// Key returns the client identity for r.
func (k *KeyResolver) Key(r *http.Request) string {
	peer := peerHost(r.RemoteAddr)
	if k.trustForwarded && k.peerTrusted(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	if peer == "" {
		return "unknown"
	}
	return peer
}

func (k *KeyResolver) peerTrusted(peer string) bool {
	if len(k.trusted) == 0 {
		return true
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, n := range k.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
