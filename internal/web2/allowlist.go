// Package web2 is the guarded egress proxy: every outbound call must
// match a static allowlist, resolve to public addresses only, stay
// within strict size bounds, and leave a hashed audit row plus evidence.
package web2

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
)

// Entry is one allowlisted upstream.
type Entry struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	BaseURL    string   `json:"base_url"`
	Host       string   `json:"host"`
	PathPrefix string   `json:"path_prefix"`
	Methods    []string `json:"methods"`
}

func (e Entry) allowsMethod(method string) bool {
	for _, m := range e.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// DefaultAllowlist is the static egress catalog.
var DefaultAllowlist = []Entry{
	{ID: "github", Label: "GitHub API", BaseURL: "https://api.github.com", Host: "api.github.com", PathPrefix: "/", Methods: []string{"GET"}},
	{ID: "0x-ethereum", Label: "0x Swap API (Ethereum)", BaseURL: "https://api.0x.org", Host: "api.0x.org", PathPrefix: "/swap", Methods: []string{"GET"}},
	{ID: "jupiter", Label: "Jupiter Swap API", BaseURL: "https://api.jup.ag/swap/v1", Host: "api.jup.ag", PathPrefix: "/swap/v1", Methods: []string{"GET"}},
	{ID: "magiceden-solana", Label: "Magic Eden Solana API", BaseURL: "https://api-mainnet.magiceden.dev/v2", Host: "api-mainnet.magiceden.dev", PathPrefix: "/v2", Methods: []string{"GET"}},
	{ID: "magiceden-evm", Label: "Magic Eden EVM API", BaseURL: "https://api-mainnet.magiceden.dev/v4/evm-public", Host: "api-mainnet.magiceden.dev", PathPrefix: "/v4/evm-public", Methods: []string{"GET"}},
	{ID: "coingecko", Label: "CoinGecko API", BaseURL: "https://api.coingecko.com/api/v3", Host: "api.coingecko.com", PathPrefix: "/api/v3", Methods: []string{"GET"}},
	{ID: "coincap", Label: "CoinCap API", BaseURL: "https://api.coincap.io/v2", Host: "api.coincap.io", PathPrefix: "/v2", Methods: []string{"GET"}},
	{ID: "httpbin", Label: "HttpBin", BaseURL: "https://httpbin.org", Host: "httpbin.org", PathPrefix: "/", Methods: []string{"GET", "POST"}},
}

func deny(message string, details map[string]any) error {
	err := apierr.New(apierr.CodeAllowlistDeny, message, http.StatusBadRequest)
	if details != nil {
		err.WithDetails(details)
	}
	return err
}

// matchAllowlist validates the URL shape, finds the allowlist entry and
// runs the resolver SSRF check. Returns the entry and the normalized
// safe URL (scheme and host canonicalised, query preserved).
func (g *Guard) matchAllowlist(rawURL, method string) (*Entry, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", deny("url invalid", nil)
	}
	if parsed.Scheme != "https" {
		return nil, "", deny("https required", map[string]any{"url": rawURL})
	}
	if parsed.User != nil {
		return nil, "", deny("url userinfo not allowed", nil)
	}
	if parsed.Port() != "" {
		return nil, "", deny("explicit port not allowed", nil)
	}
	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return nil, "", deny("host required", nil)
	}
	for _, segment := range strings.Split(parsed.Path, "/") {
		if unescaped, err := url.PathUnescape(segment); err == nil {
			segment = unescaped
		}
		if segment == ".." {
			return nil, "", deny("path traversal not allowed", nil)
		}
	}
	if net.ParseIP(hostname) != nil {
		return nil, "", deny("ip host not allowed", nil)
	}

	for i := range g.Allowlist {
		entry := &g.Allowlist[i]
		if hostname != entry.Host {
			continue
		}
		if !strings.HasPrefix(parsed.Path, entry.PathPrefix) {
			continue
		}
		if !entry.allowsMethod(method) {
			continue
		}
		if err := g.resolvePublicHost(hostname); err != nil {
			return nil, "", err
		}
		safeURL := "https://" + entry.Host + parsed.Path
		if parsed.RawQuery != "" {
			safeURL += "?" + parsed.RawQuery
		}
		return entry, safeURL, nil
	}
	return nil, "", deny("host not allowlisted", map[string]any{"host": hostname})
}

// resolvePublicHost refuses hosts that resolve to anything but public
// unicast addresses. Resolution failure is a denial, not a retry.
func (g *Guard) resolvePublicHost(hostname string) error {
	resolve := g.Resolver
	if resolve == nil {
		resolve = net.LookupIP
	}
	ips, err := resolve(hostname)
	if err != nil || len(ips) == 0 {
		return deny("host resolution failed", map[string]any{"host": hostname})
	}
	for _, ip := range ips {
		if isForbiddenIP(ip) {
			return deny("host resolves to private ip", map[string]any{"host": hostname})
		}
	}
	return nil
}

func isForbiddenIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		isReservedIP(ip)
}

// Reserved ranges the stdlib classifiers do not cover.
func isReservedIP(ip net.IP) bool {
	for _, cidr := range []string{
		"192.0.0.0/24",    // IETF protocol assignments
		"192.0.2.0/24",    // TEST-NET-1
		"198.18.0.0/15",   // benchmarking
		"198.51.100.0/24", // TEST-NET-2
		"203.0.113.0/24",  // TEST-NET-3
		"240.0.0.0/4",     // class E
		"100.64.0.0/10",   // CGNAT
	} {
		_, block, _ := net.ParseCIDR(cidr)
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
