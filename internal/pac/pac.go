// Package pac generates the proxy-auto-config script served to clients,
// listing every domain the registered firewall rules care about so only
// that traffic is routed through the proxy. Grounded on
// original_source/proxy/src/server/meta/pac.rs.
package pac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
)

// domainSet collects unique domain patterns via [rule.DomainCollector].
type domainSet struct {
	seen map[string]struct{}
}

func (s *domainSet) AddDomain(pattern string) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return
	}
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}
	s.seen[pattern] = struct{}{}
}

// CollectDomains gathers every PAC domain from rules, sorted by descending
// length so the generated script's longest (most specific) patterns are
// checked first — not load-bearing for correctness (every domain is
// checked), but it matches the original's ordering.
func CollectDomains(rules []rule.Rule) []string {
	s := &domainSet{}
	for _, r := range rules {
		r.CollectPACDomains(s)
	}
	domains := make([]string, 0, len(s.seen))
	for d := range s.seen {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if len(domains[i]) != len(domains[j]) {
			return len(domains[i]) > len(domains[j])
		}
		return domains[i] < domains[j]
	})
	return domains
}

// Generate renders the FindProxyForURL script routing traffic for domains
// (and their subdomains) through proxyAddr ("host:port"), DIRECT
// otherwise.
func Generate(proxyAddr string, domains []string) string {
	var out strings.Builder
	out.Grow(1024 + len(domains)*8)

	out.WriteString(`function FindProxyForURL(url, host) {
  if (!host) return "DIRECT";
  host = host.toLowerCase();
  var n = host.length;
  // Strip a trailing dot from the hostname (some browsers pass FQDNs like "example.com.")
  if (n && host.charCodeAt(n - 1) === 46) host = host.slice(0, n - 1);
  var proxyAddr = "PROXY `)
	fmt.Fprint(&out, proxyAddr)
	out.WriteString(`; DIRECT";
  var ds = [`)

	for i, d := range domains {
		if i != 0 {
			out.WriteByte(',')
		}
		out.WriteByte('"')
		out.WriteString(d)
		out.WriteByte('"')
	}

	out.WriteString(`];
  for (var i = 0; i < ds.length; i++) {
    var d = ds[i];
    if (host === d) return proxyAddr;
    var dl = d.length;
    if (host.length > dl && host.endsWith("." + d)) return proxyAddr;
  }
  return "DIRECT";
}`)

	return out.String()
}

// GenerateForRules is the convenience entry point [internal/metaserver]
// calls: collect domains from rules, then render the script.
func GenerateForRules(proxyAddr string, rules []rule.Rule) string {
	return Generate(proxyAddr, CollectDomains(rules))
}
