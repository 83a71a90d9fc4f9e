// Package openvsx implements the Open-VSX block rule, a sibling to
// internal/firewall/rule/vscode with a different path shape
// ("/api/<publisher>/<extension>/...").
package openvsx

import (
	"context"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

const productName = "openvsx"
const domain = "open-vsx.org"

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the Open-VSX BlockRule.
type Rule struct{}

var _ rule.Rule = (*Rule)(nil)

func (*Rule) ProductName() string { return productName }

func (*Rule) MatchDomain(host string) bool { return strings.EqualFold(host, domain) }

func (*Rule) CollectPACDomains(c rule.DomainCollector) { c.AddDomain(domain) }

func (*Rule) BlockRequest(ctx context.Context, req *http.Request, ec epconfig.EcosystemConfig, list rule.Lister) (rule.Verdict, error) {
	coord, ok := parseExtensionPath(req.URL.Path)
	if !ok {
		return rule.AllowRequest(req), nil
	}

	switch rule.EvaluateOverrides(ec, "malware", coord) {
	case rule.OverrideAllow:
		return rule.AllowRequest(req), nil
	case rule.OverrideBlock:
		return rule.BlockArtifact(productName, coord, version.Any()), nil
	}

	if entry, found := list.Contains(coord, version.Any()); found {
		zlog.Debug(ctx).Str("extension", entry.PackageName).Msg("blocked Open-VSX extension")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parseExtensionPath parses "/api/<publisher>/<extension>/..." into a
// "publisher.extension" coordinate.
func parseExtensionPath(p string) (coord string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	segs := strings.Split(p, "/")
	if len(segs) < 3 || segs[0] != "api" {
		return "", false
	}
	publisher, ext := strings.TrimSpace(segs[1]), strings.TrimSpace(segs[2])
	if publisher == "" || ext == "" {
		return "", false
	}
	return publisher + "." + ext, true
}
