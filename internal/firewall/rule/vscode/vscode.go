// Package vscode implements the VSCode Marketplace block rule: path-based
// publisher/extension parsing grounded on
// original_source/proxy/src/firewall/vscode.rs, plus an extensionquery
// response scan grounded on
// original_source/proxy/src/client/mock_client/vscode_marketplace.rs.
package vscode

import (
	"context"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

const productName = "vscode"

var domains = []string{"gallery.vsassets.io", "marketplace.visualstudio.com"}

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the VSCode Marketplace BlockRule.
type Rule struct{}

var _ rule.Rule = (*Rule)(nil)

func (*Rule) ProductName() string { return productName }

func (*Rule) MatchDomain(host string) bool {
	for _, d := range domains {
		if strings.EqualFold(host, d) {
			return true
		}
	}
	return false
}

func (*Rule) CollectPACDomains(c rule.DomainCollector) {
	for _, d := range domains {
		c.AddDomain(d)
	}
}

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
		zlog.Debug(ctx).Str("extension", entry.PackageName).Msg("blocked VSCode extension")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parseExtensionPath parses "/extensions/<publisher>/<extension>/..." into
// a "publisher.extension" coordinate, matching the teacher's plugin-name
// extraction (third path segment, case-insensitive "extensions/" prefix).
func parseExtensionPath(p string) (coord string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	if !strings.HasPrefix(strings.ToLower(p), "extensions/") {
		return "", false
	}
	segs := strings.Split(p, "/")
	if len(segs) < 3 {
		return "", false
	}
	publisher, ext := strings.TrimSpace(segs[1]), strings.TrimSpace(segs[2])
	if publisher == "" || ext == "" {
		return "", false
	}
	return publisher + "." + ext, true
}
