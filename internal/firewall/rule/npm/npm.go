// Package npm implements the npm registry block rule: tarball URL
// parsing, the malware-list lookup, and the min-package-age Accept-header
// rewrite from spec.md §4.5, grounded on
// original_source/proxy/src/firewall/rule/npm/min_package_age.rs.
package npm

import (
	"context"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

const productName = "npm"
const domain = "registry.npmjs.org"

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the npm registry BlockRule.
type Rule struct{}

var (
	_ rule.Rule           = (*Rule)(nil)
	_ rule.ResponseFilter = (*Rule)(nil)
)

func (*Rule) ProductName() string { return productName }

func (*Rule) MatchDomain(host string) bool { return strings.EqualFold(host, domain) }

func (*Rule) CollectPACDomains(c rule.DomainCollector) { c.AddDomain(domain) }

// BlockRequest parses the npm tarball path, rewrites the install-info
// Accept header, and checks the resolved coordinate against list.
func (*Rule) BlockRequest(ctx context.Context, req *http.Request, ec epconfig.EcosystemConfig, list rule.Lister) (rule.Verdict, error) {
	RewriteInstallInfoAccept(req)

	name, ver, ok := parseTarballPath(req.URL.Path)
	if !ok {
		return rule.AllowRequest(req), nil
	}

	switch rule.EvaluateOverrides(ec, "malware", name) {
	case rule.OverrideAllow:
		return rule.AllowRequest(req), nil
	case rule.OverrideBlock:
		return rule.BlockArtifact(productName, name, ver), nil
	}

	if entry, found := list.Contains(name, ver); found {
		zlog.Debug(ctx).Str("package", entry.PackageName).Msg("blocked npm package")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parseTarballPath parses "/<pkg>/-/<pkg>-<ver>.tgz" and the scoped form
// "/@scope/<pkg>/-/<pkg>-<ver>.tgz" per spec.md §4.4's npm row.
func parseTarballPath(path string) (name string, ver version.PackageVersion, ok bool) {
	path = strings.TrimPrefix(path, "/")
	segs := strings.Split(path, "/")

	var pkgSegs []string
	var filename string
	switch {
	case len(segs) == 4 && segs[2] == "-":
		// @scope/pkg/-/pkg-ver.tgz
		pkgSegs = segs[:2]
		filename = segs[3]
	case len(segs) == 3 && segs[1] == "-":
		// pkg/-/pkg-ver.tgz
		pkgSegs = segs[:1]
		filename = segs[2]
	default:
		return "", version.PackageVersion{}, false
	}

	name = strings.Join(pkgSegs, "/")
	baseName := pkgSegs[len(pkgSegs)-1]

	filename = strings.TrimSuffix(filename, ".tgz")
	prefix := baseName + "-"
	if !strings.HasPrefix(filename, prefix) {
		return "", version.PackageVersion{}, false
	}
	verStr := strings.TrimPrefix(filename, prefix)

	v, err := version.Parse(verStr)
	if err != nil {
		v = version.FromUnknown(verStr)
	}
	return name, v, true
}

const npmInstallInfoSubtype = "vnd.npm.install-v1"

// RewriteInstallInfoAccept rewrites an `Accept: application/vnd.npm.install-v1+json`
// header to `application/json` so the upstream returns the full registry
// document, letting the response stage apply RemoveNewPackages.
func RewriteInstallInfoAccept(req *http.Request) {
	accept := req.Header.Get("Accept")
	if accept == "" || !strings.Contains(accept, npmInstallInfoSubtype) {
		return
	}
	req.Header.Set("Accept", "application/json")
}
