// Package pypi implements the PyPI block rule: wheel/sdist filename
// parsing across files.pythonhosted.org and the /pypi/<name>/json lookup
// form on pypi.org, per spec.md §4.4's PyPI row.
package pypi

import (
	"context"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

const productName = "pypi"

var domains = []string{"files.pythonhosted.org", "pypi.org"}

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the PyPI BlockRule.
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
	name, ver, ok := parsePath(req.URL.Path)
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
		zlog.Debug(ctx).Str("package", entry.PackageName).Msg("blocked PyPI package")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parsePath recognizes:
//
//	/packages/.../<name>-<ver>-*.whl           (wheel, any number of leading path segments)
//	/packages/source/.../<name>-<ver>.tar.gz   (sdist)
//	/pypi/<name>/json                          (no version; treated as version.Any)
func parsePath(p string) (name string, ver version.PackageVersion, ok bool) {
	p = strings.TrimPrefix(p, "/")
	segs := strings.Split(p, "/")

	if len(segs) == 3 && segs[0] == "pypi" && segs[2] == "json" {
		return segs[1], version.Any(), true
	}

	if len(segs) < 1 || segs[0] != "packages" {
		return "", version.PackageVersion{}, false
	}
	filename := segs[len(segs)-1]

	switch {
	case strings.HasSuffix(filename, ".whl"):
		return parseNameVersion(strings.TrimSuffix(filename, ".whl"), "-")
	case strings.HasSuffix(filename, ".tar.gz"):
		return parseNameVersion(strings.TrimSuffix(filename, ".tar.gz"), "-")
	default:
		return "", version.PackageVersion{}, false
	}
}

// parseNameVersion splits "<name>-<ver>[-<tag>...]" on sep, taking the
// first token as the name and the second as the version; wheel filenames
// carry further "-<python tag>-<abi tag>-<platform tag>" segments we
// don't need.
func parseNameVersion(stem, sep string) (string, version.PackageVersion, bool) {
	parts := strings.Split(stem, sep)
	if len(parts) < 2 {
		return "", version.PackageVersion{}, false
	}
	name := parts[0]
	verStr := parts[1]
	v, err := version.Parse(verStr)
	if err != nil {
		v = version.FromUnknown(verStr)
	}
	return name, v, true
}
