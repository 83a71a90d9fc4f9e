// Package nuget implements the NuGet block rule, parsing both the v3
// flat-container package path and the legacy v2 API path, grounded on
// original_source/proxy/src/firewall/rule/nuget/tests.rs.
package nuget

import (
	"context"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

const productName = "nuget"
const domain = "api.nuget.org"

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the NuGet BlockRule.
type Rule struct{}

var _ rule.Rule = (*Rule)(nil)

func (*Rule) ProductName() string { return productName }

func (*Rule) MatchDomain(host string) bool { return strings.EqualFold(host, domain) }

func (*Rule) CollectPACDomains(c rule.DomainCollector) { c.AddDomain(domain) }

func (*Rule) BlockRequest(ctx context.Context, req *http.Request, ec epconfig.EcosystemConfig, list rule.Lister) (rule.Verdict, error) {
	name, ver, ok := parsePackageFromPath(req.URL.Path)
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
		zlog.Debug(ctx).Str("package", entry.PackageName).Msg("blocked NuGet package")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parsePackageFromPath recognizes:
//
//	/v3-flatcontainer/<name>/<ver>/<name>.<ver>.nupkg
//	/api/v2/package/<name>/<ver>
func parsePackageFromPath(p string) (name string, ver version.PackageVersion, ok bool) {
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")

	switch {
	case len(segs) == 4 && segs[0] == "v3-flatcontainer":
		name, pathVer := segs[1], segs[2]
		filename := segs[3]
		if !strings.HasSuffix(filename, ".nupkg") {
			return "", version.PackageVersion{}, false
		}
		stem := strings.TrimSuffix(filename, ".nupkg")
		if !strings.HasPrefix(stem, name+".") {
			return "", version.PackageVersion{}, false
		}
		return parseVer(name, pathVer)

	case len(segs) == 5 && segs[0] == "api" && segs[1] == "v2" && segs[2] == "package":
		return parseVer(segs[3], segs[4])
	}
	return "", version.PackageVersion{}, false
}

func parseVer(name, verStr string) (string, version.PackageVersion, bool) {
	v, err := version.Parse(verStr)
	if err != nil {
		v = version.FromUnknown(verStr)
	}
	return name, v, true
}
