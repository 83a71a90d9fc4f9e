// Package maven implements the Maven Central / Apache-mirror block rule:
// layout-agnostic artifact path parsing per spec.md §4.4's Maven row,
// producing a "group:artifact" coordinate the way original_source's
// Maven tests expect.
package maven

import (
	"context"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

const productName = "maven"

var domains = []string{"repo.maven.apache.org", "repository.apache.org"}

// knownPrefixes are the static path segments both known Maven layouts
// (the maven2 mirror, and the Apache Nexus repository-manager mirror) put
// ahead of the "<group>/<artifact>/<version>/..." shape.
var knownPrefixes = [][]string{
	{"maven2"},
	{"content", "repositories", "releases"},
	{"content", "repositories", "snapshots"},
}

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the Maven BlockRule.
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
	coord, ver, ok := parsePath(req.URL.Path)
	if !ok {
		return rule.AllowRequest(req), nil
	}

	switch rule.EvaluateOverrides(ec, "malware", coord) {
	case rule.OverrideAllow:
		return rule.AllowRequest(req), nil
	case rule.OverrideBlock:
		return rule.BlockArtifact(productName, coord, ver), nil
	}

	if entry, found := list.Contains(coord, ver); found {
		zlog.Debug(ctx).Str("package", entry.PackageName).Msg("blocked Maven artifact")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parsePath parses ".../<group>/<artifact>/<version>/<artifact>-<version>.<ext>"
// (maven2, or the Apache Nexus mirror's content/repositories/{releases,snapshots}
// prefix) into a "group:artifact" coordinate and parsed version.
func parsePath(p string) (coord string, ver version.PackageVersion, ok bool) {
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	segs = stripKnownPrefix(segs)
	if len(segs) < 4 {
		return "", version.PackageVersion{}, false
	}

	n := len(segs)
	filename := segs[n-1]
	pathVersion := segs[n-2]
	artifact := segs[n-3]
	groupSegs := segs[:n-3]
	if len(groupSegs) == 0 {
		return "", version.PackageVersion{}, false
	}

	prefix := artifact + "-" + pathVersion
	if !strings.HasPrefix(filename, prefix) {
		return "", version.PackageVersion{}, false
	}

	group := strings.Join(groupSegs, ".")
	v, err := version.Parse(pathVersion)
	if err != nil {
		v = version.FromUnknown(pathVersion)
	}
	return group + ":" + artifact, v, true
}

func stripKnownPrefix(segs []string) []string {
	for _, prefix := range knownPrefixes {
		if len(segs) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if segs[i] != p {
				match = false
				break
			}
		}
		if match {
			return segs[len(prefix):]
		}
	}
	return segs
}
