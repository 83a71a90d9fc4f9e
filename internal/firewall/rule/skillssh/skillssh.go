// Package skillssh implements the skills.sh block rule: Git smart-HTTP
// path parsing into an "owner/repo" coordinate, grounded on
// original_source/proxy-lib/src/http/firewall/rule/skills_sh/tests.rs.
package skillssh

import (
	"context"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

const productName = "skillssh"
const domain = "skills.sh"

var gitSmartHTTPSuffixes = []string{"info/refs", "git-upload-pack", "git-receive-pack"}

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the skills.sh BlockRule.
type Rule struct{}

var _ rule.Rule = (*Rule)(nil)

func (*Rule) ProductName() string { return productName }

func (*Rule) MatchDomain(host string) bool { return strings.EqualFold(host, domain) }

func (*Rule) CollectPACDomains(c rule.DomainCollector) { c.AddDomain(domain) }

func (*Rule) BlockRequest(ctx context.Context, req *http.Request, ec epconfig.EcosystemConfig, list rule.Lister) (rule.Verdict, error) {
	repo, ok := parseRepoFromPath(req.URL.Path)
	if !ok {
		return rule.AllowRequest(req), nil
	}

	switch rule.EvaluateOverrides(ec, "malware", repo) {
	case rule.OverrideAllow:
		return rule.AllowRequest(req), nil
	case rule.OverrideBlock:
		return rule.BlockArtifact(productName, repo, version.Any()), nil
	}

	// Git smart-HTTP negotiation carries no package version; any listed
	// entry for this owner/repo, regardless of version, is a match.
	if entry, found := list.Contains(repo, version.Any()); found {
		zlog.Debug(ctx).Str("repo", entry.PackageName).Msg("blocked skills.sh repo")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parseRepoFromPath parses "/<owner>/<repo>(.git)?/(info/refs|git-upload-pack|git-receive-pack)"
// into a lowercased "owner/repo" string. It rejects paths with no owner
// segment.
func parseRepoFromPath(p string) (repo string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	var suffix string
	for _, s := range gitSmartHTTPSuffixes {
		if strings.HasSuffix(p, "/"+s) {
			suffix = s
			break
		}
	}
	if suffix == "" {
		return "", false
	}
	prefix := strings.TrimSuffix(p, "/"+suffix)
	segs := strings.Split(prefix, "/")
	if len(segs) != 2 {
		return "", false
	}
	owner, name := segs[0], strings.TrimSuffix(segs[1], ".git")
	if owner == "" || name == "" {
		return "", false
	}
	return strings.ToLower(owner + "/" + name), true
}
