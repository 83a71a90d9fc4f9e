// Package chrome implements the Chrome Web Store block rule: the CRX
// blob download URL and the extension-update query form, grounded on
// original_source/proxy/src/firewall/rule/chrome.rs.
package chrome

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/quay/zlog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

// caser normalizes extension IDs the same locale-independent way
// internal/malwarelist's formatters normalize package names, so a
// malware-list entry and a parsed request always compare equal.
var caser = cases.Lower(language.Und)

const productName = "chrome"

var domains = []string{"clients2.google.com", "clients2.googleusercontent.com"}

func init() {
	rule.Register(productName, func() (rule.Rule, error) { return &Rule{}, nil })
}

// Rule is the Chrome Web Store BlockRule.
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
	extID, ver, ok := parseRequest(req.URL.Path, req.URL.RawQuery)
	if !ok {
		return rule.AllowRequest(req), nil
	}
	extID = caser.String(extID)

	switch rule.EvaluateOverrides(ec, "malware", extID) {
	case rule.OverrideAllow:
		return rule.AllowRequest(req), nil
	case rule.OverrideBlock:
		return rule.BlockArtifact(productName, extID, ver), nil
	}

	if entry, found := list.Contains(extID, ver); found {
		zlog.Debug(ctx).Str("extension", entry.PackageName).Msg("blocked Chrome extension")
		return rule.BlockArtifact(productName, entry.PackageName, entry.Version), nil
	}
	return rule.AllowRequest(req), nil
}

// parseRequest tries the CRX blob path first, then the update-query form.
func parseRequest(path, rawQuery string) (extID string, ver version.PackageVersion, ok bool) {
	if extID, ver, ok := parseCRXPath(path); ok {
		return extID, ver, ok
	}
	return parseUpdateQuery(rawQuery)
}

// parseCRXPath parses "/crx/blobs/<op>/<EXT_ID>_<v1>_<v2>_<v3>_<v4>.crx".
func parseCRXPath(path string) (extID string, ver version.PackageVersion, ok bool) {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) != 3 || segs[0] != "crx" || segs[1] != "blobs" {
		return "", version.PackageVersion{}, false
	}
	filename := strings.TrimSuffix(segs[2], ".crx")
	if filename == segs[2] {
		return "", version.PackageVersion{}, false // no .crx suffix
	}

	parts := strings.Split(filename, "_")
	if len(parts) != 5 {
		return "", version.PackageVersion{}, false
	}
	extID = parts[0]
	verStr := strings.Join(parts[1:], ".")
	v, err := version.Parse(verStr)
	if err != nil {
		return "", version.PackageVersion{}, false
	}
	return extID, v, true
}

// parseUpdateQuery parses the update-check query form, e.g.
// "?x=id%3D<EXT_ID>%26..."; only the first "x" occurrence is consulted,
// matching the original's single-field ChromeExtInfo struct — multiple
// concatenated "x" fields are unhandled, per the spec's own caveat. No
// version is carried by this form, so the lookup uses version.Any.
func parseUpdateQuery(rawQuery string) (extID string, ver version.PackageVersion, ok bool) {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", version.PackageVersion{}, false
	}
	x := q.Get("x")
	if x == "" {
		return "", version.PackageVersion{}, false
	}
	for _, field := range strings.Split(x, "&") {
		id, found := strings.CutPrefix(field, "id=")
		if found {
			return strings.TrimSpace(id), version.Any(), true
		}
	}
	return "", version.PackageVersion{}, false
}
