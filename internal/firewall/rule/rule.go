// Package rule defines the BlockRule contract every ecosystem plugs into:
// a cheap domain prefilter, a request-side parse-and-decide step, and a
// PAC-domain contribution — plus the ordered registry the firewall
// evaluator assembles its rule chain from, grounded on the teacher's
// registry/updater and matchers/registry registration pattern.
package rule

import (
	"context"
	"net/http"
	"sync"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/events"
	"github.com/aikido-oss/safechain-proxy/internal/malwarelist"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

// Decision is the outcome of a rule's evaluation of one request.
type Decision int

const (
	// Allow lets the request continue to the egress client, possibly with
	// a rewritten *http.Request (see Verdict.Request).
	Allow Decision = iota
	// Block denies the request; Verdict.Artifact identifies what was blocked.
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "Block"
	}
	return "Allow"
}

// Verdict is a rule's answer for one request.
type Verdict struct {
	Decision Decision
	// Request holds the (possibly rewritten) request when Decision==Allow.
	Request *http.Request
	// Artifact identifies the blocked package/extension/repo when Decision==Block.
	Artifact events.BlockedArtifact
}

// DomainCollector receives the domains a rule wants routed through the
// proxy, for PAC script generation.
type DomainCollector interface {
	AddDomain(pattern string)
}

// Rule is one ecosystem's block rule: npm, PyPI, Maven, NuGet, Chrome,
// VSCode, Open-VSX, skills.sh each implement this in a sibling package and
// register a constructor at init time via [Register].
type Rule interface {
	// ProductName is the rule's stable identifier, e.g. "npm".
	ProductName() string
	// MatchDomain is a cheap prefilter: the evaluator only calls
	// BlockRequest when this returns true for the request's resolved host.
	MatchDomain(host string) bool
	// BlockRequest parses req, decides Allow/Block against list, and
	// returns a Verdict. ec carries the per-ecosystem policy overrides;
	// list is nil-safe (a nil list yields no matches, never a panic).
	BlockRequest(ctx context.Context, req *http.Request, ec epconfig.EcosystemConfig, list Lister) (Verdict, error)
	// CollectPACDomains enumerates domains this rule wants routed through
	// the proxy.
	CollectPACDomains(c DomainCollector)
}

// ResponseFilter is an optional capability a Rule implements when it needs
// to inspect or rewrite the response body for the request it allowed (npm's
// min-package-age filtering and the VSCode gallery's extensionquery scan
// being the current examples). The firewall's EvaluateResponse stage
// type-asserts the matched rule against this interface, mirroring the
// teacher's Configurable type-assertion pattern in registry/updater.Configure.
// list is the same malware-list lookup surface BlockRequest receives, passed
// per call rather than baked in; nil-safe.
type ResponseFilter interface {
	FilterResponse(ctx context.Context, resp *http.Response, ec epconfig.EcosystemConfig, list Lister) error
}

// Lister is the malware-list lookup surface a rule needs; satisfied by
// *internal/malwarelist.List and by test doubles.
type Lister interface {
	Contains(packageName string, observed version.PackageVersion) (malwarelist.ListDataEntry, bool)
}

// Factory constructs a [Rule]. The malware list and any other per-request
// dependencies are passed into [Rule.BlockRequest] per call, not baked in
// at construction, so a Factory takes no arguments.
type Factory func() (Rule, error)

// NamedFactory pairs a registered name with its constructor, preserving
// registration order — unlike the teacher's map-only registry, order here
// is load-bearing: spec.md §4.4 resolves cross-rule ties by registration
// order (first match wins), so Registered returns a slice, not a map.
type NamedFactory struct {
	Name string
	New  Factory
}

var pkg = struct {
	sync.Mutex
	order []string
	fs    map[string]Factory
}{fs: make(map[string]Factory)}

// Register registers a rule constructor under name. Register panics if
// the same name is registered twice, matching the teacher's registry
// panic-on-duplicate contract.
func Register(name string, f Factory) {
	pkg.Lock()
	defer pkg.Unlock()
	if _, ok := pkg.fs[name]; ok {
		panic("rule: " + name + " already registered")
	}
	pkg.fs[name] = f
	pkg.order = append(pkg.order, name)
}

// Registered returns the registered rule factories in registration order.
func Registered() []NamedFactory {
	pkg.Lock()
	defer pkg.Unlock()
	out := make([]NamedFactory, len(pkg.order))
	for i, name := range pkg.order {
		out[i] = NamedFactory{Name: name, New: pkg.fs[name]}
	}
	return out
}

// AllowRequest builds an Allow verdict, optionally carrying a rewritten
// request (e.g. npm's Accept-header rewrite).
func AllowRequest(req *http.Request) Verdict {
	return Verdict{Decision: Allow, Request: req}
}

// BlockArtifact builds a Block verdict for one identified artifact.
func BlockArtifact(product, identifier string, v version.PackageVersion) Verdict {
	return Verdict{
		Decision: Block,
		Artifact: events.BlockedArtifact{Product: product, Identifier: identifier, Version: v},
	}
}

// Override is the result of applying a rule's UserConfig precedence, ahead
// of any malware-list lookup.
type Override int

const (
	// OverrideNone means no override fired; the caller must fall through
	// to the malware-list lookup.
	OverrideNone Override = iota
	// OverrideAllow means a short-circuit Allow was reached.
	OverrideAllow
	// OverrideBlock means a short-circuit Block was reached (the caller
	// still builds the Verdict, since only it knows the artifact identity).
	OverrideBlock
)

// EvaluateOverrides applies the UserConfig precedence from spec.md §4.4:
//
//  1. ec.Enabled == false → OverrideAllow.
//  2. ec.BlockAllInstalls == true → OverrideBlock, without a list lookup.
//  3. a matching exception for exceptionType/packageCoordinate →
//     OverrideAllow, even if the list would otherwise block.
//  4. otherwise → OverrideNone; the caller consults the malware list.
func EvaluateOverrides(ec epconfig.EcosystemConfig, exceptionType, packageCoordinate string) Override {
	if !ec.Enabled {
		return OverrideAllow
	}
	if ec.BlockAllInstalls {
		return OverrideBlock
	}
	if ec.HasException(exceptionType, packageCoordinate) {
		return OverrideAllow
	}
	return OverrideNone
}
