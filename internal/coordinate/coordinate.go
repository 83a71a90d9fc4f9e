// Package coordinate defines the package-coordinate shape shared by every
// firewall rule's URL parser, plus a renderer to the canonical Package URL
// (PURL) form so blocked-event payloads and logs carry one coordinate
// representation regardless of ecosystem.
package coordinate

import (
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/aikido-oss/safechain-proxy/internal/version"
)

// Coordinate identifies one artifact within one ecosystem: a name (the
// ecosystem-specific identity, e.g. "lodash", "group:artifact",
// "owner/repo") and a parsed version.
type Coordinate struct {
	Ecosystem string
	Name      string
	Version   version.PackageVersion
}

// purlType maps an ecosystem name to the PURL type string defined by the
// package-url spec; ecosystems without a standardized PURL type fall back
// to their lowercased name.
var purlType = map[string]string{
	"npm":      packageurl.TypeNPM,
	"pypi":     packageurl.TypePyPi,
	"maven":    packageurl.TypeMaven,
	"nuget":    packageurl.TypeNuget,
	"chrome":   "chrome",
	"vscode":   "vscode",
	"openvsx":  "vscode",
	"skillssh": "skillssh",
}

// PURL renders the coordinate as a [packageurl.PackageURL]. Maven
// coordinates ("group:artifact") and skills.sh coordinates ("owner/repo")
// are split into namespace/name; every other ecosystem uses an empty
// namespace.
func (c Coordinate) PURL() packageurl.PackageURL {
	t, ok := purlType[c.Ecosystem]
	if !ok {
		t = c.Ecosystem
	}

	namespace, name := "", c.Name
	if c.Ecosystem == "maven" {
		if ns, n, found := strings.Cut(c.Name, ":"); found {
			namespace, name = ns, n
		}
	}
	if c.Ecosystem == "skillssh" {
		if ns, n, found := strings.Cut(c.Name, "/"); found {
			namespace, name = ns, n
		}
	}

	ver := ""
	if c.Version.Kind() != version.KindNone && c.Version.Kind() != version.KindAny {
		ver = c.Version.String()
	}

	return packageurl.NewPackageURL(t, namespace, name, ver, nil, "")
}

// String renders the coordinate's canonical PURL string.
func (c Coordinate) String() string {
	p := c.PURL()
	return p.ToString()
}
