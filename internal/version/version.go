// Package version implements the pragmatic, multi-ecosystem package
// version model used throughout the firewall: a lenient semver-like parser
// with asymmetric equality, plus a small tagged union for the handful of
// other shapes a package version can take (a wildcard, an opaque token, or
// absent entirely).
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the variants of [PackageVersion].
type Kind uint8

const (
	// KindAny is a wildcard that equals every other variant.
	KindAny Kind = iota
	// KindSemver holds a [PragmaticSemver].
	KindSemver
	// KindUnknown holds an opaque version token, compared case-insensitively.
	KindUnknown
	// KindNone represents an absent version.
	KindNone
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "Any"
	case KindSemver:
		return "Semver"
	case KindUnknown:
		return "Unknown"
	case KindNone:
		return "None"
	default:
		return "Invalid"
	}
}

// PackageVersion is the tagged-variant version type described in the
// firewall's data model: a wildcard, a pragmatic semver, an opaque token, or
// absent.
type PackageVersion struct {
	kind    Kind
	semver  PragmaticSemver
	unknown string
}

// Any returns the wildcard variant.
func Any() PackageVersion { return PackageVersion{kind: KindAny} }

// None returns the absent-version variant.
func None() PackageVersion { return PackageVersion{kind: KindNone} }

// FromSemver wraps a parsed [PragmaticSemver].
func FromSemver(v PragmaticSemver) PackageVersion {
	return PackageVersion{kind: KindSemver, semver: v}
}

// FromUnknown wraps an opaque version token.
func FromUnknown(s string) PackageVersion {
	return PackageVersion{kind: KindUnknown, unknown: s}
}

// Kind reports the variant tag.
func (v PackageVersion) Kind() Kind { return v.kind }

// Semver returns the wrapped [PragmaticSemver] and whether the receiver is
// of kind [KindSemver].
func (v PackageVersion) Semver() (PragmaticSemver, bool) {
	return v.semver, v.kind == KindSemver
}

// Unknown returns the wrapped opaque token and whether the receiver is of
// kind [KindUnknown].
func (v PackageVersion) Unknown() (string, bool) {
	return v.unknown, v.kind == KindUnknown
}

// Parse parses a package version string using [ParsePragmaticSemver];
// callers that already know a version is opaque (e.g. a VCS commit
// reference) should construct it with [FromUnknown] instead.
func Parse(s string) (PackageVersion, error) {
	sv, err := ParsePragmaticSemver(s)
	if err != nil {
		return PackageVersion{}, err
	}
	return FromSemver(sv), nil
}

// Equal implements the asymmetric equality contract:
//
//   - Any equals every other variant (including itself), and every variant
//     equals Any.
//   - Two Semver variants are equal iff the shorter's components are a
//     prefix of the longer's, and the longer's remaining components are
//     all zero (so "6.45" == "6.45.0.0" but "6.45.0.1" != "6.45.0").
//   - Two Unknown variants are equal iff their tokens match
//     case-insensitively (ASCII).
//   - Two None variants are always equal.
//
// Equal is reflexive and symmetric but deliberately not transitive: Any is
// a pattern, not a value, so Any==1.0 and Any==2.0 while 1.0!=2.0.
func (v PackageVersion) Equal(o PackageVersion) bool {
	if v.kind == KindAny || o.kind == KindAny {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindSemver:
		return v.semver.Equal(o.semver)
	case KindUnknown:
		return strings.EqualFold(v.unknown, o.unknown)
	case KindNone:
		return true
	default:
		return false
	}
}

// String renders the wire format from the spec: Semver renders dotted with
// an optional "-pre" suffix, Any renders "*", Unknown renders its raw
// token, and None renders "" ([PackageVersion.MarshalJSON] renders None as
// JSON null).
func (v PackageVersion) String() string {
	switch v.kind {
	case KindAny:
		return "*"
	case KindSemver:
		return v.semver.String()
	case KindUnknown:
		return v.unknown
	case KindNone:
		return ""
	default:
		return ""
	}
}

// MarshalJSON renders None as JSON null and every other variant as its
// string form, matching the blocked-event wire format in spec.md §6.
func (v PackageVersion) MarshalJSON() ([]byte, error) {
	if v.kind == KindNone {
		return []byte("null"), nil
	}
	return strconv.AppendQuote(nil, v.String()), nil
}

// UnmarshalJSON accepts a JSON string or null.
func (v *PackageVersion) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*v = None()
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("version: unmarshal: %w", err)
	}
	if unquoted == "*" {
		*v = Any()
		return nil
	}
	parsed, err := ParsePragmaticSemver(unquoted)
	if err != nil {
		*v = FromUnknown(unquoted)
		return nil
	}
	*v = FromSemver(parsed)
	return nil
}
