package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// maxComponents is the fixed storage capacity for numeric components; a
// pragmatic semver with more components than this folds the overflow into
// the pre-release identifier tail, matching the "fixed-capacity array of up
// to 4 components plus a variable-length identifier list" storage note.
const maxComponents = 4

// PragmaticSemver is a permissive, multi-component numeric version: an
// ordered sequence of 1..=N numeric components (typically N=4) plus an
// optional dot-separated pre-release identifier chain.
type PragmaticSemver struct {
	components [maxComponents]uint64
	n          int
	preRelease []string
}

// ParsePragmaticSemverError enumerates the ways [ParsePragmaticSemver] can
// fail.
type ParsePragmaticSemverError struct {
	Input  string
	Reason string
}

func (e *ParsePragmaticSemverError) Error() string {
	return fmt.Sprintf("pragmatic semver: %q: %s", e.Input, e.Reason)
}

var (
	// ErrEmpty is returned for an empty input string.
	ErrEmpty = errors.New("empty version string")
	// ErrNonASCII is returned when the input contains non-ASCII bytes.
	ErrNonASCII = errors.New("non-ASCII byte in version string")
	// ErrBadComponent is returned for a malformed numeric component.
	ErrBadComponent = errors.New("malformed numeric component")
	// ErrTrailingGarbage is returned when unparsed input remains.
	ErrTrailingGarbage = errors.New("trailing garbage after version")
)

// ParsePragmaticSemver parses a version string of the form
// "[v]NUM('.'NUM)*['-'IDENT('.'IDENT)*]". NUM is an ASCII decimal integer
// with no leading zero (unless the component is a lone "0"). The
// pre-release identifier chain, if present, is dot-separated and each
// identifier is alphanumeric plus hyphen. A leading "v" is accepted and
// discarded; trailing whitespace is trimmed; non-ASCII input is rejected.
func ParsePragmaticSemver(s string) (PragmaticSemver, error) {
	orig := s
	s = strings.TrimRight(s, " \t\r\n")
	if s == "" {
		return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrEmpty.Error()}
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrNonASCII.Error()}
		}
	}
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrBadComponent.Error()}
	}

	numPart, preReleasePart, hasPre := strings.Cut(s, "-")

	var out PragmaticSemver
	var overflow []string
	for i, raw := range strings.Split(numPart, ".") {
		if raw == "" {
			return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrBadComponent.Error()}
		}
		if !isAllDigits(raw) {
			return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrBadComponent.Error()}
		}
		if len(raw) > 1 && raw[0] == '0' {
			return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrBadComponent.Error()}
		}
		val, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrBadComponent.Error()}
		}
		if i < maxComponents {
			out.components[i] = val
			out.n = i + 1
		} else {
			// Longer inputs fold into the identifier tail.
			overflow = append(overflow, raw)
		}
	}

	if hasPre {
		if preReleasePart == "" {
			return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrTrailingGarbage.Error()}
		}
		for _, ident := range strings.Split(preReleasePart, ".") {
			if ident == "" || !isAlnumHyphen(ident) {
				return PragmaticSemver{}, &ParsePragmaticSemverError{Input: orig, Reason: ErrTrailingGarbage.Error()}
			}
			out.preRelease = append(out.preRelease, ident)
		}
	}
	out.preRelease = append(out.preRelease, overflow...)

	return out, nil
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAlnumHyphen(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// Equal implements the asymmetric prefix/tail-zero comparison: the
// shorter's components must match the longer's prefix, and the longer's
// remaining components must all be zero. Pre-release identifiers must
// match exactly when both sides carry any (pre-release tags are not
// orderable under this pragmatic model, only presence/absence and content
// equality are considered).
func (v PragmaticSemver) Equal(o PragmaticSemver) bool {
	shortN, longN := v.n, o.n
	short, long := &v, &o
	if shortN > longN {
		shortN, longN = longN, shortN
		short, long = long, short
	}
	for i := 0; i < shortN; i++ {
		if short.components[i] != long.components[i] {
			return false
		}
	}
	for i := shortN; i < longN; i++ {
		if long.components[i] != 0 {
			return false
		}
	}
	return preReleaseEqual(v.preRelease, o.preRelease)
}

func preReleaseEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the dotted numeric form with an optional "-pre" suffix,
// e.g. "6.45.0.0" or "13.0.5-beta1".
func (v PragmaticSemver) String() string {
	var b strings.Builder
	n := v.n
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(v.components[i], 10))
	}
	if len(v.preRelease) > 0 {
		b.WriteByte('-')
		b.WriteString(strings.Join(v.preRelease, "."))
	}
	return b.String()
}

// NumComponents reports how many numeric components were parsed (ignoring
// zero-padding).
func (v PragmaticSemver) NumComponents() int { return v.n }
