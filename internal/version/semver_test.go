package version

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParsePragmaticSemver(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple", input: "1.2.3"},
		{name: "leading v", input: "v6.45.0.0"},
		{name: "missing minor/patch", input: "6.45"},
		{name: "prerelease", input: "13.0.5-beta1"},
		{name: "multi prerelease", input: "1.0.0-alpha.1"},
		{name: "trailing whitespace", input: "1.2.3 \t\n"},
		{name: "overflow components fold into tail", input: "1.2.3.4.5"},
		{name: "empty", input: "", wantErr: true},
		{name: "non ascii", input: "1.2.é", wantErr: true},
		{name: "leading zero", input: "1.02.3", wantErr: true},
		{name: "lone zero ok", input: "1.0.3"},
		{name: "bad component", input: "1.a.3", wantErr: true},
		{name: "empty component", input: "1..3", wantErr: true},
		{name: "trailing dash", input: "1.2.3-", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePragmaticSemver(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParsePragmaticSemver(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

// TestRoundTrip is spec.md §8 invariant 1: parse(render(parse(s))) == parse(s).
func TestRoundTrip(t *testing.T) {
	inputs := []string{"1.2.3", "6.45.0.0", "13.0.5-beta1", "1.0.0-alpha.1.2", "0.0.1-security"}
	for _, s := range inputs {
		first, err := ParsePragmaticSemver(s)
		if err != nil {
			t.Fatalf("ParsePragmaticSemver(%q): %v", s, err)
		}
		second, err := ParsePragmaticSemver(first.String())
		if err != nil {
			t.Fatalf("ParsePragmaticSemver(%q) round trip: %v", first.String(), err)
		}
		if !first.Equal(second) {
			t.Errorf("round trip mismatch for %q: %v != %v", s, first, second)
		}
	}
}

// TestEqualPrefixPadding is spec.md §8 invariant 2.
func TestEqualPrefixPadding(t *testing.T) {
	a, err := ParsePragmaticSemver("6.45")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParsePragmaticSemver("6.45.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) || !b.Equal(a) {
		t.Fatalf("expected 6.45 == 6.45.0.0 symmetrically")
	}
}

// TestVersionMatchTable is spec.md §8 end-to-end scenario 7.
func TestVersionMatchTable(t *testing.T) {
	cases := []struct {
		entry, observed string
		want            bool
	}{
		{"6.45.0.0", "6.45", true},
		{"6.45.0", "6.45.0.0", true},
		{"6.45.0.1", "6.45.0", false},
		{"1.2.3.4", "1.2.3.5", false},
	}
	for _, tc := range cases {
		entry, err := ParsePragmaticSemver(tc.entry)
		if err != nil {
			t.Fatal(err)
		}
		observed, err := ParsePragmaticSemver(tc.observed)
		if err != nil {
			t.Fatal(err)
		}
		if got := entry.Equal(observed); got != tc.want {
			t.Errorf("Equal(%q, %q) = %v, want %v", tc.entry, tc.observed, got, tc.want)
		}
	}
}

func FuzzParsePragmaticSemver(f *testing.F) {
	for _, s := range []string{"1.2.3", "v6.45.0.0", "13.0.5-beta1", "", "not a version", "1.2.3-alpha.1.2.3.4.5.6"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		v, err := ParsePragmaticSemver(s)
		if err != nil {
			return
		}
		v2, err := ParsePragmaticSemver(v.String())
		if err != nil {
			t.Fatalf("round trip parse failed for rendered %q (from %q): %v", v.String(), s, err)
		}
		if !v.Equal(v2) {
			t.Fatalf("round trip mismatch: %q -> %v -> %q -> %v", s, v, v.String(), v2)
		}
	})
}

func TestPackageVersionEqualityContract(t *testing.T) {
	any1 := Any()
	oneZero, _ := Parse("1.0")
	twoZero, _ := Parse("2.0")

	if !any1.Equal(oneZero) || !oneZero.Equal(any1) {
		t.Fatal("Any must equal every Semver, symmetrically")
	}
	if !any1.Equal(twoZero) {
		t.Fatal("Any must equal every Semver")
	}
	if oneZero.Equal(twoZero) {
		t.Fatal("Any's non-transitivity: 1.0 must not equal 2.0 even though both equal Any")
	}

	u1 := FromUnknown("commit-abc123")
	u2 := FromUnknown("COMMIT-ABC123")
	if !u1.Equal(u2) {
		t.Fatal("Unknown equality must be case-insensitive")
	}
	if !u1.Equal(any1) {
		t.Fatal("Unknown must equal Any")
	}

	n1 := None()
	n2 := None()
	if !n1.Equal(n2) {
		t.Fatal("None must equal None")
	}
	if n1.Equal(u1) {
		t.Fatal("None must not equal Unknown")
	}
}

func TestPackageVersionJSONRoundTrip(t *testing.T) {
	cases := []PackageVersion{
		Any(),
		None(),
		FromUnknown("commit-abc123"),
		mustParse(t, "1.2.3"),
		mustParse(t, "13.0.5-beta1"),
	}
	for _, pv := range cases {
		b, err := pv.MarshalJSON()
		if err != nil {
			t.Fatal(err)
		}
		var got PackageVersion
		if err := got.UnmarshalJSON(b); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(pv, got, cmp.AllowUnexported(PackageVersion{}, PragmaticSemver{}), cmpopts.EquateComparable()); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func mustParse(t *testing.T, s string) PackageVersion {
	t.Helper()
	pv, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return pv
}
