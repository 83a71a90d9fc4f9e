package pypi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/malwarelist"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

type fakeList struct {
	entries map[string]malwarelist.ListDataEntry
}

func (f fakeList) Contains(name string, observed version.PackageVersion) (malwarelist.ListDataEntry, bool) {
	e, ok := f.entries[name]
	if !ok || !e.Version.Equal(observed) {
		return malwarelist.ListDataEntry{}, false
	}
	return e, true
}

func mustVersion(t *testing.T, s string) version.PackageVersion {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestParsePath(t *testing.T) {
	cases := []struct {
		path string
		name string
		ver  string
		ok   bool
	}{
		{"/packages/py3/f/foo/foo-1.2.3-py3-none-any.whl", "foo", "1.2.3", true},
		{"/packages/source/f/foo/foo-1.2.3.tar.gz", "foo", "1.2.3", true},
		{"/pypi/foo/json", "foo", "", true},
		{"/static/css/screen.css", "", "", false},
	}
	for _, c := range cases {
		name, ver, ok := parsePath(c.path)
		if ok != c.ok {
			t.Fatalf("parsePath(%q): ok=%v want %v", c.path, ok, c.ok)
		}
		if !ok {
			continue
		}
		if name != c.name {
			t.Errorf("parsePath(%q): name=%q want %q", c.path, name, c.name)
		}
		if c.ver != "" && !ver.Equal(mustVersion(t, c.ver)) {
			t.Errorf("parsePath(%q): version=%v want %v", c.path, ver, c.ver)
		}
	}
}

func TestBlockRequestJSONEndpointMatchesAnyListedVersion(t *testing.T) {
	r := &Rule{}
	list := fakeList{entries: map[string]malwarelist.ListDataEntry{
		"evil-pkg": {PackageName: "evil-pkg", Version: mustVersion(t, "1.0.0"), Reason: malwarelist.ReasonMalware},
	}}
	req := httptest.NewRequest(http.MethodGet, "https://pypi.org/pypi/evil-pkg/json", nil)

	v, err := r.BlockRequest(context.Background(), req, epconfig.EcosystemConfig{Enabled: true}, list)
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != rule.Block {
		t.Fatalf("expected Block, got %v", v.Decision)
	}
}

func TestBlockRequestWheelAllowedWhenUnlisted(t *testing.T) {
	r := &Rule{}
	list := fakeList{entries: map[string]malwarelist.ListDataEntry{}}
	req := httptest.NewRequest(http.MethodGet, "https://files.pythonhosted.org/packages/py3/f/foo/foo-1.2.3-py3-none-any.whl", nil)

	v, err := r.BlockRequest(context.Background(), req, epconfig.EcosystemConfig{Enabled: true}, list)
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != rule.Allow {
		t.Fatalf("expected Allow, got %v", v.Decision)
	}
}
