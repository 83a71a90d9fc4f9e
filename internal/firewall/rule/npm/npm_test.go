package npm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/malwarelist"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

type fakeList struct {
	entries map[string]malwarelist.ListDataEntry
}

func (f fakeList) Contains(name string, observed version.PackageVersion) (malwarelist.ListDataEntry, bool) {
	e, ok := f.entries[strings.ToLower(name)]
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

func TestParseTarballPath(t *testing.T) {
	cases := []struct {
		path    string
		name    string
		version string
		ok      bool
	}{
		{"/lodash/-/lodash-4.17.21.tgz", "lodash", "4.17.21", true},
		{"/safe-chain-test/-/safe-chain-test-0.0.1-security.tgz", "safe-chain-test", "0.0.1-security", true},
		{"/@scope/pkg/-/pkg-1.2.3.tgz", "@scope/pkg", "1.2.3", true},
		{"/not-a-tarball", "", "", false},
	}
	for _, c := range cases {
		name, ver, ok := parseTarballPath(c.path)
		if ok != c.ok {
			t.Fatalf("parseTarballPath(%q): ok=%v want %v", c.path, ok, c.ok)
		}
		if !ok {
			continue
		}
		if name != c.name {
			t.Errorf("parseTarballPath(%q): name=%q want %q", c.path, name, c.name)
		}
		if !ver.Equal(mustVersion(t, c.version)) {
			t.Errorf("parseTarballPath(%q): version=%v want %v", c.path, ver, c.version)
		}
	}
}

func TestBlockRequestBlocksListedVersion(t *testing.T) {
	r := &Rule{}
	list := fakeList{entries: map[string]malwarelist.ListDataEntry{
		"safe-chain-test": {PackageName: "safe-chain-test", Version: mustVersion(t, "0.0.1-security"), Reason: malwarelist.ReasonMalware},
	}}
	req := httptest.NewRequest(http.MethodGet, "https://registry.npmjs.org/safe-chain-test/-/safe-chain-test-0.0.1-security.tgz?a=b", nil)

	v, err := r.BlockRequest(context.Background(), req, epconfig.EcosystemConfig{Enabled: true}, list)
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != rule.Block {
		t.Fatalf("expected Block, got %v", v.Decision)
	}
	if v.Artifact.Identifier != "safe-chain-test" {
		t.Errorf("artifact identifier = %q", v.Artifact.Identifier)
	}
}

func TestBlockRequestAllowsUnlistedVersion(t *testing.T) {
	r := &Rule{}
	list := fakeList{entries: map[string]malwarelist.ListDataEntry{}}
	req := httptest.NewRequest(http.MethodGet, "https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz", nil)

	v, err := r.BlockRequest(context.Background(), req, epconfig.EcosystemConfig{Enabled: true}, list)
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != rule.Allow {
		t.Fatalf("expected Allow, got %v", v.Decision)
	}
}

func TestBlockRequestHonorsDisabledEcosystem(t *testing.T) {
	r := &Rule{}
	list := fakeList{entries: map[string]malwarelist.ListDataEntry{
		"lodash": {PackageName: "lodash", Version: version.Any(), Reason: malwarelist.ReasonMalware},
	}}
	req := httptest.NewRequest(http.MethodGet, "https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz", nil)

	v, err := r.BlockRequest(context.Background(), req, epconfig.EcosystemConfig{Enabled: false}, list)
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != rule.Allow {
		t.Fatal("expected disabled ecosystem to allow regardless of list")
	}
}

func TestRewriteInstallInfoAccept(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://registry.npmjs.org/lodash", nil)
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json")
	RewriteInstallInfoAccept(req)
	if got := req.Header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestRewriteInstallInfoAcceptLeavesOtherHeadersAlone(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://registry.npmjs.org/lodash", nil)
	req.Header.Set("Accept", "text/html")
	RewriteInstallInfoAccept(req)
	if got := req.Header.Get("Accept"); got != "text/html" {
		t.Errorf("Accept = %q", got)
	}
}

func TestRemoveNewPackagesDropsRecentVersions(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	body := []byte(`{
		"name": "example",
		"dist-tags": {"latest": "1.1.0"},
		"versions": {"1.0.0": {}, "1.1.0": {}},
		"time": {"1.0.0": "2020-01-01T00:00:00.000Z", "1.1.0": "2026-07-31T00:00:00.000Z"}
	}`)

	out, changed, err := removeNewPackages(body, 7*24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	var doc fullMetadata
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Versions["1.1.0"]; ok {
		t.Errorf("expected recent version removed: %s", out)
	}
	if _, ok := doc.Versions["1.0.0"]; !ok {
		t.Errorf("expected old version kept: %s", out)
	}
}

func TestRemoveNewPackagesNoopWithoutRecentVersions(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	body := []byte(`{"versions": {"1.0.0": {}}, "time": {"1.0.0": "2020-01-01T00:00:00.000Z"}}`)
	_, changed, err := removeNewPackages(body, 7*24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("expected no change")
	}
}

