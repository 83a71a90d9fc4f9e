package vscode

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
	if !ok {
		return malwarelist.ListDataEntry{}, false
	}
	return e, true
}

func TestParseExtensionPath(t *testing.T) {
	coord, ok := parseExtensionPath("/extensions/ms-python/python/1.2.3/vspackage")
	if !ok || coord != "ms-python.python" {
		t.Fatalf("coord=%q ok=%v", coord, ok)
	}
	if _, ok := parseExtensionPath("/assets/foo.png"); ok {
		t.Error("expected no match for a non-extension path")
	}
}

func TestBlockRequestBlocksListedExtension(t *testing.T) {
	r := &Rule{}
	list := fakeList{entries: map[string]malwarelist.ListDataEntry{
		"evil-pub.evil-ext": {PackageName: "evil-pub.evil-ext", Version: version.Any(), Reason: malwarelist.ReasonMalware},
	}}
	req := httptest.NewRequest(http.MethodGet, "https://marketplace.visualstudio.com/extensions/evil-pub/evil-ext/latest/vspackage", nil)

	v, err := r.BlockRequest(context.Background(), req, epconfig.EcosystemConfig{Enabled: true}, list)
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != rule.Block {
		t.Fatalf("expected Block, got %v", v.Decision)
	}
}
