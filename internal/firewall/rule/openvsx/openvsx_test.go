package openvsx

import "testing"

func TestParseExtensionPath(t *testing.T) {
	coord, ok := parseExtensionPath("/api/redhat/java/latest/file/redhat.java-1.2.3.vsix")
	if !ok || coord != "redhat.java" {
		t.Fatalf("coord=%q ok=%v", coord, ok)
	}
	if _, ok := parseExtensionPath("/health"); ok {
		t.Error("expected no match for a non-api path")
	}
}
