package blockresponse

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteNegotiatesContentType(t *testing.T) {
	cases := []struct {
		name        string
		accept      string
		wantType    string
		wantNoBody  bool
	}{
		{"plain json", "application/json", "application/json", false},
		{"plain html", "text/html", "text/html; charset=utf-8", false},
		{"text/plain has unrecognized subtype plain", "text/plain", "", true},
		{"plain xml", "application/xml", "application/xml", false},
		{"q-value picks highest", "text/html;q=0.5, application/json;q=0.9", "application/json", false},
		{"ties broken by accept header order", "application/xml;q=0.8, text/html;q=0.8", "application/xml", false},
		{"swapped tie order picks the other subtype first", "text/html;q=0.8, application/xml;q=0.8", "text/html; charset=utf-8", false},
		{"xml precedes tied plain/text", "text/html;q=0.8,application/json;q=0.9,application/xml,plain/text", "application/xml", false},
		{"swapping the tied pair flips the result", "text/html;q=0.8,application/json;q=0.9,plain/text,application/xml", "text/plain; charset=utf-8", false},
		{"browser-style accept picks html", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", "text/html; charset=utf-8", false},
		{"unrecognized type falls back to empty body", "application/octet-stream", "", true},
		{"empty accept falls back to empty body", "", "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/evil-pkg-1.0.0.tgz", nil)
			if c.accept != "" {
				req.Header.Set("Accept", c.accept)
			}
			rec := httptest.NewRecorder()
			Write(rec, req, "safechain-proxy")

			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", rec.Code)
			}
			if got := rec.Header().Get("x-blocked-by"); got != "safechain-proxy" {
				t.Errorf("x-blocked-by = %q, want safechain-proxy", got)
			}
			if c.wantNoBody {
				if rec.Body.Len() != 0 {
					t.Errorf("body = %q, want empty", rec.Body.String())
				}
				return
			}
			if got := rec.Header().Get("Content-Type"); got != c.wantType {
				t.Errorf("Content-Type = %q, want %q", got, c.wantType)
			}
			if rec.Body.Len() == 0 {
				t.Error("expected a non-empty body")
			}
		})
	}
}

func TestWriteStripsCacheHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/evil-pkg-1.0.0.tgz", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	rec.Header().Add("ETag", `"a"`)
	rec.Header().Add("ETag", `"b"`)
	rec.Header().Add("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
	rec.Header().Add("Cache-Control", "max-age=3600")
	rec.Header().Add("Cache-Control", "public")
	rec.Header().Set("X-Foo", "keep-me")

	Write(rec, req, "safechain-proxy")

	for _, h := range []string{"ETag", "Last-Modified", "Cache-Control"} {
		if v := rec.Header().Values(h); len(v) != 0 {
			t.Errorf("header %s still present: %v", h, v)
		}
	}
	if got := rec.Header().Get("X-Foo"); got != "keep-me" {
		t.Errorf("unrelated header X-Foo = %q, want preserved", got)
	}
}
