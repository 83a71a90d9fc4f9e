// Package blockresponse generates the 403 response body and headers for a
// firewall-blocked request, content-negotiated from the request's Accept
// header, grounded on
// original_source/proxy/src/firewall/make_response.rs and
// original_source/proxy/src/http/headers.rs's remove_cache_headers.
package blockresponse

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const htmlBody = `<!doctype html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width,initial-scale=1">
    <title>Blocked</title>
</head>
<body>
    <h1>Request blocked</h1>
    <p>The requested source was blocked due to your organization policy.</p>
    <p>Contact your security administrator for more information.</p>
</body>
</html>
`

const textBody = `The requested source was blocked due to your organization policy.
Contact your security administrator for more information.
`

const jsonBody = `{
    "error": "blocked",
    "message": "The requested source was blocked due to your organization policy.",
    "action": "Contact your security administrator for more information."
}`

const xmlBody = `<?xml version="1.0" encoding="UTF-8"?>
<response>
    <error>blocked</error>
    <message>The requested source was blocked due to your organization policy.</message>
    <action>Contact your security administrator for more information.</action>
</response>`

// negotiationOrder maps a MIME subtype to its literal block-response body and
// Content-Type.
var negotiationOrder = []struct {
	subtype     string
	contentType string
	body        string
}{
	{"json", "application/json", jsonBody},
	{"html", "text/html; charset=utf-8", htmlBody},
	{"text", "text/plain; charset=utf-8", textBody},
	{"xml", "application/xml", xmlBody},
}

// Write writes a 403 response for req to w: content negotiated from req's
// Accept header (sorted by q-value descending, per spec.md §8 invariant
// 6), x-blocked-by always set, cache-lifetime headers stripped, empty body
// if no recognized subtype is present.
func Write(w http.ResponseWriter, req *http.Request, serverIdentifier string) {
	RemoveCacheHeaders(w.Header())
	w.Header().Set("x-blocked-by", serverIdentifier)

	subtype, body, ok := negotiate(req.Header.Get("Accept"))
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(subtype))
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(body))
}

// RemoveCacheHeaders strips ETag, Last-Modified, and Cache-Control,
// mirroring remove_cache_headers.
func RemoveCacheHeaders(h http.Header) {
	h.Del("ETag")
	h.Del("Last-Modified")
	h.Del("Cache-Control")
}

func contentTypeFor(subtype string) string {
	for _, e := range negotiationOrder {
		if e.subtype == subtype {
			return e.contentType
		}
	}
	return ""
}

// negotiate picks the highest-q recognized subtype from an Accept header.
// Ties are broken by input order: sort_quality_values is a stable sort on
// q alone, so among equal q-values whichever subtype appears first in the
// header wins.
func negotiate(accept string) (subtype, body string, ok bool) {
	if accept == "" {
		return "", "", false
	}
	recognized := map[string]int{}
	for i, e := range negotiationOrder {
		recognized[e.subtype] = i
	}

	qvs := parseAccept(accept)
	sort.SliceStable(qvs, func(i, j int) bool {
		return qvs[i].q > qvs[j].q
	})

	for _, qv := range qvs {
		if idx, known := recognized[qv.subtype]; known {
			e := negotiationOrder[idx]
			return e.subtype, e.body, true
		}
	}
	return "", "", false
}

type qvalue struct {
	subtype string
	q       float64
}

// parseAccept extracts the MIME subtype and q-value from each
// comma-separated Accept entry (ignoring the type, since this server only
// distinguishes by subtype, matching the original's mime::JSON/HTML/TEXT/XML
// subtype comparison).
func parseAccept(accept string) []qvalue {
	var out []qvalue
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ";")
		mimeType := strings.TrimSpace(fields[0])
		subtype := mimeType
		if idx := strings.IndexByte(mimeType, '/'); idx >= 0 {
			subtype = mimeType[idx+1:]
		}
		subtype = strings.TrimPrefix(subtype, "x-")
		subtype = strings.TrimPrefix(subtype, "vnd.")

		q := 1.0
		for _, param := range fields[1:] {
			param = strings.TrimSpace(param)
			if v, found := strings.CutPrefix(param, "q="); found {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = parsed
				}
			}
		}
		out = append(out, qvalue{subtype: subtype, q: q})
	}
	return out
}
