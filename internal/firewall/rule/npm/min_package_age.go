package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
)

// fullMetadata is the subset of the npm registry's full package document
// (GET /<pkg> with Accept: application/json) that RemoveNewPackages needs.
type fullMetadata struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
	Time     map[string]string          `json:"time"`
}

// FilterResponse implements [rule.ResponseFilter]: it drops npm versions
// newer than ec's configured minimum_allowed_age, decided per
// DESIGN.md's Open Question #2 (the original spec left this as a stub).
// A request with no configured age, a non-JSON body, or a malformed
// document is left untouched.
func (*Rule) FilterResponse(ctx context.Context, resp *http.Response, ec epconfig.EcosystemConfig, list rule.Lister) error {
	age, ok := ec.MinimumAllowedAge()
	if !ok {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	filtered, changed, err := removeNewPackages(body, age, time.Now())
	if err != nil {
		// Not the npm full-metadata shape we expect (e.g. a tarball
		// response slipped through, or upstream sent something odd);
		// pass the original body through unfiltered.
		zlog.Debug(ctx).Err(err).Msg("npm min-package-age filter skipped: unparseable body")
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		return nil
	}
	if !changed {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		return nil
	}

	resp.Body = io.NopCloser(bytes.NewReader(filtered))
	resp.ContentLength = int64(len(filtered))
	resp.Header.Set("Content-Length", strconv.Itoa(len(filtered)))
	return nil
}

// removeNewPackages parses an npm full-metadata document and removes every
// versions[k] whose time[k] is within age of now, along with any dist-tags
// entries pointing at a removed version. changed reports whether anything
// was removed.
func removeNewPackages(body []byte, age time.Duration, now time.Time) (filtered []byte, changed bool, err error) {
	var doc fullMetadata
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false, err
	}
	if len(doc.Versions) == 0 || len(doc.Time) == 0 {
		return body, false, nil
	}

	threshold := now.Add(-age)
	removed := map[string]bool{}
	for v := range doc.Versions {
		tsStr, ok := doc.Time[v]
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			continue
		}
		if ts.After(threshold) {
			removed[v] = true
		}
	}
	if len(removed) == 0 {
		return body, false, nil
	}

	// Re-decode generically so unrecognized top-level fields survive
	// untouched; only "versions" and "dist-tags" are rewritten.
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, false, err
	}

	versions := map[string]json.RawMessage{}
	var rawVersions map[string]json.RawMessage
	if err := json.Unmarshal(generic["versions"], &rawVersions); err == nil {
		for v, raw := range rawVersions {
			if !removed[v] {
				versions[v] = raw
			}
		}
	}
	if raw, err := json.Marshal(versions); err == nil {
		generic["versions"] = raw
	}

	if rawTags, ok := generic["dist-tags"]; ok {
		var tags map[string]string
		if err := json.Unmarshal(rawTags, &tags); err == nil {
			for tag, v := range tags {
				if removed[v] {
					delete(tags, tag)
				}
			}
			if raw, err := json.Marshal(tags); err == nil {
				generic["dist-tags"] = raw
			}
		}
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
