package vscode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

var _ rule.ResponseFilter = (*Rule)(nil)

// extensionQueryDoc is the subset of the gallery's extensionquery response
// FilterResponse needs: a tree of results, each carrying the extensions it
// found.
type extensionQueryDoc struct {
	Results []struct {
		Extensions []json.RawMessage `json:"extensions"`
	} `json:"results"`
}

// extensionRef is the publisher/name pair FilterResponse matches against
// list, per extension object in the gallery response.
type extensionRef struct {
	Publisher struct {
		PublisherName string `json:"publisherName"`
	} `json:"publisher"`
	ExtensionName string `json:"extensionName"`
}

// FilterResponse implements [rule.ResponseFilter]: it scans the gallery's
// extensionquery JSON for results[].extensions[] objects and drops any whose
// publisher.publisherName+"."+extensionName matches list, mirroring npm's
// RemoveNewPackages filtering. A non-JSON or unexpected-shape body is left
// untouched.
func (*Rule) FilterResponse(ctx context.Context, resp *http.Response, ec epconfig.EcosystemConfig, list rule.Lister) error {
	if resp.StatusCode != http.StatusOK || list == nil {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	filtered, changed, err := removeBlockedExtensions(ctx, body, ec, list)
	if err != nil {
		zlog.Debug(ctx).Err(err).Msg("vscode extensionquery filter skipped: unparseable body")
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

// removeBlockedExtensions parses an extensionquery document and removes
// every results[].extensions[] entry whose coordinate matches list or ec's
// overrides. changed reports whether anything was removed.
func removeBlockedExtensions(ctx context.Context, body []byte, ec epconfig.EcosystemConfig, list rule.Lister) (filtered []byte, changed bool, err error) {
	var doc extensionQueryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false, err
	}
	if len(doc.Results) == 0 {
		return body, false, nil
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, false, err
	}
	var rawResults []map[string]json.RawMessage
	if err := json.Unmarshal(generic["results"], &rawResults); err != nil {
		return body, false, nil
	}

	for i, result := range doc.Results {
		kept := make([]json.RawMessage, 0, len(result.Extensions))
		for _, raw := range result.Extensions {
			var ref extensionRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				kept = append(kept, raw)
				continue
			}
			if ref.Publisher.PublisherName == "" || ref.ExtensionName == "" {
				kept = append(kept, raw)
				continue
			}
			coord := ref.Publisher.PublisherName + "." + ref.ExtensionName

			switch rule.EvaluateOverrides(ec, "malware", coord) {
			case rule.OverrideBlock:
				changed = true
				continue
			case rule.OverrideAllow:
				kept = append(kept, raw)
				continue
			}
			if entry, found := list.Contains(coord, version.Any()); found {
				zlog.Debug(ctx).Str("extension", entry.PackageName).Msg("removed VSCode extension from gallery response")
				changed = true
				continue
			}
			kept = append(kept, raw)
		}
		if len(kept) != len(result.Extensions) {
			rawExtensions, err := json.Marshal(kept)
			if err != nil {
				return nil, false, err
			}
			rawResults[i]["extensions"] = rawExtensions
		}
	}
	if !changed {
		return body, false, nil
	}

	rawResultsOut, err := json.Marshal(rawResults)
	if err != nil {
		return nil, false, err
	}
	generic["results"] = rawResultsOut

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
