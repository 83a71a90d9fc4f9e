// Package malwarelist implements the per-ecosystem malware list: a mapping
// from a normalized package key to the set of known-malicious versions for
// that package, refreshable from a remote source with a local backup.
package malwarelist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/coordinate"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

// Reason classifies why an entry is listed.
type Reason string

const (
	ReasonMalware   Reason = "malware"
	ReasonTelemetry Reason = "telemetry"
)

// ListDataEntry is one listed artifact.
type ListDataEntry struct {
	PackageName string                  `json:"package_name"`
	Version     version.PackageVersion  `json:"version"`
	Reason      Reason                  `json:"reason"`
}

// EntryFormatter produces the normalized lookup key for an entry. Every
// entry stored under a key must satisfy Format(entry) == key; see
// [List.Contains].
type EntryFormatter interface {
	Format(entry ListDataEntry) string
}

// LowercaseNameFormatter is used by npm, PyPI, Maven, and NuGet: the
// normalized key is just the lowercased package name.
type LowercaseNameFormatter struct{}

func (LowercaseNameFormatter) Format(e ListDataEntry) string {
	return caser.String(e.PackageName)
}

// BlobStore is the opaque key/value blob store the list backs up to and
// restores from; [internal/storage.Store] is the one production
// implementation.
type BlobStore interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
}

// HTTPDoer is the minimal client interface the list's loader needs;
// satisfied by *http.Client (including the pooled egress client).
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type snapshot struct {
	entries map[string][]ListDataEntry
}

// List is a per-ecosystem malware list.
type List struct {
	Ecosystem  string
	Formatter  EntryFormatter
	SourceURI  string
	BackupKey  string
	client     HTTPDoer
	store      BlobStore
	snap       atomic.Pointer[snapshot]
	lastLoaded atomic.Int64
}

// New constructs a [List]. Call [List.Load] before first use.
func New(ecosystem string, formatter EntryFormatter, sourceURI, backupKey string, client HTTPDoer, store BlobStore) *List {
	l := &List{
		Ecosystem: ecosystem,
		Formatter: formatter,
		SourceURI: sourceURI,
		BackupKey: backupKey,
		client:    client,
		store:     store,
	}
	l.snap.Store(&snapshot{entries: map[string][]ListDataEntry{}})
	return l
}

// Load implements the three-step startup protocol: prefer a cached backup,
// else fetch from SourceURI and write through to the backup, else fall
// back to an empty list so the firewall keeps operating.
func (l *List) Load(ctx context.Context) error {
	if l.store != nil {
		if raw, ok, err := l.store.Get(l.BackupKey); err == nil && ok {
			entries, err := decodeEntries(raw)
			if err == nil {
				l.publish(entries)
				zlog.Info(ctx).Str("ecosystem", l.Ecosystem).Int("entries", len(entries)).Msg("malware list loaded from backup")
				return nil
			}
			zlog.Warn(ctx).Err(err).Str("ecosystem", l.Ecosystem).Msg("malware list backup decode failed, fetching fresh")
		}
	}

	entries, err := l.fetch(ctx)
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("ecosystem", l.Ecosystem).Msg("malware list fetch failed, continuing with empty list")
		l.publish(nil)
		return nil
	}

	l.publish(entries)
	if l.store != nil {
		if raw, err := encodeEntries(entries); err == nil {
			if err := l.store.Put(l.BackupKey, raw); err != nil {
				zlog.Warn(ctx).Err(err).Str("ecosystem", l.Ecosystem).Msg("malware list backup write failed")
			}
		}
	}
	return nil
}

// Refresh polls SourceURI once; on success it atomically swaps the shared
// snapshot, on failure it leaves the prior snapshot intact.
func (l *List) Refresh(ctx context.Context) error {
	cycle := uuid.New()
	entries, err := l.fetch(ctx)
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("ecosystem", l.Ecosystem).Str("refresh_id", cycle.String()).Msg("malware list refresh failed, keeping prior snapshot")
		return err
	}
	zlog.Debug(ctx).Str("ecosystem", l.Ecosystem).Str("refresh_id", cycle.String()).Int("entries", len(entries)).Msg("malware list refreshed")
	l.publish(entries)
	if l.store != nil {
		if raw, err := encodeEntries(entries); err == nil {
			_ = l.store.Put(l.BackupKey, raw)
		}
	}
	l.lastLoaded.Store(time.Now().UnixMilli())
	return nil
}

// RunRefreshLoop polls Refresh every interval until ctx is cancelled.
func (l *List) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = l.Refresh(ctx)
		}
	}
}

// Contains looks up an entry by package name and observed version using the
// asymmetric equality from [internal/version]. The first stored entry whose
// version equals observed wins. A nil *List contains nothing.
func (l *List) Contains(packageName string, observed version.PackageVersion) (ListDataEntry, bool) {
	if l == nil {
		return ListDataEntry{}, false
	}
	key := l.Formatter.Format(ListDataEntry{PackageName: packageName})
	snap := l.snap.Load()
	for _, e := range snap.entries[key] {
		if e.Version.Equal(observed) {
			return e, true
		}
	}
	return ListDataEntry{}, false
}

// Coordinate renders the PURL for an entry, given the ecosystem.
func (l *List) Coordinate(e ListDataEntry) coordinate.Coordinate {
	return coordinate.Coordinate{Ecosystem: l.Ecosystem, Name: e.PackageName, Version: e.Version}
}

func (l *List) publish(entries []ListDataEntry) {
	byKey := map[string][]ListDataEntry{}
	for _, e := range entries {
		key := l.Formatter.Format(e)
		byKey[key] = append(byKey[key], e)
	}
	l.snap.Store(&snapshot{entries: byKey})
}

func (l *List) fetch(ctx context.Context) ([]ListDataEntry, error) {
	if l.SourceURI == "" {
		return nil, fmt.Errorf("malwarelist: %s: no source URI configured", l.Ecosystem)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.SourceURI, nil)
	if err != nil {
		return nil, fmt.Errorf("malwarelist: %s: build request: %w", l.Ecosystem, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("malwarelist: %s: fetch: %w", l.Ecosystem, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("malwarelist: %s: unexpected status %d", l.Ecosystem, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("malwarelist: %s: read body: %w", l.Ecosystem, err)
	}
	return decodeEntries(body)
}

func decodeEntries(raw []byte) ([]ListDataEntry, error) {
	var entries []ListDataEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("malwarelist: decode entries: %w", err)
	}
	return entries, nil
}

func encodeEntries(entries []ListDataEntry) ([]byte, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("malwarelist: encode entries: %w", err)
	}
	return raw, nil
}
