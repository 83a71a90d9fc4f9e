// Package epconfig implements the tenant endpoint-protection policy
// document: per-ecosystem enable/block/exception flags fetched from a
// remote endpoint, cached to storage, and refreshed on a timer, mirroring
// internal/malwarelist's load protocol.
package epconfig

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
)

// EndpointConfig is the tenant policy document, grounded on
// original_source/proxy-lib/src/endpoint_protection/types.rs.
type EndpointConfig struct {
	Version             string                      `json:"version"`
	UpdatedAt           string                      `json:"updated_at,omitempty"`
	PermissionGroupID   uint64                      `json:"permission_group_id"`
	PermissionGroupName string                      `json:"permission_group_name"`
	Ecosystems          map[string]EcosystemConfig `json:"ecosystems"`
}

// EcosystemConfig is the per-ecosystem policy.
type EcosystemConfig struct {
	Enabled               bool        `json:"enabled"`
	BlockAllInstalls      bool        `json:"block_all_installs"`
	RequestInstalls       bool        `json:"request_installs"`
	MinimumAllowedAgeVal  *uint64     `json:"minimum_allowed_age_value,omitempty"`
	MinimumAllowedAgeUnit *string     `json:"minimum_allowed_age_unit,omitempty"`
	Exceptions            []Exception `json:"exceptions"`
}

// Exception grants a policy exemption to specific packages.
type Exception struct {
	ExceptionType       string   `json:"exception_type"`
	PermissionGroupIDs  []uint64 `json:"permission_group_ids"`
	RelatedPackages     []string `json:"related_packages"`
}

// UnmarshalJSON applies the "enabled defaults to true" rule from
// original_source's `#[serde(default = "default_true")]`.
func (e *EcosystemConfig) UnmarshalJSON(b []byte) error {
	type alias EcosystemConfig
	aux := alias{Enabled: true}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = EcosystemConfig(aux)
	return nil
}

// MinimumAllowedAge converts the value/unit pair into a [time.Duration], or
// returns ok=false if unset or the unit is unrecognized.
func (e EcosystemConfig) MinimumAllowedAge() (time.Duration, bool) {
	if e.MinimumAllowedAgeVal == nil || e.MinimumAllowedAgeUnit == nil {
		return 0, false
	}
	var unit time.Duration
	switch *e.MinimumAllowedAgeUnit {
	case "seconds":
		unit = time.Second
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(*e.MinimumAllowedAgeVal) * unit, true
}

// HasException reports whether an exception of exceptionType covers
// packageCoordinate (by exact, case-sensitive match against
// RelatedPackages).
func (e EcosystemConfig) HasException(exceptionType, packageCoordinate string) bool {
	for _, ex := range e.Exceptions {
		if ex.ExceptionType != exceptionType {
			continue
		}
		for _, p := range ex.RelatedPackages {
			if p == packageCoordinate {
				return true
			}
		}
	}
	return false
}

// HTTPDoer is the minimal client interface the loader needs.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// BlobStore is the same opaque backup contract as internal/malwarelist.BlobStore.
type BlobStore interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
}

const backupKey = "endpoint-protection-config"

// Provider fetches, caches, and refreshes the tenant [EndpointConfig].
type Provider struct {
	sourceURI string
	client    HTTPDoer
	store     BlobStore
	cfg       atomic.Pointer[EndpointConfig]
}

// NewProvider constructs a [Provider]. Call [Provider.Load] before first use.
func NewProvider(sourceURI string, client HTTPDoer, store BlobStore) *Provider {
	p := &Provider{sourceURI: sourceURI, client: client, store: store}
	p.cfg.Store(&EndpointConfig{Ecosystems: map[string]EcosystemConfig{}})
	return p
}

// Load mirrors internal/malwarelist.List.Load's three-step protocol.
func (p *Provider) Load(ctx context.Context) error {
	if p.store != nil {
		if raw, ok, err := p.store.Get(backupKey); err == nil && ok {
			cfg, err := decode(raw)
			if err == nil {
				p.cfg.Store(cfg)
				return nil
			}
			zlog.Warn(ctx).Err(err).Msg("endpoint-protection config backup decode failed, fetching fresh")
		}
	}

	cfg, err := p.fetch(ctx)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("endpoint-protection config fetch failed, continuing with empty policy")
		return nil
	}
	p.cfg.Store(cfg)
	if p.store != nil {
		if raw, err := json.Marshal(cfg); err == nil {
			_ = p.store.Put(backupKey, raw)
		}
	}
	return nil
}

// Refresh polls sourceURI once, swapping the snapshot on success.
func (p *Provider) Refresh(ctx context.Context) error {
	cycle := uuid.New()
	cfg, err := p.fetch(ctx)
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("refresh_id", cycle.String()).Msg("endpoint-protection config refresh failed, keeping prior snapshot")
		return err
	}
	zlog.Debug(ctx).Str("refresh_id", cycle.String()).Msg("endpoint-protection config refreshed")
	p.cfg.Store(cfg)
	if p.store != nil {
		if raw, err := json.Marshal(cfg); err == nil {
			_ = p.store.Put(backupKey, raw)
		}
	}
	return nil
}

// RunRefreshLoop polls Refresh every interval until ctx is cancelled.
func (p *Provider) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = p.Refresh(ctx)
		}
	}
}

// Ecosystem returns the policy for a named ecosystem, or the default policy
// (enabled, no overrides) if none is configured.
func (p *Provider) Ecosystem(name string) EcosystemConfig {
	cfg := p.cfg.Load()
	if ec, ok := cfg.Ecosystems[name]; ok {
		return ec
	}
	return EcosystemConfig{Enabled: true}
}

func (p *Provider) fetch(ctx context.Context) (*EndpointConfig, error) {
	if p.sourceURI == "" {
		return nil, fmt.Errorf("epconfig: no source URI configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.sourceURI, nil)
	if err != nil {
		return nil, fmt.Errorf("epconfig: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("epconfig: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("epconfig: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("epconfig: read body: %w", err)
	}
	return decode(body)
}

func decode(raw []byte) (*EndpointConfig, error) {
	var cfg EndpointConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("epconfig: decode: %w", err)
	}
	if cfg.Ecosystems == nil {
		cfg.Ecosystems = map[string]EcosystemConfig{}
	}
	return &cfg, nil
}
