// Package events defines the blocked-event wire format: the structured
// record emitted whenever the firewall denies a request, delivered
// out-of-band to a reporting endpoint by internal/notifier.
package events

import (
	"time"

	"github.com/aikido-oss/safechain-proxy/internal/version"
)

// BlockedArtifact identifies what was blocked.
type BlockedArtifact struct {
	// Product is the rule's product name (e.g. "npm").
	Product string `json:"product"`
	// Identifier is the package/extension/repo name.
	Identifier string `json:"identifier"`
	// Version is serialized as JSON null when absent (version.KindNone).
	Version version.PackageVersion `json:"version"`
}

// BlockedEventInfo is the payload handed to the notifier at block time,
// before a timestamp is assigned.
type BlockedEventInfo struct {
	Artifact BlockedArtifact
}

// BlockedEvent is the serialized wire form, matching spec.md §6:
//
//	{"ts_ms":<i64>,"artifact":{"product":"<str>","identifier":"<str>","version":"<version-str-or-null>"}}
type BlockedEvent struct {
	TsMs     int64           `json:"ts_ms"`
	Artifact BlockedArtifact `json:"artifact"`
}

// FromInfo stamps info with the current time.
func FromInfo(info BlockedEventInfo) BlockedEvent {
	return BlockedEvent{TsMs: time.Now().UnixMilli(), Artifact: info.Artifact}
}
