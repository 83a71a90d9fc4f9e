// Package storage implements the one conforming implementation of the
// opaque key/value blob store other components depend on: a
// filesystem-backed store under a configured data directory, using a
// 4-byte little-endian size prefix plus an LZ4 block body for each
// "<key>.data" file, and a size-capped config.json for the token/device-id
// document.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"github.com/quay/zlog"
)

// maxConfigSize bounds config.json: an oversized file is ignored with a
// warning rather than treated as fatal.
const maxConfigSize = 4 * 1024 // 4 KiB

// Config is the on-disk config.json document.
type Config struct {
	Token    string `json:"token,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Store is a filesystem-backed blob store rooted at Dir.
type Store struct {
	Dir string
}

// Open validates that dir exists and is a directory, returning a [Store]
// rooted there.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: empty data directory")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: stat data directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: data directory path is not a directory: %q", dir)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.Dir, key+".data")
}

// Get returns the decoded bytes stored under key, or ok=false if no blob
// exists for that key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: read %q: %w", key, err)
	}
	data, err := decodeBlob(raw)
	if err != nil {
		return nil, false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return data, true, nil
}

// Put compresses and writes data under key.
func (s *Store) Put(key string, data []byte) error {
	encoded, err := encodeBlob(data)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	if err := os.WriteFile(s.path(key), encoded, 0o600); err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	return nil
}

// encodeBlob frames data with a 4-byte little-endian uncompressed size
// followed by an LZ4 block body, per spec.md §6.
func encodeBlob(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, compressed)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	out := make([]byte, 4+n)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], compressed[:n])
	return out, nil
}

func decodeBlob(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("blob too short for size prefix")
	}
	size := binary.LittleEndian.Uint32(raw[:4])
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(raw[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out[:n], nil
}

// LoadConfig reads config.json, returning a zero-value [Config] if it is
// missing, unreadable, oversized, or malformed; every such case is logged
// as a warning rather than treated as fatal, per spec.md §7's ConfigLoad
// error class.
func (s *Store) LoadConfig(ctx context.Context) Config {
	path := filepath.Join(s.Dir, "config.json")
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			zlog.Warn(ctx).Err(err).Msg("config.json unreadable, using default config")
		}
		return Config{}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("config.json stat failed, using default config")
		return Config{}
	}
	if info.Size() > maxConfigSize {
		zlog.Warn(ctx).Int64("size", info.Size()).Msg("config.json oversized, using default config")
		return Config{}
	}

	raw, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("config.json read failed, using default config")
		return Config{}
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		zlog.Warn(ctx).Err(err).Msg("config.json malformed, using default config")
		return Config{}
	}
	return cfg
}

// SaveConfig writes config.json.
func (s *Store) SaveConfig(cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("storage: marshal config: %w", err)
	}
	if len(raw) > maxConfigSize {
		return fmt.Errorf("storage: config exceeds %d bytes", maxConfigSize)
	}
	return os.WriteFile(filepath.Join(s.Dir, "config.json"), raw, 0o600)
}

// WriteAddrFile writes the "<name>.addr.txt" sideband file recording a
// bound socket address.
func (s *Store) WriteAddrFile(name, addr string) error {
	return os.WriteFile(filepath.Join(s.Dir, name+".addr.txt"), []byte(addr), 0o644)
}
