package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/lifecycle"
	"github.com/steemit/pinmind/internal/manager"
)

// Snapshot is the cached output of the last sweep
type Snapshot struct {
	Fingerprint string             `json:"fingerprint"`
	SweptAt     time.Time          `json:"swept_at"`
	RunID       string             `json:"run_id,omitempty"`
	Pins        []lifecycle.Record `json:"pins"`
}

// ConfigFingerprint identifies a threshold bundle. Derived fields cached
// under one fingerprint are stale under any other.
func ConfigFingerprint(cfg lifecycle.Config) string {
	return HashKey(fmt.Sprintf("%+v", cfg))
}

func snapshotKey(fingerprint string) string {
	return "snapshot:" + fingerprint
}

// SaveSnapshot stores the swept pins under the config fingerprint
func (c *Cache) SaveSnapshot(ctx context.Context, snap Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.Set(ctx, snapshotKey(snap.Fingerprint), data, ttl); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Debug("Snapshot cached",
			zap.String("fingerprint", snap.Fingerprint),
			zap.Int("pins", len(snap.Pins)))
	}
	return nil
}

// LoadSnapshot returns the snapshot cached for fingerprint, or ErrCacheMiss
func (c *Cache) LoadSnapshot(ctx context.Context, fingerprint string) (*Snapshot, error) {
	raw, err := c.Get(ctx, snapshotKey(fingerprint))
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Fingerprint != fingerprint {
		return nil, ErrCacheMiss
	}
	return &snap, nil
}

// DropSnapshot removes the snapshot cached for fingerprint
func (c *Cache) DropSnapshot(ctx context.Context, fingerprint string) error {
	return c.Delete(ctx, snapshotKey(fingerprint))
}

// SweepHook caches the swept pins of every run. It is a no-op on a disabled
// cache.
func (c *Cache) SweepHook(fingerprint string, ttl time.Duration) manager.SweepHook {
	return func(ctx context.Context, pins []lifecycle.Pin, report manager.Report) error {
		if c == nil {
			return nil
		}
		return c.SaveSnapshot(ctx, Snapshot{
			Fingerprint: fingerprint,
			SweptAt:     report.ReferenceTime,
			RunID:       report.RunID,
			Pins:        lifecycle.Records(pins),
		}, ttl)
	}
}

// MutationHook drops the cached snapshot once pins change between sweeps, so
// a restart hydrates from the database that holds the write-through. It is a
// no-op on a disabled cache.
func (c *Cache) MutationHook(fingerprint string) manager.MutationHook {
	return func(ctx context.Context, changed []lifecycle.Pin) error {
		if c == nil {
			return nil
		}
		return c.DropSnapshot(ctx, fingerprint)
	}
}
