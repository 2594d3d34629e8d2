// Package metadata is the durable key-value store behind the transfer
// mappings, the pending remote deletions and the unresolved uploads. Two
// backends exist: the metadata table of the local SQLite database and a
// badger directory.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Repository is a flat byte-valued key-value store. Get returns (nil, nil)
// for absent keys.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Update stores set and removes del atomically: after a crash either
	// all of it is visible or none. Deleting an absent key is not an error.
	Update(ctx context.Context, set map[string][]byte, del []string) error
}

// GetJSON decodes the value under key into dst. It reports false when the
// key is absent.
func GetJSON(ctx context.Context, r Repository, key string, dst any) (bool, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode metadata[%s]: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key as JSON.
func SetJSON(ctx context.Context, r Repository, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode metadata[%s]: %w", key, err)
	}
	return r.Set(ctx, key, raw)
}

// UpdateJSON encodes every value of set and applies it with Update.
func UpdateJSON(ctx context.Context, r Repository, set map[string]any, del ...string) error {
	raw := make(map[string][]byte, len(set))
	for key, v := range set {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode metadata[%s]: %w", key, err)
		}
		raw[key] = b
	}
	return r.Update(ctx, raw, del)
}

func sortedKeys(m map[string][]byte) []string {
	return slices.Sorted(maps.Keys(m))
}
