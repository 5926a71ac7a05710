package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	cerrors "github.com/geomcache/geomcache/pkg/errors"
)

// sidecar is the JSON record stored next to every cached item as
// "<name>.meta".
type sidecar struct {
	LastAccess int64          `json:"lastAccess"` // unix millis
	Key        string         `json:"key"`
	Extra      map[string]any `json:"extra"`
}

func newSidecar(key string, lastAccess time.Time, extra map[string]any) sidecar {
	return sidecar{
		LastAccess: lastAccess.UnixMilli(),
		Key:        key,
		Extra:      extra,
	}
}

func (s sidecar) lastAccess() time.Time {
	return time.UnixMilli(s.LastAccess)
}

// writeSidecar writes s to path through a temporary file and a rename so a
// crash never leaves a truncated record behind.
func writeSidecar(path string, s sidecar) error {
	if s.Extra == nil {
		s.Extra = map[string]any{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace sidecar: %w", err)
	}
	return nil
}

func readSidecar(path string) (sidecar, error) {
	var s sidecar

	data, err := os.ReadFile(path)
	if err != nil {
		return s, cerrors.Wrap(err, cerrors.ErrCodeStorageRead, "failed to read sidecar").
			WithContext("path", path)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, cerrors.Wrap(err, cerrors.ErrCodeCorruptMetadata, "failed to parse sidecar").
			WithContext("path", path)
	}
	if s.Key == "" {
		return s, cerrors.NewError(cerrors.ErrCodeCorruptMetadata, "sidecar has no key").
			WithContext("path", path)
	}
	return s, nil
}
