// Package registry reads the cluster configuration registry.
//
// Keys are absolute slash-separated paths. A key may carry a field selector
// after a pipe, e.g. "/ovs/alba/osds/<id>/config|port", which addresses a
// value inside the JSON document stored at the path.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrKeyNotFound is returned when a path or field is absent.
	ErrKeyNotFound = errors.New("registry key not found")
	// ErrLockHeld is returned when a lock could not be acquired in time.
	ErrLockHeld = errors.New("registry lock held elsewhere")
)

// Registry is the read interface over the configuration registry plus the
// distributed mutex the cluster guard uses.
type Registry interface {
	// Get returns the raw value stored at key. Field selectors are not
	// interpreted; use Lookup for those.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the names of the direct children of prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether key holds a value.
	Exists(ctx context.Context, key string) (bool, error)
	// Lock takes the mutex at key, waiting at most wait. On contention it
	// returns ErrLockHeld. The returned function releases the mutex.
	Lock(ctx context.Context, key string, wait time.Duration) (func() error, error)
}

// SplitField splits "path|a.b" into the path and the field selector.
func SplitField(key string) (path, field string) {
	path, field, _ = strings.Cut(key, "|")
	return path, field
}

// Lookup resolves key, descending into the JSON document when the key
// carries a field selector. Dots in the selector address nested objects.
func Lookup(ctx context.Context, r Registry, key string) (any, error) {
	path, field := SplitField(key)
	raw, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		if field == "" {
			return string(raw), nil
		}
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if field == "" {
		return doc, nil
	}
	cur := doc
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		cur, ok = m[part]
		if !ok {
			// Some documents store dotted names as flat keys.
			if v, flat := m[field]; flat {
				return v, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
	}
	return cur, nil
}

// GetJSON resolves key and decodes it into dst.
func GetJSON(ctx context.Context, r Registry, key string, dst any) error {
	v, err := Lookup(ctx, r, key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-encoding %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// GetInt resolves key as an integer.
func GetInt(ctx context.Context, r Registry, key string) (int, error) {
	var n int
	if err := GetJSON(ctx, r, key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetString resolves key as a string. Non-JSON values are returned verbatim.
func GetString(ctx context.Context, r Registry, key string) (string, error) {
	v, err := Lookup(ctx, r, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v), nil
	}
	return s, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
