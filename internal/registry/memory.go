package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Registry. It backs tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	data  map[string][]byte
	locks map[string]bool
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), locks: make(map[string]bool)}
}

// Put stores a raw value.
func (m *Memory) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[normalize(key)] = value
}

// PutJSON stores v encoded as JSON.
func (m *Memory) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	m.Put(key, data)
	return nil
}

func normalize(key string) string {
	return "/" + strings.Trim(key, "/")
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[normalize(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := normalize(prefix) + "/"
	seen := make(map[string]bool)
	var out []string
	for k := range m.data {
		rest, ok := strings.CutPrefix(k, p)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[normalize(key)]
	return ok, nil
}

// Lock polls until the key is free, wait elapses or ctx ends.
func (m *Memory) Lock(ctx context.Context, key string, wait time.Duration) (func() error, error) {
	k := normalize(key)
	deadline := time.Now().Add(wait)
	for {
		m.mu.Lock()
		if !m.locks[k] {
			m.locks[k] = true
			m.mu.Unlock()
			var once sync.Once
			return func() error {
				once.Do(func() {
					m.mu.Lock()
					delete(m.locks, k)
					m.mu.Unlock()
				})
				return nil
			}, nil
		}
		m.mu.Unlock()

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
