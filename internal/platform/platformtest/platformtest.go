// Package platformtest provides an in-memory platform data model for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/darshan-rambhia/healthcheck/internal/platform"
)

// Model is a static platform.Model. Zero fields return empty results.
type Model struct {
	mu sync.Mutex

	Routers  []platform.StorageRouter
	DomainsV []platform.Domain
	Pools    []platform.VPool
	Disks    map[string][]platform.VDisk   // by vpool GUID
	Svcs     map[string][]platform.Service // by storage router GUID
	Backends []platform.AlbaBackend
	// Available is keyed by "<backend guid>/<preset>".
	Available map[string]bool
	// Loads is keyed by "<backend guid>/<nsm cluster>".
	Loads map[string]float64
	// Err, when set, is returned from every call.
	Err error

	Calls map[string]int
}

func (m *Model) hit(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls == nil {
		m.Calls = make(map[string]int)
	}
	m.Calls[name]++
	return m.Err
}

func (m *Model) StorageRouters(context.Context) ([]platform.StorageRouter, error) {
	return m.Routers, m.hit("StorageRouters")
}

func (m *Model) Domains(context.Context) ([]platform.Domain, error) {
	return m.DomainsV, m.hit("Domains")
}

func (m *Model) VPools(context.Context) ([]platform.VPool, error) {
	return m.Pools, m.hit("VPools")
}

func (m *Model) VDisks(_ context.Context, vpoolGUID string) ([]platform.VDisk, error) {
	return m.Disks[vpoolGUID], m.hit("VDisks")
}

func (m *Model) Services(_ context.Context, srGUID string) ([]platform.Service, error) {
	return m.Svcs[srGUID], m.hit("Services")
}

func (m *Model) AlbaBackends(context.Context) ([]platform.AlbaBackend, error) {
	return m.Backends, m.hit("AlbaBackends")
}

func (m *Model) PresetAvailable(_ context.Context, backendGUID, preset string) (bool, error) {
	if err := m.hit("PresetAvailable"); err != nil {
		return false, err
	}
	v, ok := m.Available[backendGUID+"/"+preset]
	if !ok {
		return false, fmt.Errorf("%w: preset %s", platform.ErrNotFound, preset)
	}
	return v, nil
}

func (m *Model) NSMLoad(_ context.Context, backendGUID, cluster string) (float64, error) {
	if err := m.hit("NSMLoad"); err != nil {
		return 0, err
	}
	v, ok := m.Loads[backendGUID+"/"+cluster]
	if !ok {
		return 0, fmt.Errorf("%w: nsm cluster %s", platform.ErrNotFound, cluster)
	}
	return v, nil
}

var _ platform.Model = (*Model)(nil)
