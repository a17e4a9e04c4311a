package services

import (
	"context"
	"sync"
	"time"

	"trafficwatch/internal/models"
)

type fakeSampler struct {
	mu      sync.Mutex
	samples map[int]models.PortSample
}

func (f *fakeSampler) set(port int, established int, pids ...int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.samples == nil {
		f.samples = map[int]models.PortSample{}
	}
	f.samples[port] = models.PortSample{PIDs: pids, Established: established}
}

func (f *fakeSampler) Sample(_ context.Context, ports []int) map[int]models.PortSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]models.PortSample{}
	for _, port := range ports {
		out[port] = f.samples[port]
	}
	return out
}

type fakeProcess struct {
	start       int64
	read, write uint64
	name        string
	countersErr error
}

type fakeInspector struct {
	procs map[int32]*fakeProcess
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{procs: map[int32]*fakeProcess{}}
}

func (f *fakeInspector) Resolve(pid int32) (models.Identity, error) {
	p, ok := f.procs[pid]
	if !ok {
		return models.Identity{}, ErrProcessGone
	}
	return models.Identity{PID: pid, StartTime: p.start}, nil
}

func (f *fakeInspector) Counters(pid int32) (uint64, uint64, error) {
	p, ok := f.procs[pid]
	if !ok {
		return 0, 0, ErrProcessGone
	}
	if p.countersErr != nil {
		return 0, 0, p.countersErr
	}
	return p.read, p.write, nil
}

func (f *fakeInspector) Name(id models.Identity) (string, error) {
	p, ok := f.procs[id.PID]
	if !ok || p.name == "" {
		return "", ErrProcessGone
	}
	return p.name, nil
}

type memSnapshotStore struct {
	mu      sync.Mutex
	loaded  *models.Snapshot
	loadErr error
	saved   *models.Snapshot
	saves   int
	saveErr error
}

func (m *memSnapshotStore) Load() (*models.Snapshot, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.loaded == nil {
		return models.NewSnapshot(), nil
	}
	return m.loaded, nil
}

func (m *memSnapshotStore) Save(snap *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = snap
	return nil
}

func (m *memSnapshotStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memPortStore struct {
	saved []int
}

func (m *memPortStore) LoadPorts() ([]int, error) { return m.saved, nil }

func (m *memPortStore) SavePorts(ports []int) error {
	m.saved = append([]int{}, ports...)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
