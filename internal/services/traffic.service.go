package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trafficwatch/internal/models"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
)

const (
	ErrInvalidPort      = errors.Sentinel("port must be between 1 and 65535")
	ErrPortExists       = errors.Sentinel("port is already monitored")
	ErrPortNotMonitored = errors.Sentinel("port is not monitored")
	ErrLastPort         = errors.Sentinel("cannot remove the last monitored port")
)

// DefaultInterval is the tick period used when none is configured
const DefaultInterval = time.Second

// EngineOptions wires an Engine to its collaborators. Zero values fall back to
// the OS-backed implementations.
type EngineOptions struct {
	Interval  time.Duration
	Ports     []int
	Sampler   Sampler
	Inspector ProcessInspector
	Snapshots SnapshotStore
	PortStore PortStore
	Clock     func() time.Time
}

// Engine owns every piece of accounting state. One goroutine ticks it; any
// number of readers may query it concurrently.
type Engine struct {
	mu sync.RWMutex

	interval time.Duration
	now      func() time.Time

	sampler   Sampler
	inspector ProcessInspector
	snapshots SnapshotStore
	portStore PortStore

	accumulator *DeltaAccumulator
	aggregator  *Aggregator
	ports       map[int]struct{}
	live        map[int]*models.PortLive
	events      *EventLog
}

// NewEngine restores persisted state and returns a ready engine. A corrupt
// snapshot is logged and replaced by an empty one.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sampler == nil {
		opts.Sampler = NewConnectionSampler()
	}
	if opts.Inspector == nil {
		opts.Inspector = NewOSInspector()
	}
	if len(opts.Ports) == 0 {
		return nil, errors.New("at least one port must be monitored")
	}

	e := &Engine{
		interval:    opts.Interval,
		now:         opts.Clock,
		sampler:     opts.Sampler,
		inspector:   opts.Inspector,
		snapshots:   opts.Snapshots,
		portStore:   opts.PortStore,
		accumulator: NewDeltaAccumulator(),
		aggregator:  NewAggregator(opts.Interval),
		ports:       map[int]struct{}{},
		live:        map[int]*models.PortLive{},
		events:      NewEventLog(),
	}
	e.events.now = opts.Clock

	for _, port := range opts.Ports {
		if !ValidPort(port) {
			return nil, errors.WithDetails(ErrInvalidPort, "port", port)
		}
		e.trackPortLocked(port)
	}

	if e.snapshots != nil {
		snap, err := e.snapshots.Load()
		switch {
		case errors.Is(err, ErrCorruptSnapshot):
			log.WithError(err).Error("starting with empty statistics")
		case err != nil:
			return nil, err
		default:
			e.accumulator.Restore(snap.ProcessStates)
			e.aggregator.Restore(snap)
			for port := range e.ports {
				e.aggregator.TrackPort(port)
			}
		}
	}

	e.events.Add(SourceSystem, "monitor started")
	return e, nil
}

func (e *Engine) trackPortLocked(port int) {
	e.ports[port] = struct{}{}
	e.live[port] = &models.PortLive{PIDs: []int32{}, ProcessNames: []string{}}
	e.aggregator.TrackPort(port)
}

func (e *Engine) Interval() time.Duration {
	return e.interval
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	log.WithField("interval", e.interval).Info("traffic engine started")
	for {
		e.Tick(ctx)
		select {
		case <-ctx.Done():
			log.Info("traffic engine stopped")
			return
		case <-ticker.C:
		}
	}
}

// observation is what the OS told us about one pid this tick
type observation struct {
	id          models.Identity
	read, write uint64
	hasCounters bool
	name        string
}

// Tick runs one sample, resolve, accumulate, aggregate and persist cycle.
// OS access happens before the lock is taken.
func (e *Engine) Tick(ctx context.Context) {
	samples := e.sampler.Sample(ctx, e.Ports())
	observed := e.inspect(samples)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	// A process serving several ports is observed once and credited to each.
	deltas := make(map[models.Identity][2]uint64, len(observed))
	active := make(map[models.Identity]struct{}, len(observed))
	for _, obs := range observed {
		active[obs.id] = struct{}{}
		if !obs.hasCounters {
			continue
		}
		if _, done := deltas[obs.id]; done {
			continue
		}
		dRead, dWrite := e.accumulator.Observe(obs.id, obs.read, obs.write)
		deltas[obs.id] = [2]uint64{dRead, dWrite}
	}

	for port := range e.ports {
		sample := samples[port]
		live := e.live[port]
		wasIdle := len(live.PIDs) == 0

		var up, down uint64
		names := []string{}
		seenNames := map[string]struct{}{}
		seenIDs := map[models.Identity]struct{}{}
		for _, pid := range sample.PIDs {
			obs, ok := observed[pid]
			if !ok {
				continue
			}
			if obs.name != "" {
				if _, dup := seenNames[obs.name]; !dup {
					seenNames[obs.name] = struct{}{}
					names = append(names, obs.name)
				}
			}
			if _, dup := seenIDs[obs.id]; dup {
				continue
			}
			seenIDs[obs.id] = struct{}{}
			d := deltas[obs.id]
			down += d[0]
			up += d[1]
		}

		speedUp, speedDown := e.aggregator.Apply(now, port, up, down)

		pids := sample.PIDs
		if pids == nil {
			pids = []int32{}
		}
		e.live[port] = &models.PortLive{
			SpeedUp:      speedUp,
			SpeedDown:    speedDown,
			PIDs:         pids,
			ProcessNames: names,
			Connections:  sample.Established,
		}

		switch {
		case wasIdle && len(pids) > 0:
			e.events.Add(portSource(port), "process detected")
		case !wasIdle && len(pids) == 0:
			e.events.Add(portSource(port), "process stopped")
		}
	}

	if removed := e.accumulator.Sweep(active); removed > 0 {
		log.WithField("count", removed).Debug("evicted baselines of vanished processes")
	}

	e.persistLocked()
}

// inspect resolves every sampled pid once. Pids that vanish or cannot be
// inspected are left out and retried naturally on the next tick.
func (e *Engine) inspect(samples map[int]models.PortSample) map[int32]observation {
	observed := map[int32]observation{}
	for _, sample := range samples {
		for _, pid := range sample.PIDs {
			if _, done := observed[pid]; done {
				continue
			}
			id, err := e.inspector.Resolve(pid)
			if err != nil {
				logSkippedPid(pid, "resolve", err)
				continue
			}
			obs := observation{id: id}
			if read, write, err := e.inspector.Counters(pid); err != nil {
				logSkippedPid(pid, "counters", err)
			} else {
				obs.read, obs.write, obs.hasCounters = read, write, true
			}
			if name, err := e.inspector.Name(id); err == nil {
				obs.name = name
			}
			observed[pid] = obs
		}
	}
	return observed
}

func logSkippedPid(pid int32, stage string, err error) {
	entry := log.WithFields(log.Fields{"pid": pid, "stage": stage})
	if errors.Is(err, ErrProcessGone) {
		entry.Trace("process vanished before inspection")
		return
	}
	entry.WithError(err).Debug("skipping process for this tick")
}

// persistLocked writes the snapshot. Failures are logged; in-memory state
// stays authoritative until the next successful write.
func (e *Engine) persistLocked() {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.Save(e.snapshotLocked()); err != nil {
		log.WithError(err).Warn("failed to persist traffic snapshot")
	}
}

func (e *Engine) snapshotLocked() *models.Snapshot {
	snap := models.NewSnapshot()
	e.aggregator.Export(snap)
	snap.ProcessStates = e.accumulator.Export()
	return snap
}

// Snapshot returns a copy of the persistent state
func (e *Engine) Snapshot() *models.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) savePortsLocked() {
	if e.portStore == nil {
		return
	}
	if err := e.portStore.SavePorts(e.portListLocked()); err != nil {
		log.WithError(err).Warn("failed to persist port config")
	}
}

// AddPort starts monitoring port
func (e *Engine) AddPort(port int) error {
	if !ValidPort(port) {
		return ErrInvalidPort
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.ports[port]; ok {
		return ErrPortExists
	}
	e.trackPortLocked(port)
	e.savePortsLocked()
	e.events.Add(SourceSystem, fmt.Sprintf("port %d added", port))
	return nil
}

// RemovePort stops monitoring port and drops its live state. Its daily and
// all-time statistics are kept.
func (e *Engine) RemovePort(port int) error {
	if !ValidPort(port) {
		return ErrInvalidPort
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.ports[port]; !ok {
		return ErrPortNotMonitored
	}
	if len(e.ports) == 1 {
		return ErrLastPort
	}
	delete(e.ports, port)
	delete(e.live, port)
	e.aggregator.ForgetPort(port)
	e.savePortsLocked()
	e.events.Add(SourceSystem, fmt.Sprintf("port %d removed", port))
	return nil
}

// ReplacePorts makes the monitored set equal to ports, e.g. after the config
// file was edited by hand. Invalid entries are ignored and an empty result
// leaves the set unchanged.
func (e *Engine) ReplacePorts(ports []int) {
	want := map[int]struct{}{}
	for _, port := range ports {
		if ValidPort(port) {
			want[port] = struct{}{}
		}
	}
	if len(want) == 0 {
		log.Warn("ignoring empty port set")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for port := range want {
		if _, ok := e.ports[port]; !ok {
			e.trackPortLocked(port)
			e.events.Add(SourceSystem, fmt.Sprintf("port %d added", port))
		}
	}
	for port := range e.ports {
		if _, ok := want[port]; !ok {
			delete(e.ports, port)
			delete(e.live, port)
			e.aggregator.ForgetPort(port)
			e.events.Add(SourceSystem, fmt.Sprintf("port %d removed", port))
		}
	}
}

// ResetPort zeroes today's and the all-time statistics of port and clears
// its trend series.
func (e *Engine) ResetPort(port int) error {
	if !ValidPort(port) {
		return ErrInvalidPort
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.aggregator.Reset(e.now(), port)
	e.persistLocked()
	e.events.Add(portSource(port), "data reset")
	return nil
}

// Ports returns the monitored ports in ascending order
func (e *Engine) Ports() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portListLocked()
}

func (e *Engine) portListLocked() []int {
	ports := make([]int, 0, len(e.ports))
	for port := range e.ports {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

func (e *Engine) IsMonitored(port int) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.ports[port]
	return ok
}

// PortStats combines live, today's and all-time figures for port. Ports that
// are not monitored report zero live state but keep their history.
func (e *Engine) PortStats(port int) models.PortStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portStatsLocked(port)
}

func (e *Engine) portStatsLocked(port int) models.PortStats {
	today := e.aggregator.Today(e.now(), port)
	total := e.aggregator.Total(port)

	stats := models.PortStats{
		Port:               port,
		ActivePIDs:         []int32{},
		ProcessNames:       []string{},
		TotalUpload:        total.Upload,
		TotalDownload:      total.Download,
		TotalOnlineSeconds: total.OnlineSeconds,
		TodayUpload:        today.Upload,
		TodayDownload:      today.Download,
		TodayOnlineSeconds: today.OnlineSeconds,
	}
	if live, ok := e.live[port]; ok {
		stats.ActivePIDs = append(stats.ActivePIDs, live.PIDs...)
		stats.ProcessNames = append(stats.ProcessNames, live.ProcessNames...)
		stats.Connections = live.Connections
		stats.CurrentSpeedUp = live.SpeedUp
		stats.CurrentSpeedDown = live.SpeedDown
	}
	return stats
}

// AllPortStats returns PortStats for every monitored port, ordered by port
func (e *Engine) AllPortStats() []models.PortStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ports := e.portListLocked()
	out := make([]models.PortStats, 0, len(ports))
	for _, port := range ports {
		out = append(out, e.portStatsLocked(port))
	}
	return out
}

func (e *Engine) Series(port int) []models.TrendPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.aggregator.Series(port)
}

func (e *Engine) History(port int) map[string]models.StatRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.aggregator.History(port)
}

func (e *Engine) DailyRecords(port int) []models.DailyRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.aggregator.DailyRecords(port)
}

func (e *Engine) Events() []models.Event {
	return e.events.List()
}

// Close releases resources held by the engine's collaborators
func (e *Engine) Close() {
	if c, ok := e.inspector.(interface{ Close() }); ok {
		c.Close()
	}
}
