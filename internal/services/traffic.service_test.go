package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"trafficwatch/internal/models"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine    *Engine
	sampler   *fakeSampler
	inspector *fakeInspector
	snapshots *memSnapshotStore
	ports     *memPortStore
	clock     *fakeClock
}

func newEngineFixture(t *testing.T, ports ...int) *engineFixture {
	t.Helper()
	f := &engineFixture{
		sampler:   &fakeSampler{},
		inspector: newFakeInspector(),
		snapshots: &memSnapshotStore{},
		ports:     &memPortStore{},
		clock:     &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	engine, err := NewEngine(EngineOptions{
		Interval:  time.Second,
		Ports:     ports,
		Sampler:   f.sampler,
		Inspector: f.inspector,
		Snapshots: f.snapshots,
		PortStore: f.ports,
		Clock:     f.clock.Now,
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *engineFixture) tick() {
	f.engine.Tick(context.Background())
	f.clock.Advance(time.Second)
}

func TestEngine_ExampleFromThousandToFifteenHundred(t *testing.T) {
	f := newEngineFixture(t, 7788)
	f.inspector.procs[10] = &fakeProcess{start: 1, write: 1000, name: "server"}
	f.sampler.set(7788, 1, 10)

	f.tick()
	stats := f.engine.PortStats(7788)
	assert.Zero(t, stats.CurrentSpeedUp)
	assert.Zero(t, stats.TodayUpload)

	f.inspector.procs[10].write = 1500
	f.tick()

	stats = f.engine.PortStats(7788)
	assert.Equal(t, 500.0, stats.CurrentSpeedUp)
	assert.Equal(t, uint64(500), stats.TodayUpload)
	assert.Equal(t, uint64(500), stats.TotalUpload)
	assert.Equal(t, 1.0, stats.TodayOnlineSeconds)
	assert.Equal(t, 1.0, stats.TotalOnlineSeconds)
	assert.Equal(t, []int32{10}, stats.ActivePIDs)
	assert.Equal(t, []string{"server"}, stats.ProcessNames)
	assert.Equal(t, 1, stats.Connections)
}

func TestEngine_NewProcessContributesNothing(t *testing.T) {
	f := newEngineFixture(t, 7788)
	f.inspector.procs[10] = &fakeProcess{start: 1, read: 5 << 30, write: 5 << 30}
	f.sampler.set(7788, 1, 10)

	f.tick()

	stats := f.engine.PortStats(7788)
	assert.Zero(t, stats.TotalDownload)
	assert.Zero(t, stats.TotalUpload)
	assert.Zero(t, stats.TotalOnlineSeconds)
}

func TestEngine_PidReuse(t *testing.T) {
	f := newEngineFixture(t, 7788)
	f.sampler.set(7788, 1, 100)

	f.inspector.procs[100] = &fakeProcess{start: 1000, write: 0}
	f.tick()
	f.inspector.procs[100].write = 300
	f.tick()
	require.Equal(t, uint64(300), f.engine.PortStats(7788).TotalUpload)

	// A exits and B gets the same pid between two ticks
	f.inspector.procs[100] = &fakeProcess{start: 2000, write: 1 << 20}
	f.tick()
	assert.Equal(t, uint64(300), f.engine.PortStats(7788).TotalUpload)
	assert.Zero(t, f.engine.PortStats(7788).CurrentSpeedUp)

	f.inspector.procs[100].write = 1<<20 + 10
	f.tick()
	assert.Equal(t, uint64(310), f.engine.PortStats(7788).TotalUpload)
}

func TestEngine_IdleProcessIsNotOnline(t *testing.T) {
	f := newEngineFixture(t, 7788)
	f.inspector.procs[10] = &fakeProcess{start: 1, read: 10, write: 10}
	f.sampler.set(7788, 3, 10)

	for i := 0; i < 5; i++ {
		f.tick()
	}
	stats := f.engine.PortStats(7788)
	assert.Zero(t, stats.TodayOnlineSeconds)
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, []int32{10}, stats.ActivePIDs)
	assert.Zero(t, stats.CurrentSpeedDown)
}

func TestEngine_CounterRegressionNeverReducesTotals(t *testing.T) {
	f := newEngineFixture(t, 7788)
	f.inspector.procs[10] = &fakeProcess{start: 1, read: 1000, write: 1000}
	f.sampler.set(7788, 1, 10)
	f.tick()

	f.inspector.procs[10].read = 2000
	f.tick()
	f.inspector.procs[10].read = 10
	f.tick()

	stats := f.engine.PortStats(7788)
	assert.Equal(t, uint64(1000), stats.TotalDownload)
	assert.Zero(t, stats.CurrentSpeedDown)
}

func TestEngine_ProcessOnSeveralPortsCountsOncePerPort(t *testing.T) {
	f := newEngineFixture(t, 80, 443)
	f.inspector.procs[10] = &fakeProcess{start: 1, write: 0}
	f.sampler.set(80, 1, 10)
	f.sampler.set(443, 1, 10)
	f.tick()

	f.inspector.procs[10].write = 100
	f.tick()

	assert.Equal(t, uint64(100), f.engine.PortStats(80).TotalUpload)
	assert.Equal(t, uint64(100), f.engine.PortStats(443).TotalUpload)
}

func TestEngine_SumsProcessesOfAPort(t *testing.T) {
	f := newEngineFixture(t, 80)
	f.inspector.procs[10] = &fakeProcess{start: 1, name: "nginx"}
	f.inspector.procs[11] = &fakeProcess{start: 1, name: "nginx"}
	f.sampler.set(80, 2, 10, 11)
	f.tick()

	f.inspector.procs[10].read = 100
	f.inspector.procs[11].read = 50
	f.tick()

	stats := f.engine.PortStats(80)
	assert.Equal(t, 150.0, stats.CurrentSpeedDown)
	assert.Equal(t, []string{"nginx"}, stats.ProcessNames)
}

func TestEngine_VanishedPidIsSkipped(t *testing.T) {
	f := newEngineFixture(t, 80)
	f.inspector.procs[10] = &fakeProcess{start: 1}
	f.sampler.set(80, 1, 10, 99) // 99 exits before it can be inspected
	f.tick()

	f.inspector.procs[10].write = 40
	f.tick()
	assert.Equal(t, uint64(40), f.engine.PortStats(80).TotalUpload)
}

func TestEngine_CounterFailureKeepsBaseline(t *testing.T) {
	f := newEngineFixture(t, 80)
	f.inspector.procs[10] = &fakeProcess{start: 1, write: 100}
	f.sampler.set(80, 1, 10)
	f.tick()

	f.inspector.procs[10].countersErr = errors.New("permission denied")
	f.tick()
	assert.Contains(t, f.engine.Snapshot().ProcessStates, "10_1")

	f.inspector.procs[10].countersErr = nil
	f.inspector.procs[10].write = 170
	f.tick()
	assert.Equal(t, uint64(70), f.engine.PortStats(80).TotalUpload)
}

func TestEngine_EvictsBaselinesImmediately(t *testing.T) {
	f := newEngineFixture(t, 80)
	f.inspector.procs[10] = &fakeProcess{start: 1}
	f.sampler.set(80, 1, 10)
	f.tick()
	require.Contains(t, f.engine.Snapshot().ProcessStates, "10_1")

	f.sampler.set(80, 0)
	f.tick()
	assert.Empty(t, f.engine.Snapshot().ProcessStates)
}

func TestEngine_TransitionEvents(t *testing.T) {
	f := newEngineFixture(t, 80)
	f.inspector.procs[10] = &fakeProcess{start: 1}

	f.sampler.set(80, 1, 10)
	f.tick()
	f.tick()
	f.sampler.set(80, 0)
	f.tick()

	events := f.engine.Events()
	require.Len(t, events, 3)
	assert.Equal(t, models.Event{Time: "12:00:02", Source: "port 80", Message: "process stopped"}, events[0])
	assert.Equal(t, "process detected", events[1].Message)
	assert.Equal(t, "monitor started", events[2].Message)
}

func TestEngine_RemovePort(t *testing.T) {
	f := newEngineFixture(t, 80)

	err := f.engine.RemovePort(80)
	assert.True(t, errors.Is(err, ErrLastPort))
	assert.Equal(t, []int{80}, f.engine.Ports())

	require.NoError(t, f.engine.AddPort(443))
	f.inspector.procs[10] = &fakeProcess{start: 1}
	f.sampler.set(443, 2, 10)
	f.tick()
	require.Equal(t, 2, f.engine.PortStats(443).Connections)

	require.NoError(t, f.engine.RemovePort(443))
	assert.Equal(t, []int{80}, f.engine.Ports())
	assert.Equal(t, []int{80}, f.ports.saved)
	assert.Zero(t, f.engine.PortStats(443).Connections)
	assert.Empty(t, f.engine.PortStats(443).ActivePIDs)

	assert.True(t, errors.Is(f.engine.RemovePort(443), ErrPortNotMonitored))
}

func TestEngine_AddPortValidation(t *testing.T) {
	f := newEngineFixture(t, 80)

	assert.True(t, errors.Is(f.engine.AddPort(0), ErrInvalidPort))
	assert.True(t, errors.Is(f.engine.AddPort(65536), ErrInvalidPort))
	assert.True(t, errors.Is(f.engine.AddPort(80), ErrPortExists))

	require.NoError(t, f.engine.AddPort(65535))
	assert.Equal(t, []int{80, 65535}, f.engine.Ports())
	assert.Equal(t, []int{80, 65535}, f.ports.saved)
	assert.NotNil(t, f.engine.Series(65535))
}

func TestEngine_ResetPort(t *testing.T) {
	f := newEngineFixture(t, 80)
	f.inspector.procs[10] = &fakeProcess{start: 1}
	f.sampler.set(80, 1, 10)
	f.tick()
	f.inspector.procs[10].write = 100
	f.tick()
	require.Equal(t, uint64(100), f.engine.PortStats(80).TotalUpload)

	require.NoError(t, f.engine.ResetPort(80))
	stats := f.engine.PortStats(80)
	assert.Zero(t, stats.TotalUpload)
	assert.Zero(t, stats.TodayUpload)
	assert.Empty(t, f.engine.Series(80))
	assert.Equal(t, "data reset", f.engine.Events()[0].Message)
	assert.Zero(t, f.snapshots.saved.TotalStats["80"].Upload)

	assert.True(t, errors.Is(f.engine.ResetPort(-1), ErrInvalidPort))
}

func TestEngine_PersistsEveryTickAndSurvivesSaveErrors(t *testing.T) {
	f := newEngineFixture(t, 80)
	f.snapshots.saveErr = errors.New("disk full")
	f.tick()
	f.tick()
	assert.Equal(t, 2, f.snapshots.saveCount())

	f.snapshots.saveErr = nil
	f.tick()
	require.NotNil(t, f.snapshots.saved)
	assert.Equal(t, models.SnapshotVersion, f.snapshots.saved.Version)
	assert.Contains(t, f.snapshots.saved.DailyStats, "2024-05-01")
}

func TestEngine_RestoresFromSnapshot(t *testing.T) {
	snap := models.NewSnapshot()
	snap.TotalStats["80"] = models.StatRecord{Upload: 1000}
	snap.DailyStats["2024-05-01"] = map[string]models.StatRecord{"80": {Upload: 400}}
	snap.ProcessStates["10_1"] = models.Baseline{Write: 5000}

	sampler := &fakeSampler{}
	sampler.set(80, 1, 10)
	inspector := newFakeInspector()
	inspector.procs[10] = &fakeProcess{start: 1, write: 5600}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)}

	engine, err := NewEngine(EngineOptions{
		Ports:     []int{80},
		Sampler:   sampler,
		Inspector: inspector,
		Snapshots: &memSnapshotStore{loaded: snap},
		Clock:     clock.Now,
	})
	require.NoError(t, err)

	// traffic between the last save and the restart is caught up
	engine.Tick(context.Background())
	stats := engine.PortStats(80)
	assert.Equal(t, uint64(1600), stats.TotalUpload)
	assert.Equal(t, uint64(1000), stats.TodayUpload)
}

func TestEngine_CorruptSnapshotStartsEmpty(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Ports:     []int{80},
		Sampler:   &fakeSampler{},
		Inspector: newFakeInspector(),
		Snapshots: &memSnapshotStore{loadErr: errors.Combine(ErrCorruptSnapshot, errors.New("bad json"))},
	})
	require.NoError(t, err)
	assert.Zero(t, engine.PortStats(80).TotalUpload)

	_, err = NewEngine(EngineOptions{
		Ports:     []int{80},
		Sampler:   &fakeSampler{},
		Inspector: newFakeInspector(),
		Snapshots: &memSnapshotStore{loadErr: errors.New("permission denied")},
	})
	assert.Error(t, err)
}

func TestEngine_ReplacePorts(t *testing.T) {
	f := newEngineFixture(t, 80, 443)

	f.engine.ReplacePorts([]int{443, 8080, 0})
	assert.Equal(t, []int{443, 8080}, f.engine.Ports())

	f.engine.ReplacePorts(nil)
	assert.Equal(t, []int{443, 8080}, f.engine.Ports())
}

func TestEngine_AllPortStatsOrdered(t *testing.T) {
	f := newEngineFixture(t, 9000, 22, 443)
	stats := f.engine.AllPortStats()
	require.Len(t, stats, 3)
	assert.Equal(t, 22, stats[0].Port)
	assert.Equal(t, 443, stats[1].Port)
	assert.Equal(t, 9000, stats[2].Port)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	f := newEngineFixture(t, 80)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.snapshots.saveCount() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_ConcurrentReadersAndMutations(t *testing.T) {
	const ticks = 200
	f := newEngineFixture(t, 80)
	f.inspector.procs[10] = &fakeProcess{start: 1}
	f.sampler.set(80, 1, 10)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, stats := range f.engine.AllPortStats() {
					if stats.Port != 80 {
						continue
					}
					assert.Equal(t, stats.TotalUpload, stats.TodayUpload)
					assert.Zero(t, stats.TodayUpload%100)
					assert.GreaterOrEqual(t, stats.TodayUpload, last)
					last = stats.TodayUpload
				}
				_ = f.engine.Series(80)
				_ = f.engine.Events()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = f.engine.AddPort(9000)
			_ = f.engine.ResetPort(9000)
			_ = f.engine.RemovePort(9000)
		}
	}()

	// only this goroutine touches the fake process
	for i := 0; i < ticks; i++ {
		f.engine.Tick(context.Background())
		f.inspector.procs[10].write += 100
	}
	close(stop)
	wg.Wait()

	stats := f.engine.PortStats(80)
	assert.Equal(t, uint64(100*(ticks-1)), stats.TodayUpload)
	assert.Equal(t, stats.TodayUpload, stats.TotalUpload)
}
