package services

import (
	"time"

	"trafficwatch/internal/models"

	"emperror.dev/errors"
	"github.com/jellydator/ttlcache/v3"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessGone is returned when a pid disappeared between sampling and
// inspection. Callers skip the pid for the current tick.
const ErrProcessGone = errors.Sentinel("process no longer exists")

const processNameTTL = 5 * time.Minute

// ProcessInspector reads per-process facts from the OS. Every method may fail
// for a single pid; failures are never fatal to a tick.
type ProcessInspector interface {
	Resolve(pid int32) (models.Identity, error)
	Counters(pid int32) (read, write uint64, err error)
	Name(id models.Identity) (string, error)
}

// OSInspector implements ProcessInspector with gopsutil. Names are cached per
// identity since a process instance never changes its name in practice and
// the lookup costs a /proc read per pid per tick.
type OSInspector struct {
	names *ttlcache.Cache[string, string]
}

// NewOSInspector creates an inspector. Call Close to stop the cache janitor.
func NewOSInspector() *OSInspector {
	names := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](processNameTTL),
	)
	go names.Start()
	return &OSInspector{names: names}
}

func (o *OSInspector) Resolve(pid int32) (models.Identity, error) {
	proc, err := newProcess(pid)
	if err != nil {
		return models.Identity{}, err
	}
	createdMs, err := proc.CreateTime()
	if err != nil {
		return models.Identity{}, errors.Wrapf(err, "read start time of pid %d", pid)
	}
	return models.Identity{PID: pid, StartTime: createdMs / 1000}, nil
}

func (o *OSInspector) Counters(pid int32) (uint64, uint64, error) {
	proc, err := newProcess(pid)
	if err != nil {
		return 0, 0, err
	}
	io, err := proc.IOCounters()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "read io counters of pid %d", pid)
	}
	return io.ReadBytes, io.WriteBytes, nil
}

func (o *OSInspector) Name(id models.Identity) (string, error) {
	key := id.Key()
	if item := o.names.Get(key); item != nil {
		return item.Value(), nil
	}
	proc, err := newProcess(id.PID)
	if err != nil {
		return "", err
	}
	name, err := proc.Name()
	if err != nil {
		return "", errors.Wrapf(err, "read name of pid %d", id.PID)
	}
	o.names.Set(key, name, ttlcache.DefaultTTL)
	return name, nil
}

// Close stops the name cache's expiry loop
func (o *OSInspector) Close() {
	o.names.Stop()
}

func newProcess(pid int32) (*process.Process, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, ErrProcessGone
		}
		return nil, errors.Wrapf(err, "open pid %d", pid)
	}
	return proc, nil
}
