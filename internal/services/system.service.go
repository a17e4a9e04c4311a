package services

import (
	"time"

	"trafficwatch/internal/models"

	"emperror.dev/errors"
	"github.com/jellydator/ttlcache/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const systemStatusKey = "system"

// SystemMonitor reports host CPU and memory usage. Readings are cached for a
// short TTL so that many dashboard clients polling at once cost one sample.
type SystemMonitor struct {
	cache    *ttlcache.Cache[string, models.SystemStatus]
	cpuFn    func() (float64, error)
	memoryFn func() (float64, error)
}

func NewSystemMonitor(ttl time.Duration) *SystemMonitor {
	return &SystemMonitor{
		cache: ttlcache.New[string, models.SystemStatus](
			ttlcache.WithTTL[string, models.SystemStatus](ttl),
		),
		cpuFn:    cpuPercent,
		memoryFn: memoryPercent,
	}
}

// Status returns the cached reading or takes a fresh one
func (m *SystemMonitor) Status() (models.SystemStatus, error) {
	if item := m.cache.Get(systemStatusKey); item != nil {
		return item.Value(), nil
	}

	cpuPct, err := m.cpuFn()
	if err != nil {
		return models.SystemStatus{}, err
	}
	memPct, err := m.memoryFn()
	if err != nil {
		return models.SystemStatus{}, err
	}

	status := models.SystemStatus{CPUPercent: cpuPct, MemoryPercent: memPct}
	m.cache.Set(systemStatusKey, status, ttlcache.DefaultTTL)
	return status, nil
}

// cpuPercent measures usage since the previous call, like a non-blocking
// top refresh.
func cpuPercent() (float64, error) {
	pct, err := cpu.Percent(0, false)
	if err != nil {
		return 0, errors.Wrap(err, "read cpu usage")
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

func memoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "read memory usage")
	}
	return vm.UsedPercent, nil
}
