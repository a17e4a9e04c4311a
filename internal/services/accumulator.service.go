package services

import (
	"trafficwatch/internal/models"

	log "github.com/sirupsen/logrus"
)

// DeltaAccumulator turns cumulative per-process byte counters into per-tick
// deltas. It is not safe for concurrent use; the engine serializes access.
type DeltaAccumulator struct {
	baselines map[models.Identity]models.Baseline
}

func NewDeltaAccumulator() *DeltaAccumulator {
	return &DeltaAccumulator{baselines: map[models.Identity]models.Baseline{}}
}

// Observe records the current counters for id and returns the growth since the
// previous observation. A newly seen identity contributes zero so that I/O
// done before monitoring started is never counted.
func (a *DeltaAccumulator) Observe(id models.Identity, read, write uint64) (uint64, uint64) {
	prev, known := a.baselines[id]
	a.baselines[id] = models.Baseline{Read: read, Write: write}
	if !known {
		return 0, 0
	}
	return clampedDelta(read, prev.Read), clampedDelta(write, prev.Write)
}

// Sweep drops every baseline whose identity is not in active. A process that
// comes back later is treated as new.
func (a *DeltaAccumulator) Sweep(active map[models.Identity]struct{}) int {
	removed := 0
	for id := range a.baselines {
		if _, ok := active[id]; !ok {
			delete(a.baselines, id)
			removed++
		}
	}
	return removed
}

// Len reports how many identities currently have a baseline
func (a *DeltaAccumulator) Len() int {
	return len(a.baselines)
}

// Export renders the baselines in their persisted form
func (a *DeltaAccumulator) Export() map[string]models.Baseline {
	out := make(map[string]models.Baseline, len(a.baselines))
	for id, b := range a.baselines {
		out[id.Key()] = b
	}
	return out
}

// Restore replaces the baselines with the persisted table. Unparseable keys
// are dropped; the next observation of that process re-creates its baseline.
func (a *DeltaAccumulator) Restore(states map[string]models.Baseline) {
	a.baselines = make(map[models.Identity]models.Baseline, len(states))
	for key, b := range states {
		id, err := models.ParseIdentityKey(key)
		if err != nil {
			log.WithError(err).Warn("dropping persisted process state")
			continue
		}
		a.baselines[id] = b
	}
}

// clampedDelta floors counter regressions (wraparound, racing reads) at zero
func clampedDelta(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}
