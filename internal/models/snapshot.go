package models

// SnapshotVersion is the layout written by this version of the service.
// Version 0 covers every layout written before the field existed.
const SnapshotVersion = 2

// Snapshot is the persisted engine state. Ports are keyed by their decimal
// string so the document stays readable and compatible with older files.
type Snapshot struct {
	Version       int                              `json:"version"`
	DailyStats    map[string]map[string]StatRecord `json:"daily_stats"`
	TotalStats    map[string]StatRecord            `json:"total_stats"`
	ProcessStates map[string]Baseline              `json:"process_states"`
	TrafficSeries map[string][]TrendPoint          `json:"traffic_series"`
}

// NewSnapshot returns an empty document at the current version
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:       SnapshotVersion,
		DailyStats:    map[string]map[string]StatRecord{},
		TotalStats:    map[string]StatRecord{},
		ProcessStates: map[string]Baseline{},
		TrafficSeries: map[string][]TrendPoint{},
	}
}
