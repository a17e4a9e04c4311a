package models

// SystemStatus is the host-wide resource usage shown next to port stats
type SystemStatus struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}
