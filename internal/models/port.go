package models

// PortSample is what one connection enumeration found for a monitored port
type PortSample struct {
	PIDs        []int32
	Established int
}

// PortLive is the per-tick view of a port. It is recomputed every tick and
// never persisted.
type PortLive struct {
	SpeedUp      float64  `json:"up"`
	SpeedDown    float64  `json:"down"`
	PIDs         []int32  `json:"pids"`
	ProcessNames []string `json:"process_names"`
	Connections  int      `json:"connections"`
}

// PortStats combines live state with today's and all-time totals
type PortStats struct {
	Port               int      `json:"port"`
	ActivePIDs         []int32  `json:"active_pids"`
	ProcessNames       []string `json:"process_names"`
	Connections        int      `json:"connections"`
	CurrentSpeedUp     float64  `json:"current_speed_up"`
	CurrentSpeedDown   float64  `json:"current_speed_down"`
	TotalUpload        uint64   `json:"total_upload"`
	TotalDownload      uint64   `json:"total_download"`
	TotalOnlineSeconds float64  `json:"total_online_seconds"`
	TodayUpload        uint64   `json:"today_upload"`
	TodayDownload      uint64   `json:"today_download"`
	TodayOnlineSeconds float64  `json:"today_online_seconds"`
}

// DailyRecord is a StatRecord tagged with its date, used for exports
type DailyRecord struct {
	Date string `json:"date"`
	StatRecord
}
