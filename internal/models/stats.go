package models

// StatRecord holds accumulated traffic for one port, either for a single day
// or for the lifetime of the data file.
type StatRecord struct {
	Upload        uint64  `json:"upload"`
	Download      uint64  `json:"download"`
	OnlineSeconds float64 `json:"online_seconds"`
}

// TrendPoint is one averaged-speed sample representing one calendar minute
type TrendPoint struct {
	Time     string  `json:"time"` // HH:MM
	Up       float64 `json:"up"`   // bytes/sec
	Down     float64 `json:"down"` // bytes/sec
	FullTime string  `json:"full_time"`
}
