package models

// Event is one entry of the operator-facing event log
type Event struct {
	Time    string `json:"time"`
	Source  string `json:"source"`
	Message string `json:"message"`
}
