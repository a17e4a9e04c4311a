package services

import (
	"strconv"
	"sync"
	"time"

	"trafficwatch/internal/models"

	log "github.com/sirupsen/logrus"
)

const (
	// MaxEvents bounds the in-memory event log
	MaxEvents = 50

	eventTimeLayout = "15:04:05"

	SourceSystem = "system"
)

// EventLog keeps the most recent operator-facing events, newest first
type EventLog struct {
	mu     sync.RWMutex
	events []models.Event
	max    int
	now    func() time.Time
}

func NewEventLog() *EventLog {
	return &EventLog{max: MaxEvents, now: time.Now}
}

// Add records an event and mirrors it to the service log
func (l *EventLog) Add(source, message string) {
	ev := models.Event{
		Time:    l.now().Format(eventTimeLayout),
		Source:  source,
		Message: message,
	}
	log.WithField("source", source).Info(message)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append([]models.Event{ev}, l.events...)
	if len(l.events) > l.max {
		l.events = l.events[:l.max]
	}
}

// List returns a copy of the log, newest first
func (l *EventLog) List() []models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Event, len(l.events))
	copy(out, l.events)
	return out
}

func portSource(port int) string {
	return "port " + strconv.Itoa(port)
}
