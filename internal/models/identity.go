package models

import (
	"fmt"
	"strconv"
	"strings"

	"emperror.dev/errors"
)

// Identity names one process instance. Two processes that share a pid over
// time never share an Identity because their start times differ.
type Identity struct {
	PID       int32 `json:"pid"`
	StartTime int64 `json:"start_time"` // unix seconds
}

// Key renders the identity in its persisted "<pid>_<start>" form.
func (id Identity) Key() string {
	return fmt.Sprintf("%d_%d", id.PID, id.StartTime)
}

// ParseIdentityKey is the inverse of Identity.Key.
func ParseIdentityKey(key string) (Identity, error) {
	pidStr, startStr, ok := strings.Cut(key, "_")
	if !ok {
		return Identity{}, errors.Errorf("malformed identity key %q", key)
	}
	pid, err := strconv.ParseInt(pidStr, 10, 32)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "malformed pid in identity key %q", key)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "malformed start time in identity key %q", key)
	}
	return Identity{PID: int32(pid), StartTime: start}, nil
}

// Baseline is the last cumulative I/O observed for an identity
type Baseline struct {
	Read  uint64 `json:"read"`
	Write uint64 `json:"write"`
}
