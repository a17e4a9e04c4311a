package services

import (
	"os"
	"strconv"

	"trafficwatch/internal/models"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// ErrCorruptSnapshot is returned by Load when the data file exists but cannot
// be decoded. The unreadable file is moved aside before returning.
const ErrCorruptSnapshot = errors.Sentinel("snapshot file is corrupt")

// SnapshotStore persists engine state between runs
type SnapshotStore interface {
	Load() (*models.Snapshot, error)
	Save(snap *models.Snapshot) error
}

// FileSnapshotStore keeps the snapshot in one JSON document
type FileSnapshotStore struct {
	path        string
	defaultPort int
}

// NewFileSnapshotStore returns a store at path. defaultPort receives the data
// of legacy single-port files during migration.
func NewFileSnapshotStore(path string, defaultPort int) *FileSnapshotStore {
	return &FileSnapshotStore{path: path, defaultPort: defaultPort}
}

func (s *FileSnapshotStore) Path() string {
	return s.path
}

// rawSnapshot accepts every layout ever written to the data file
type rawSnapshot struct {
	Version       int                          `json:"version"`
	DailyStats    map[string]json.RawMessage   `json:"daily_stats"`
	TotalStats    map[string]models.StatRecord `json:"total_stats"`
	ProcessStates map[string]models.Baseline   `json:"process_states"`
	TrafficSeries json.RawMessage              `json:"traffic_series"`

	// single-port layout
	TotalUpload        *uint64  `json:"total_upload"`
	TotalDownload      *uint64  `json:"total_download"`
	TotalOnlineSeconds *float64 `json:"total_online_seconds"`
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *FileSnapshotStore) Load() (*models.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewSnapshot(), nil
		}
		return nil, errors.Wrapf(err, "read snapshot %s", s.path)
	}

	snap, err := DecodeSnapshot(data, s.defaultPort)
	if err != nil {
		aside := s.path + ".corrupt"
		if rerr := os.Rename(s.path, aside); rerr != nil {
			log.WithError(rerr).WithField("path", s.path).Warn("could not move corrupt snapshot aside")
		} else {
			log.WithField("path", aside).Warn("moved corrupt snapshot aside")
		}
		return nil, errors.Combine(ErrCorruptSnapshot, err)
	}
	return snap, nil
}

// DecodeSnapshot parses any known data file layout and migrates it to the
// current version.
func DecodeSnapshot(data []byte, defaultPort int) (*models.Snapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}

	snap := models.NewSnapshot()
	defaultKey := strconv.Itoa(defaultPort)

	for date, msg := range raw.DailyStats {
		perPort := map[string]models.StatRecord{}
		if err := json.Unmarshal(msg, &perPort); err != nil {
			// single-port layout: the date maps straight to a record
			var rec models.StatRecord
			if err := json.Unmarshal(msg, &rec); err != nil {
				return nil, errors.Wrapf(err, "decode daily stats for %s", date)
			}
			perPort = map[string]models.StatRecord{defaultKey: rec}
		}
		snap.DailyStats[date] = perPort
	}

	for port, rec := range raw.TotalStats {
		snap.TotalStats[port] = rec
	}
	if raw.TotalUpload != nil || raw.TotalDownload != nil || raw.TotalOnlineSeconds != nil {
		rec := snap.TotalStats[defaultKey]
		if raw.TotalUpload != nil {
			rec.Upload += *raw.TotalUpload
		}
		if raw.TotalDownload != nil {
			rec.Download += *raw.TotalDownload
		}
		if raw.TotalOnlineSeconds != nil {
			rec.OnlineSeconds += *raw.TotalOnlineSeconds
		}
		snap.TotalStats[defaultKey] = rec
	}

	for key, b := range raw.ProcessStates {
		snap.ProcessStates[key] = b
	}

	if len(raw.TrafficSeries) > 0 && string(raw.TrafficSeries) != "null" {
		if err := json.Unmarshal(raw.TrafficSeries, &snap.TrafficSeries); err != nil {
			var list []models.TrendPoint
			if err := json.Unmarshal(raw.TrafficSeries, &list); err != nil {
				return nil, errors.Wrap(err, "decode traffic series")
			}
			snap.TrafficSeries = map[string][]models.TrendPoint{defaultKey: list}
		}
	}

	if raw.Version < models.SnapshotVersion {
		log.WithFields(log.Fields{
			"from": raw.Version,
			"to":   models.SnapshotVersion,
		}).Info("migrated snapshot layout")
	}
	snap.Version = models.SnapshotVersion
	return snap, nil
}

// Save writes the snapshot to a temporary file and renames it over the old
// one so readers never observe a half-written document.
func (s *FileSnapshotStore) Save(snap *models.Snapshot) error {
	snap.Version = models.SnapshotVersion
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "replace %s", s.path)
	}
	return nil
}
