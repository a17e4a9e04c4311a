package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"emperror.dev/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// PortConfig is the on-disk list of monitored ports
type PortConfig struct {
	Ports []int `json:"ports"`
}

// PortStore persists the monitored port set
type PortStore interface {
	LoadPorts() ([]int, error)
	SavePorts(ports []int) error
}

// FilePortStore keeps the port set in a small JSON file that operators may
// also edit by hand while the service runs.
type FilePortStore struct {
	path        string
	defaultPort int

	mu          sync.Mutex
	lastWritten []byte
}

func NewFilePortStore(path string, defaultPort int) *FilePortStore {
	return &FilePortStore{path: path, defaultPort: defaultPort}
}

// LoadPorts reads the port list. A missing or empty file yields the default
// port; entries outside the valid range are dropped.
func (s *FilePortStore) LoadPorts() ([]int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []int{s.defaultPort}, nil
		}
		return nil, errors.Wrapf(err, "read port config %s", s.path)
	}

	var cfg PortConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "decode port config %s", s.path)
	}

	seen := map[int]struct{}{}
	ports := make([]int, 0, len(cfg.Ports))
	for _, port := range cfg.Ports {
		if !ValidPort(port) {
			log.WithField("port", port).Warn("ignoring invalid port in config")
			continue
		}
		if _, dup := seen[port]; dup {
			continue
		}
		seen[port] = struct{}{}
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		ports = []int{s.defaultPort}
	}
	sort.Ints(ports)
	return ports, nil
}

func (s *FilePortStore) SavePorts(ports []int) error {
	sorted := append([]int{}, ports...)
	sort.Ints(sorted)
	data, err := json.MarshalIndent(PortConfig{Ports: sorted}, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode port config")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write port config %s", s.path)
	}
	s.lastWritten = data
	return nil
}

// ownWrite reports whether the file still holds what SavePorts last wrote
func (s *FilePortStore) ownWrite() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWritten != nil && bytes.Equal(data, s.lastWritten)
}

// Watch reloads the port list whenever the file is changed by someone other
// than this store and passes it to apply. It blocks until ctx is done.
func (s *FilePortStore) Watch(ctx context.Context, apply func(ports []int)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create config watcher")
	}
	defer watcher.Close()

	// Editors replace files, so watch the directory rather than the file.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(s.path))
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if s.ownWrite() {
				continue
			}
			ports, err := s.LoadPorts()
			if err != nil {
				log.WithError(err).Warn("ignoring unreadable port config change")
				continue
			}
			log.WithField("ports", ports).Info("reloading port config")
			apply(ports)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}

// ValidPort reports whether port is a usable TCP port number
func ValidPort(port int) bool {
	return port >= 1 && port <= 65535
}
