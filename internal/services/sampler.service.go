package services

import (
	"context"
	"sort"

	"trafficwatch/internal/models"

	"github.com/shirou/gopsutil/v3/net"
	log "github.com/sirupsen/logrus"
)

const connEstablished = "ESTABLISHED"

// Sampler finds the processes that own each monitored port
type Sampler interface {
	Sample(ctx context.Context, ports []int) map[int]models.PortSample
}

// ConnectionSampler enumerates inet sockets once per call and buckets them by
// local port.
type ConnectionSampler struct {
	ConnsFn func(ctx context.Context, kind string) ([]net.ConnectionStat, error)
}

// NewConnectionSampler returns a sampler backed by gopsutil
func NewConnectionSampler() *ConnectionSampler {
	return &ConnectionSampler{ConnsFn: net.ConnectionsWithContext}
}

// Sample never fails: an enumeration error yields an empty result for every
// port and the engine treats the tick as having no owning processes.
func (s *ConnectionSampler) Sample(ctx context.Context, ports []int) map[int]models.PortSample {
	result := make(map[int]models.PortSample, len(ports))
	pidSets := make(map[int]map[int32]struct{}, len(ports))
	for _, port := range ports {
		result[port] = models.PortSample{}
		pidSets[port] = map[int32]struct{}{}
	}

	conns, err := s.ConnsFn(ctx, "inet")
	if err != nil {
		log.WithError(err).Debug("connection enumeration failed")
		return result
	}

	for _, conn := range conns {
		port := int(conn.Laddr.Port)
		pids, ok := pidSets[port]
		if !ok {
			continue
		}
		if conn.Status == connEstablished {
			sample := result[port]
			sample.Established++
			result[port] = sample
		}
		// Listening sockets count too: their owner is the port's process.
		if conn.Pid != 0 {
			pids[conn.Pid] = struct{}{}
		}
	}

	for port, pids := range pidSets {
		sample := result[port]
		sample.PIDs = make([]int32, 0, len(pids))
		for pid := range pids {
			sample.PIDs = append(sample.PIDs, pid)
		}
		sort.Slice(sample.PIDs, func(i, j int) bool { return sample.PIDs[i] < sample.PIDs[j] })
		result[port] = sample
	}

	return result
}
