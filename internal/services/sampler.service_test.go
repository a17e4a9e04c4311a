package services

import (
	"context"
	"testing"

	"emperror.dev/errors"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
)

func conn(port uint32, status string, pid int32) net.ConnectionStat {
	return net.ConnectionStat{Laddr: net.Addr{IP: "0.0.0.0", Port: port}, Status: status, Pid: pid}
}

func TestConnectionSampler_BucketsByLocalPort(t *testing.T) {
	s := &ConnectionSampler{ConnsFn: func(context.Context, string) ([]net.ConnectionStat, error) {
		return []net.ConnectionStat{
			conn(80, "LISTEN", 20),
			conn(80, "ESTABLISHED", 21),
			conn(80, "ESTABLISHED", 21),
			conn(80, "TIME_WAIT", 0),
			conn(443, "ESTABLISHED", 30),
			conn(8080, "ESTABLISHED", 40),
		}, nil
	}}

	got := s.Sample(context.Background(), []int{80, 443, 22})

	assert.Equal(t, []int32{20, 21}, got[80].PIDs)
	assert.Equal(t, 2, got[80].Established)
	assert.Equal(t, []int32{30}, got[443].PIDs)
	assert.Equal(t, 1, got[443].Established)
	assert.Empty(t, got[22].PIDs)
	assert.Zero(t, got[22].Established)
	assert.NotContains(t, got, 8080)
}

func TestConnectionSampler_EnumerationFailure(t *testing.T) {
	s := &ConnectionSampler{ConnsFn: func(context.Context, string) ([]net.ConnectionStat, error) {
		return nil, errors.New("permission denied")
	}}

	got := s.Sample(context.Background(), []int{80})
	assert.Len(t, got, 1)
	assert.Empty(t, got[80].PIDs)
}
