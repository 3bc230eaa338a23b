// Package netdetect samples host network counters for connection-quality
// estimates. One Sampler is shared by every session; reads are paced so a
// busy event loop does not hammer the OS.
package netdetect

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/net"
	"golang.org/x/time/rate"

	"github.com/breeze-rmm/rdpd/internal/logging"
	"github.com/breeze-rmm/rdpd/internal/metrics"
)

// Counters are cumulative byte counts across all interfaces.
type Counters struct {
	BytesSent uint64
	BytesRecv uint64
}

// CounterFunc reads the current counters.
type CounterFunc func() (Counters, error)

// HostCounters reads aggregate interface counters from the OS.
func HostCounters() (Counters, error) {
	io, err := net.IOCounters(false)
	if err != nil {
		return Counters{}, err
	}
	if len(io) == 0 {
		return Counters{}, errors.New("no network counters available")
	}
	return Counters{BytesSent: io[0].BytesSent, BytesRecv: io[0].BytesRecv}, nil
}

// Snapshot is the most recent sample and the throughput since the one
// before it.
type Snapshot struct {
	Counters
	At             time.Time
	InBytesPerSec  float64
	OutBytesPerSec float64
}

type Sampler struct {
	read    CounterFunc
	limiter *rate.Limiter
	now     func() time.Time

	mu   sync.Mutex
	last Snapshot
	have bool
}

// NewSampler reads at most once per interval. read defaults to
// HostCounters.
func NewSampler(interval time.Duration, read CounterFunc) *Sampler {
	if read == nil {
		read = HostCounters
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		read:    read,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

// Poll takes a sample if the interval has elapsed since the last one.
func (s *Sampler) Poll() error {
	if !s.limiter.Allow() {
		return nil
	}
	return s.sample()
}

// Prime takes a sample unless one already exists.
func (s *Sampler) Prime() error {
	s.mu.Lock()
	have := s.have
	s.mu.Unlock()
	if have {
		return nil
	}
	return s.sample()
}

func (s *Sampler) sample() error {
	c, err := s.read()
	if err != nil {
		return err
	}
	at := s.now()

	s.mu.Lock()
	next := Snapshot{Counters: c, At: at}
	if s.have {
		elapsed := at.Sub(s.last.At).Seconds()
		// Counters wrap or reset when interfaces come and go.
		if elapsed > 0 && c.BytesRecv >= s.last.BytesRecv && c.BytesSent >= s.last.BytesSent {
			next.InBytesPerSec = float64(c.BytesRecv-s.last.BytesRecv) / elapsed
			next.OutBytesPerSec = float64(c.BytesSent-s.last.BytesSent) / elapsed
		}
	}
	s.last = next
	s.have = true
	s.mu.Unlock()

	metrics.HostNetworkBytes.WithLabelValues("in").Set(float64(c.BytesRecv))
	metrics.HostNetworkBytes.WithLabelValues("out").Set(float64(c.BytesSent))
	metrics.HostNetworkThroughput.WithLabelValues("in").Set(next.InBytesPerSec)
	metrics.HostNetworkThroughput.WithLabelValues("out").Set(next.OutBytesPerSec)
	return nil
}

// Snapshot reports false until the first sample.
func (s *Sampler) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.have
}

// Detector is one session's view of the shared sampler.
type Detector struct {
	sampler *Sampler
	log     *slog.Logger
	failed  bool
}

func NewDetector(sampler *Sampler, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = logging.L("netdetect")
	}
	return &Detector{sampler: sampler, log: logger}
}

func (d *Detector) Initialize() bool {
	if d.sampler == nil {
		return false
	}
	if err := d.sampler.Prime(); err != nil {
		d.log.Warn("network counters unavailable", logging.KeyError, err)
		return false
	}
	return true
}

// Update runs on the session worker every loop iteration.
func (d *Detector) Update() {
	if d.sampler == nil {
		return
	}
	if err := d.sampler.Poll(); err != nil {
		if !d.failed {
			d.log.Debug("network sample failed", logging.KeyError, err)
		}
		d.failed = true
		return
	}
	d.failed = false
}
