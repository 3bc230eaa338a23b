package netdetect

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/breeze-rmm/rdpd/internal/metrics"
)

type fakeCounters struct {
	reads atomic.Int32
	sent  atomic.Uint64
	recv  atomic.Uint64
	err   atomic.Value
}

func (f *fakeCounters) read() (Counters, error) {
	f.reads.Add(1)
	if err, _ := f.err.Load().(error); err != nil {
		return Counters{}, err
	}
	return Counters{BytesSent: f.sent.Load(), BytesRecv: f.recv.Load()}, nil
}

func TestSampler_Throughput(t *testing.T) {
	fc := &fakeCounters{}
	s := NewSampler(time.Nanosecond, fc.read)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	fc.sent.Store(1000)
	fc.recv.Store(4000)
	if err := s.sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}

	clock = clock.Add(2 * time.Second)
	fc.sent.Store(3000)
	fc.recv.Store(10000)
	if err := s.sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}

	snap, ok := s.Snapshot()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snap.OutBytesPerSec != 1000 || snap.InBytesPerSec != 3000 {
		t.Fatalf("throughput out=%v in=%v, want 1000/3000", snap.OutBytesPerSec, snap.InBytesPerSec)
	}
	if got := testutil.ToFloat64(metrics.HostNetworkBytes.WithLabelValues("in")); got != 10000 {
		t.Fatalf("in gauge = %v, want 10000", got)
	}
}

func TestSampler_CounterResetSkipsDelta(t *testing.T) {
	fc := &fakeCounters{}
	s := NewSampler(time.Nanosecond, fc.read)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	fc.sent.Store(5000)
	fc.recv.Store(5000)
	s.sample()
	clock = clock.Add(time.Second)
	fc.sent.Store(10)
	fc.recv.Store(10)
	s.sample()

	snap, _ := s.Snapshot()
	if snap.InBytesPerSec != 0 || snap.OutBytesPerSec != 0 {
		t.Fatalf("throughput after reset = %v/%v, want 0/0", snap.InBytesPerSec, snap.OutBytesPerSec)
	}
}

func TestSampler_PollIsPaced(t *testing.T) {
	fc := &fakeCounters{}
	s := NewSampler(time.Hour, fc.read)
	for i := 0; i < 10; i++ {
		if err := s.Poll(); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if got := fc.reads.Load(); got != 1 {
		t.Fatalf("reads = %d, want 1", got)
	}
}

func TestSampler_PrimeOnce(t *testing.T) {
	fc := &fakeCounters{}
	s := NewSampler(time.Hour, fc.read)
	s.Prime()
	s.Prime()
	if got := fc.reads.Load(); got != 1 {
		t.Fatalf("reads = %d, want 1", got)
	}
	if _, ok := s.Snapshot(); !ok {
		t.Fatal("Prime should record a snapshot")
	}
}

func TestDetector_InitializeFailure(t *testing.T) {
	fc := &fakeCounters{}
	fc.err.Store(errors.New("no counters"))
	d := NewDetector(NewSampler(time.Second, fc.read), nil)
	if d.Initialize() {
		t.Fatal("Initialize should fail when counters are unavailable")
	}

	if NewDetector(nil, nil).Initialize() {
		t.Fatal("Initialize without a sampler should fail")
	}
}

func TestDetector_UpdateSharesSampler(t *testing.T) {
	fc := &fakeCounters{}
	sampler := NewSampler(time.Hour, fc.read)
	a := NewDetector(sampler, nil)
	b := NewDetector(sampler, nil)

	if !a.Initialize() || !b.Initialize() {
		t.Fatal("Initialize failed")
	}
	for i := 0; i < 5; i++ {
		a.Update()
		b.Update()
	}
	// Prime once, then one paced poll.
	if got := fc.reads.Load(); got != 2 {
		t.Fatalf("reads = %d, want 2", got)
	}

	fc.err.Store(errors.New("gone"))
	a.Update()
	NewDetector(nil, nil).Update()
}
