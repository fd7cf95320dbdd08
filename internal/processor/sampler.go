package processor

import (
	"sync"
)

// Sampler decides which readings are appended to history. The latest
// record is always written; history keeps every Nth reading per device.
// Counters are per processor instance and reset on restart, which only
// shifts the sampling phase.
type Sampler struct {
	mu       sync.Mutex
	interval uint64
	counters map[string]uint64
}

// NewSampler creates a sampler appending every interval-th reading.
func NewSampler(interval int) *Sampler {
	if interval <= 0 {
		interval = 5
	}
	return &Sampler{
		interval: uint64(interval),
		counters: make(map[string]uint64),
	}
}

// Sample increments the device's counter and reports whether this
// reading should be appended to history. Exactly one of every interval
// consecutive calls for a device returns true.
func (s *Sampler) Sample(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[deviceID]++
	return s.counters[deviceID]%s.interval == 0
}
