package escalation

import "github.com/psantana5/governor/internal/sampler"

// DefaultRingSize is how many recent samples each watched pid keeps.
const DefaultRingSize = 8

// Ring is a fixed-size circular buffer of samples. Not safe for concurrent
// use; the Machine is single-threaded.
type Ring struct {
	entries []sampler.ProcessSample
	head    int
	count   int
}

// NewRing creates a ring holding at most size samples.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{entries: make([]sampler.ProcessSample, size)}
}

// Push adds a sample, overwriting the oldest when full.
func (r *Ring) Push(s sampler.ProcessSample) {
	r.entries[r.head] = s
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// All returns samples oldest first.
func (r *Ring) All() []sampler.ProcessSample {
	if r.count == 0 {
		return nil
	}
	out := make([]sampler.ProcessSample, r.count)
	if r.count < len(r.entries) {
		copy(out, r.entries[:r.count])
		return out
	}
	n := copy(out, r.entries[r.head:])
	copy(out[n:], r.entries[:r.head])
	return out
}

// Last returns the newest sample.
func (r *Ring) Last() (sampler.ProcessSample, bool) {
	if r.count == 0 {
		return sampler.ProcessSample{}, false
	}
	i := (r.head - 1 + len(r.entries)) % len(r.entries)
	return r.entries[i], true
}

// Len returns the number of stored samples.
func (r *Ring) Len() int {
	return r.count
}

// PeakRssMB returns the largest RSS among stored samples.
func (r *Ring) PeakRssMB() float64 {
	peak := 0.0
	for _, s := range r.All() {
		if s.RssMB > peak {
			peak = s.RssMB
		}
	}
	return peak
}
