package probe

import "time"

// Measurement is one cumulative byte count at a run-local offset.
//
// The sequence is append-only and owned by a single run: ElapsedMS is
// strictly increasing, Cumulative never decreases.
type Measurement struct {
	ElapsedMS  int64
	Cumulative int64
}

// sampler records one Measurement per chunk read against a monotonic
// run-local stopwatch.
type sampler struct {
	start   time.Time
	samples []Measurement
}

// Pre-size for high-throughput links so the append loop doesn't spend
// its time reallocating.
const samplerInitialCap = 10000

func newSampler(start time.Time) *sampler {
	return &sampler{
		start:   start,
		samples: make([]Measurement, 0, samplerInitialCap),
	}
}

// record appends a Measurement for n freshly read bytes and returns it.
func (s *sampler) record(n int) Measurement {
	var prev int64
	if len(s.samples) > 0 {
		prev = s.samples[len(s.samples)-1].Cumulative
	}
	m := Measurement{
		ElapsedMS:  time.Since(s.start).Milliseconds(),
		Cumulative: prev + int64(n),
	}
	s.samples = append(s.samples, m)
	return m
}

func (s *sampler) total() int64 {
	if len(s.samples) == 0 {
		return 0
	}
	return s.samples[len(s.samples)-1].Cumulative
}
