package probe

// rateBucket summarizes the Measurements whose ElapsedMS falls into the
// same one-second interval. Only the first and last sample matter for the
// windowed rate; count is kept to reject degenerate buckets.
type rateBucket struct {
	index int64 // ElapsedMS / 1000
	first Measurement
	last  Measurement
	count int
}

// rate returns MB/s over the given span in milliseconds.
//
// Callers evaluating live one-second windows pass the fixed bucketSpanMS
// denominator: a bucket with a couple of samples clustered near a boundary
// would otherwise report a wildly inflated instantaneous rate. Pass 0 to
// use the actual intra-bucket span instead.
func (b rateBucket) rate(spanMS int64) float64 {
	if spanMS <= 0 {
		spanMS = b.last.ElapsedMS - b.first.ElapsedMS
	}
	if spanMS <= 0 {
		return 0
	}
	mb := float64(b.last.Cumulative-b.first.Cumulative) / bytesPerMB
	return mb / (float64(spanMS) / 1000)
}

// degenerate reports whether the bucket has too few samples to carry a
// meaningful windowed rate.
func (b rateBucket) degenerate() bool { return b.count < 2 }

// bucketize groups an ordered Measurement sequence into one-second buckets.
// The result is ordered by bucket index; gaps (seconds with no samples)
// simply produce no bucket.
func bucketize(samples []Measurement) []rateBucket {
	if len(samples) == 0 {
		return nil
	}
	buckets := make([]rateBucket, 0, samples[len(samples)-1].ElapsedMS/bucketSpanMS+1)
	for _, m := range samples {
		idx := m.ElapsedMS / bucketSpanMS
		if n := len(buckets); n > 0 && buckets[n-1].index == idx {
			buckets[n-1].last = m
			buckets[n-1].count++
			continue
		}
		buckets = append(buckets, rateBucket{index: idx, first: m, last: m, count: 1})
	}
	return buckets
}

// maxRate returns the best fixed-span rate across all buckets.
// Degenerate buckets are skipped; no usable bucket yields 0.
func maxRate(buckets []rateBucket) float64 {
	best := 0.0
	for _, b := range buckets {
		if b.degenerate() {
			continue
		}
		if r := b.rate(bucketSpanMS); r > best {
			best = r
		}
	}
	return best
}
