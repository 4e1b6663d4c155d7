package probe

// recentWindow is how many completed one-second buckets count as "recent"
// when deciding whether throughput has stopped improving.
const recentWindow = 3

// plateaued decides whether continued measurement is worthwhile.
//
// It compares the best rate inside the last three completed buckets
// against the best rate seen in any bucket before them. If an earlier
// bucket beats everything recent, the link has shown its peak and the
// probe can stop. Ties keep the probe running: a flat rate is not a
// regression.
//
// currentSecond is the second the run is currently inside; that bucket
// is still filling and never takes part in the comparison. Degenerate
// buckets (single sample) are skipped entirely.
func plateaued(buckets []rateBucket, currentSecond int64) bool {
	completed := make([]rateBucket, 0, len(buckets))
	for _, b := range buckets {
		if b.index >= currentSecond || b.degenerate() {
			continue
		}
		completed = append(completed, b)
	}
	// Need at least one prior bucket beyond the recent window.
	if len(completed) <= recentWindow {
		return false
	}

	cut := len(completed) - recentWindow
	priorPeak := peakRate(completed[:cut])
	recentPeak := peakRate(completed[cut:])
	return priorPeak > recentPeak
}

func peakRate(buckets []rateBucket) float64 {
	best := 0.0
	for _, b := range buckets {
		if r := b.rate(bucketSpanMS); r > best {
			best = r
		}
	}
	return best
}
