package probe

import (
	"math"
	"testing"
)

func TestBucketizeGroupsBySecond(t *testing.T) {
	t.Parallel()
	samples := []Measurement{
		{ElapsedMS: 10, Cumulative: 100},
		{ElapsedMS: 500, Cumulative: 600},
		{ElapsedMS: 990, Cumulative: 1100},
		{ElapsedMS: 1005, Cumulative: 1200},
		{ElapsedMS: 1900, Cumulative: 2200},
		{ElapsedMS: 3050, Cumulative: 2300}, // second 2 has no samples
	}

	buckets := bucketize(samples)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	if buckets[0].index != 0 || buckets[1].index != 1 || buckets[2].index != 3 {
		t.Fatalf("unexpected bucket indexes: %d %d %d", buckets[0].index, buckets[1].index, buckets[2].index)
	}
	if buckets[0].count != 3 || buckets[1].count != 2 || buckets[2].count != 1 {
		t.Fatalf("unexpected bucket counts: %d %d %d", buckets[0].count, buckets[1].count, buckets[2].count)
	}
	if buckets[0].first.Cumulative != 100 || buckets[0].last.Cumulative != 1100 {
		t.Fatalf("bucket 0 span wrong: first=%d last=%d", buckets[0].first.Cumulative, buckets[0].last.Cumulative)
	}
	if !buckets[2].degenerate() {
		t.Fatal("single-sample bucket should be degenerate")
	}
}

func TestBucketRateFixedVsActualSpan(t *testing.T) {
	t.Parallel()
	b := rateBucket{
		index: 0,
		first: Measurement{ElapsedMS: 0, Cumulative: 0},
		last:  Measurement{ElapsedMS: 500, Cumulative: bytesPerMB},
		count: 10,
	}

	// Fixed denominator: 1 MB over a forced 1000 ms window.
	if got := b.rate(bucketSpanMS); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("fixed-span rate = %f, want 1.0", got)
	}
	// Actual span: the same MB over 500 ms is twice as fast.
	if got := b.rate(0); math.Abs(got-2.0) > 1e-9 {
		t.Fatalf("actual-span rate = %f, want 2.0", got)
	}
}

func TestBucketRateZeroSpan(t *testing.T) {
	t.Parallel()
	b := rateBucket{
		first: Measurement{ElapsedMS: 100, Cumulative: 50},
		last:  Measurement{ElapsedMS: 100, Cumulative: 50},
		count: 1,
	}
	if got := b.rate(0); got != 0 {
		t.Fatalf("degenerate actual-span rate = %f, want 0", got)
	}
}

func TestMaxRateSkipsDegenerateBuckets(t *testing.T) {
	t.Parallel()
	buckets := []rateBucket{
		{
			index: 0,
			first: Measurement{ElapsedMS: 0, Cumulative: 0},
			last:  Measurement{ElapsedMS: 900, Cumulative: 2 * bytesPerMB},
			count: 5,
		},
		{
			// Single sample near a boundary; must not win.
			index: 1,
			first: Measurement{ElapsedMS: 1999, Cumulative: 100 * bytesPerMB},
			last:  Measurement{ElapsedMS: 1999, Cumulative: 100 * bytesPerMB},
			count: 1,
		},
	}
	if got := maxRate(buckets); math.Abs(got-2.0) > 1e-9 {
		t.Fatalf("maxRate = %f, want 2.0", got)
	}
	if got := maxRate(nil); got != 0 {
		t.Fatalf("maxRate(nil) = %f, want 0", got)
	}
}
