package bench

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"time"
)

// Sample is one completed request. Start is measured from the beginning of
// the measurement window.
type Sample struct {
	Start   time.Duration
	Latency time.Duration
}

// Result summarizes the samples of a run
type Result struct {
	Elapsed time.Duration
	Errors  int

	samples []Sample // sorted by Start
	sorted  []time.Duration
}

// NewResult takes ownership of samples
func NewResult(samples []Sample, elapsed time.Duration) *Result {
	sort.Slice(samples, func(i, j int) bool { return samples[i].Start < samples[j].Start })
	sorted := make([]time.Duration, len(samples))
	for i, s := range samples {
		sorted[i] = s.Latency
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &Result{Elapsed: elapsed, samples: samples, sorted: sorted}
}

func (r *Result) Ops() int {
	return len(r.samples)
}

// OpsPerSec is the achieved throughput over the measurement window
func (r *Result) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(len(r.samples)) / r.Elapsed.Seconds()
}

func (r *Result) AvgLatency() time.Duration {
	if len(r.sorted) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range r.sorted {
		sum += l
	}
	return sum / time.Duration(len(r.sorted))
}

// Percentile returns the nth percentile latency, 0 < nth <= 100
func (r *Result) Percentile(nth float64) time.Duration {
	return percentile(r.sorted, nth)
}

func percentile(sorted []time.Duration, nth float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(nth*float64(len(sorted))/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SeriesPoint is the latency percentile of the requests started in one interval
type SeriesPoint struct {
	Offset  time.Duration
	Latency time.Duration
}

// TimeSeries buckets samples by start time and computes the nth percentile per
// bucket. Empty buckets are skipped.
func (r *Result) TimeSeries(interval time.Duration, nth float64) []SeriesPoint {
	var points []SeriesPoint
	var bucket []time.Duration
	cur := time.Duration(-1)
	emit := func() {
		if len(bucket) == 0 {
			return
		}
		sort.Slice(bucket, func(i, j int) bool { return bucket[i] < bucket[j] })
		points = append(points, SeriesPoint{Offset: cur * interval, Latency: percentile(bucket, nth)})
		bucket = bucket[:0]
	}
	for _, s := range r.samples {
		if b := s.Start / interval; b != cur {
			emit()
			cur = b
		}
		bucket = append(bucket, s.Latency)
	}
	emit()
	return points
}

// WriteTimeSeries writes one "unix_us offset_us latency_us" row per point
func WriteTimeSeries(w io.Writer, start time.Time, points []SeriesPoint) error {
	bw := bufio.NewWriter(w)
	for _, p := range points {
		abs := start.Add(p.Offset).UnixMicro()
		if _, err := fmt.Fprintf(bw, "%d %d %d\n", abs, p.Offset.Microseconds(), p.Latency.Microseconds()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

const ResultHeader = "ops/s avg_lat 50th_lat 90th_lat 95th_lat 99th_lat 99.9th_lat"

// String formats the result as one row under ResultHeader, latencies in microseconds
func (r *Result) String() string {
	us := func(d time.Duration) int64 { return d.Microseconds() }
	return fmt.Sprintf("%.0f %d %d %d %d %d %d", r.OpsPerSec(), us(r.AvgLatency()),
		us(r.Percentile(50)), us(r.Percentile(90)), us(r.Percentile(95)),
		us(r.Percentile(99)), us(r.Percentile(99.9)))
}
