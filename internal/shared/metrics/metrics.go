// Package metrics keeps process-local counters for the estimator and renders
// them in the Prometheus text exposition format.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

type counter struct {
	name string
	help string
	v    atomic.Uint64
}

func newCounter(name, help string) *counter { return &counter{name: name, help: help} }

func (c *counter) inc() { c.v.Add(1) }

var (
	studiesCreated      = newCounter("studies_created_total", "Studies created")
	jobsSubmitted       = newCounter("jobs_submitted_total", "Estimation jobs queued")
	jobsStarted         = newCounter("jobs_started_total", "Estimation jobs claimed by a worker")
	jobsCompleted       = newCounter("jobs_completed_total", "Estimation jobs finished")
	manualEdits         = newCounter("manual_edits_total", "Manual edit requests merged")
	exports             = newCounter("exports_total", "Workbook and work order exports")
	workerReceived      = newCounter("worker_messages_received_total", "Queue messages received")
	workerUnrecoverable = newCounter("worker_messages_unrecoverable_total", "Queue messages dropped as unrecoverable")

	counters = []*counter{
		studiesCreated, jobsSubmitted, jobsStarted, jobsCompleted,
		manualEdits, exports, workerReceived, workerUnrecoverable,
	}

	jobsFailed = &labeled{name: "jobs_failed_total", help: "Estimation jobs failed by error code", label: "code", values: map[string]uint64{}}

	jobDuration = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000})
)

func IncStudiesCreated() { studiesCreated.inc() }
func IncJobsSubmitted()  { jobsSubmitted.inc() }
func IncJobsStarted()    { jobsStarted.inc() }
func IncJobsCompleted()  { jobsCompleted.inc() }
func IncManualEdits()    { manualEdits.inc() }
func IncExports()        { exports.inc() }

// IncJobsFailed counts a failed job under its error code.
func IncJobsFailed(code string) { jobsFailed.inc(code) }

// IncWorkerReceived counts queue messages picked up by a worker.
func IncWorkerReceived() { workerReceived.inc() }

// IncWorkerUnrecoverable counts messages dropped because they can never succeed.
func IncWorkerUnrecoverable() { workerUnrecoverable.inc() }

// ObserveJobDurationMs records a job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	jobDuration.Observe(max(value, 0))
}

// Handler serves Render on GET /metrics.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

func Render() string {
	var buf bytes.Buffer
	for _, c := range counters {
		writeHeader(&buf, c.name, c.help, "counter")
		fmt.Fprintf(&buf, "%s %d\n", c.name, c.v.Load())
	}
	jobsFailed.write(&buf)
	writeHistogram(&buf, "job_duration_ms", "Estimation job duration in milliseconds", jobDuration.Snapshot())
	return buf.String()
}

// labeled is a counter family with one label.
type labeled struct {
	name   string
	help   string
	label  string
	mu     sync.Mutex
	values map[string]uint64
}

func (l *labeled) inc(value string) {
	if value == "" {
		value = "unknown"
	}
	l.mu.Lock()
	l.values[value]++
	l.mu.Unlock()
}

func (l *labeled) write(buf *bytes.Buffer) {
	l.mu.Lock()
	keys := make([]string, 0, len(l.values))
	for k := range l.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make([]uint64, len(keys))
	for i, k := range keys {
		snapshot[i] = l.values[k]
	}
	l.mu.Unlock()

	writeHeader(buf, l.name, l.help, "counter")
	for i, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", l.name, l.label, k, snapshot[i])
	}
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
		h.counts[i]++
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeHeader(buf *bytes.Buffer, name, help, kind string) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	writeHeader(buf, name, help, "histogram")
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
