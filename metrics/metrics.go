// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"time"

	"code.hybscloud.com/jobq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "jobq"

// Registry holds the metric families shared by all queues.
type Registry struct {
	JobsEnqueued *prometheus.CounterVec
	JobsRejected *prometheus.CounterVec
	JobsComplete *prometheus.CounterVec
	JobsPanicked *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	WorkersLive  *prometheus.GaugeVec
}

// NewRegistry registers the jobq metric families with reg.
// Panics if they are already registered there, as promauto does.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	labels := []string{"queue"}

	return &Registry{
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Total number of jobs accepted by Enqueue",
			},
			labels,
		),

		JobsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_rejected_total",
				Help:      "Total number of Enqueue calls refused because the queue was full",
			},
			labels,
		),

		JobsComplete: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs finished, including panicked ones",
			},
			labels,
		),

		JobsPanicked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_panicked_total",
				Help:      "Total number of jobs that panicked",
			},
			labels,
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "job_duration_seconds",
				Help:      "Time spent executing jobs",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
			},
			labels,
		),

		WorkersLive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "workers_live",
				Help:      "Number of workers not yet exited",
			},
			labels,
		),
	}
}

// Collector records the events of one queue.
type Collector struct {
	enqueued prometheus.Counter
	rejected prometheus.Counter
	complete prometheus.Counter
	panicked prometheus.Counter
	duration prometheus.Observer
	live     prometheus.Gauge
}

var _ jobq.Observer = (*Collector)(nil)

// Collector returns a Collector labelled with queue.
func (r *Registry) Collector(queue string) *Collector {
	return &Collector{
		enqueued: r.JobsEnqueued.WithLabelValues(queue),
		rejected: r.JobsRejected.WithLabelValues(queue),
		complete: r.JobsComplete.WithLabelValues(queue),
		panicked: r.JobsPanicked.WithLabelValues(queue),
		duration: r.JobDuration.WithLabelValues(queue),
		live:     r.WorkersLive.WithLabelValues(queue),
	}
}

// NewCollector registers a fresh set of metric families with reg and
// returns a Collector for queue. Use a shared Registry to instrument
// several queues on one registerer.
func NewCollector(reg prometheus.Registerer, queue string) *Collector {
	return NewRegistry(reg).Collector(queue)
}

func (c *Collector) JobEnqueued() { c.enqueued.Inc() }

func (c *Collector) JobRejected() { c.rejected.Inc() }

func (c *Collector) JobCompleted(elapsed time.Duration) {
	c.complete.Inc()
	c.duration.Observe(elapsed.Seconds())
}

func (c *Collector) JobPanicked() { c.panicked.Inc() }

func (c *Collector) WorkersLive(n int) { c.live.Set(float64(n)) }
