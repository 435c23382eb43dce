// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics provides Prometheus instrumentation for jobq queues.
//
// A Collector implements [jobq.Observer]. Attach one per queue through
// the builder:
//
//	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
//	q, err := jobq.New(4, 256).
//	    Name("thumbnails").
//	    Observer(reg.Collector("thumbnails")).
//	    Build()
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
//   - jobq_jobs_enqueued_total: jobs accepted by Enqueue
//   - jobq_jobs_rejected_total: Enqueue calls refused because the queue was full
//   - jobq_jobs_completed_total: jobs finished, including panicked ones
//   - jobq_jobs_panicked_total: jobs that panicked
//   - jobq_job_duration_seconds: job execution time
//   - jobq_workers_live: workers not yet exited
//
// Every metric carries a "queue" label. A Registry registers each metric
// family once; create one Registry per Prometheus registerer and derive
// a Collector per queue from it.
package metrics
