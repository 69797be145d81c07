// Package metrics holds the pipeline's prometheus collectors. They live in a
// private registry served by the status server in watch mode.
package metrics

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
    LanesClaimed = factory.NewCounter(prometheus.CounterOpts{
        Name: "osqpipe_lanes_claimed_total",
        Help: "Lanes moved from ready to marked for processing.",
    })
    RunsProcessed = factory.NewCounterVec(prometheus.CounterOpts{
        Name: "osqpipe_runs_processed_total",
        Help: "Flow cell runs processed, by outcome.",
    }, []string{"outcome"})
    TransferAttempts = factory.NewCounter(prometheus.CounterOpts{
        Name: "osqpipe_transfer_attempts_total",
        Help: "rsync attempts, including retries.",
    })
    TransferFailures = factory.NewCounter(prometheus.CounterOpts{
        Name: "osqpipe_transfer_failures_total",
        Help: "Transfers that failed after exhausting retries.",
    })
    JobsSubmitted = factory.NewCounterVec(prometheus.CounterOpts{
        Name: "osqpipe_jobs_submitted_total",
        Help: "Cluster jobs submitted, by chain kind and step.",
    }, []string{"kind", "step"})
    AlignmentsReconciled = factory.NewCounter(prometheus.CounterOpts{
        Name: "osqpipe_alignments_reconciled_total",
        Help: "Completed job chains registered in the repository.",
    })
    PendingChains = factory.NewGauge(prometheus.GaugeOpts{
        Name: "osqpipe_pending_job_chains",
        Help: "Job chains submitted but not yet reconciled.",
    })
)

func init() {
    Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}
