// Package metrics exports the handful of Prometheus series this module's
// stats-worthy events feed: key rotation outcomes, admin-roster
// mutations, PAR issuance by access type, and mutex wait time — the same
// counters/histograms-over-promauto shape the teacher's own stats
// package uses for per-target metrics, trimmed to what this module emits.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "svctrust"

var (
	rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "svcaccount",
		Name:      "key_rotations_total",
		Help:      "Service key rotation attempts, partitioned by whether this process won the race.",
	}, []string{"outcome"})

	adminMutationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admin",
		Name:      "roster_mutations_total",
		Help:      "Successful add_admin_user calls.",
	})

	parIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "par",
		Name:      "issued_total",
		Help:      "PARs issued, partitioned by resolved access type.",
	}, []string{"access_type"})

	mutexWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mutex",
		Name:      "wait_seconds",
		Help:      "Time spent blocked in Mutex.Lock before the lease was acquired or the timeout elapsed.",
		Buckets:   prometheus.DefBuckets,
	})
)

// RecordRotation tags one key-rotation attempt as won (this process's
// candidate was persisted) or lost (another actor rotated first).
func RecordRotation(won bool) {
	if won {
		rotationsTotal.WithLabelValues("won").Inc()
		return
	}
	rotationsTotal.WithLabelValues("lost").Inc()
}

// RecordAdminMutation counts one successful roster append.
func RecordAdminMutation() {
	adminMutationsTotal.Inc()
}

// RecordPARIssued counts one PAR issuance by its resolved access type
// ("ObjectRead", "ObjectWrite", "ObjectReadWrite", "AnyObjectWrite").
func RecordPARIssued(accessType string) {
	parIssuedTotal.WithLabelValues(accessType).Inc()
}

// ObserveMutexWait records how long a Lock call waited before acquiring
// the lease (or giving up).
func ObserveMutexWait(d time.Duration) {
	mutexWaitSeconds.Observe(d.Seconds())
}
