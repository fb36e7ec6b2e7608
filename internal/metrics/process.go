// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_proc_terminate_total",
		Help: "Signals sent to child process groups",
	}, []string{"signal", "result"}) // result=sent|esrch|error

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidlint_proc_wait_total",
		Help: "Child process exits observed during termination",
	}, []string{"outcome"})
)

// IncProcTerminate counts a signal delivery attempt.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait counts how a terminated child exited.
func IncProcWait(outcome string) {
	procWait.WithLabelValues(outcome).Inc()
}
