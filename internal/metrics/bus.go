// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var busDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidlint_bus_dropped_total",
	Help: "Live event subscribers evicted because they could not keep up",
}, []string{"reason"}) // reason=timeout|canceled|context_done

// RecordBusDrop counts an evicted subscriber.
func RecordBusDrop(reason string) {
	busDropped.WithLabelValues(reason).Inc()
}

// BusDrops returns the eviction counter for reason.
func BusDrops(reason string) prometheus.Counter {
	return busDropped.WithLabelValues(reason)
}
