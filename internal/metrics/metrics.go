package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "venuebook"

var (
	once sync.Once

	capacityOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_operations_total",
			Help:      "Capacity slot operations by kind and outcome.",
		},
		[]string{"op", "result"},
	)

	capacityRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_repairs_total",
			Help:      "Capacity slot fields clamped on save.",
		},
		[]string{"field"},
	)

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_requests_total",
			Help:      "Availability cache lookups by result.",
		},
		[]string{"result"},
	)

	slotComputation = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_computation_seconds",
			Help:      "Time spent computing available slots.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	windowConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_conflicts_total",
			Help:      "Window conflicts detected by severity.",
		},
		[]string{"severity"},
	)

	bookingImpacts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_impacts_total",
			Help:      "Bookings affected by window changes, by handling outcome.",
		},
		[]string{"outcome"},
	)

	purgedSlots = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_slots_purged_total",
			Help:      "Unused capacity slots removed by the purge job.",
		},
	)

	catalogSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_syncs_total",
			Help:      "Catalog reloads applied to the database.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route.",
		},
		[]string{"route"},
	)

	httpThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_throttled_total",
			Help:      "API requests rejected by the rate limiter.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			capacityOps,
			capacityRepairs,
			cacheRequests,
			slotComputation,
			windowConflicts,
			bookingImpacts,
			purgedSlots,
			catalogSyncs,
			httpRequests,
			httpThrottled,
		)
	})
}

func IncCapacityOp(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	capacityOps.WithLabelValues(op, result).Inc()
}

func IncCapacityRepair(field string) {
	capacityRepairs.WithLabelValues(field).Inc()
}

func IncCache(result string) {
	cacheRequests.WithLabelValues(result).Inc()
}

func ObserveSlotComputation(path string, started time.Time) {
	slotComputation.WithLabelValues(path).Observe(time.Since(started).Seconds())
}

func IncConflict(severity string) {
	windowConflicts.WithLabelValues(severity).Inc()
}

func IncBookingImpact(outcome string) {
	bookingImpacts.WithLabelValues(outcome).Inc()
}

func AddPurgedSlots(n int64) {
	purgedSlots.Add(float64(n))
}

func IncCatalogSync(ok bool) {
	CatalogSyncs(ok).Inc()
}

// CatalogSyncs returns the counter of applied (ok) or refused catalogs.
func CatalogSyncs(ok bool) prometheus.Counter {
	result := "ok"
	if !ok {
		result = "error"
	}
	return catalogSyncs.WithLabelValues(result)
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}

func IncThrottled() {
	httpThrottled.Inc()
}
