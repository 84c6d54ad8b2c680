package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// engineOps counts deployment engine operations by operation and result.
	engineOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgesim_engine_operations_total",
		Help: "Deployment engine operations by operation and result",
	}, []string{"operation", "result"})

	// solveDuration tracks wall-clock planner time per tick.
	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edgesim_planner_solve_seconds",
		Help:    "Planner GetData+Solve wall-clock time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	// currentTick exposes the live simulation tick.
	currentTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgesim_current_tick",
		Help: "Current simulation tick",
	})

	// effectiveMoves counts device moves that changed the attached server.
	effectiveMoves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgesim_device_moves_total",
		Help: "Device moves that changed the attached server",
	})
)

const (
	opDeploy       = "deploy"
	opUndeploy     = "undeploy"
	opMigrateOne   = "migrate_one"
	opMigrateBatch = "migrate_batch"

	resultOK       = "ok"
	resultCapacity = "capacity"
	resultError    = "error"
)

func recordOp(op string, err error) {
	switch {
	case err == nil:
		engineOps.WithLabelValues(op, resultOK).Inc()
	case isCapacity(err):
		engineOps.WithLabelValues(op, resultCapacity).Inc()
	default:
		engineOps.WithLabelValues(op, resultError).Inc()
	}
}
