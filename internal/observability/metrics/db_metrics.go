package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterDBStats exposes connection pool gauges for the Postgres store.
func RegisterDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open store connections",
		},
		func() float64 { return float64(db.Stats().OpenConnections) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_in_use_connections",
			Help: "Store connections currently in use",
		},
		func() float64 { return float64(db.Stats().InUse) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_wait_count",
			Help: "Total waits for a store connection",
		},
		func() float64 { return float64(db.Stats().WaitCount) },
	))
}
