package evaluate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// lastCost holds the most recently evaluated value of each cost.
var lastCost = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "edgesim_cost",
	Help: "Most recently evaluated placement cost by kind",
}, []string{"kind"})
