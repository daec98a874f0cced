package facility

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hms_bed_allocations_total",
		Help: "Bed allocation attempts by outcome.",
	}, []string{"outcome"})

	releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hms_bed_releases_total",
		Help: "Bed release attempts by outcome.",
	}, []string{"outcome"})

	movesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hms_bed_moves_total",
		Help: "Bed move attempts by outcome.",
	}, []string{"outcome"})
)
