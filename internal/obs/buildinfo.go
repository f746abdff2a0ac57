package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Sharedview API build information.",
		},
		[]string{"version", "edition"},
	)
)

// InitBuildInfo registers the build_info gauge once and sets it.
func InitBuildInfo(version, edition string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, edition).Set(1)
}
