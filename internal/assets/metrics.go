package assets

import "github.com/prometheus/client_golang/prometheus"

const (
	downloadStarted   = "started"
	downloadSucceeded = "succeeded"
	downloadFailed    = "failed"
)

var assetDownloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fluxd_asset_downloads_total",
		Help: "Model asset downloads by status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(assetDownloads)
	for _, s := range []string{downloadStarted, downloadSucceeded, downloadFailed} {
		assetDownloads.WithLabelValues(s)
	}
}
