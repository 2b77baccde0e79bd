// Package metrics exports a fleet report as Prometheus gauges, for the
// node_exporter textfile collector or any scraper reading the same format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"clawdscan/internal/model"
)

// Handler holds the gauges of one export on a private registry.
type Handler struct {
	Registry *prometheus.Registry

	Sessions       *prometheus.GaugeVec
	DiskBytes      *prometheus.GaugeVec
	ReadFailures   *prometheus.GaugeVec
	MalformedLines *prometheus.GaugeVec
	ScanIncomplete prometheus.Gauge
	ScanTimestamp  prometheus.Gauge
}

// New registers the clawdscan gauges on a fresh registry.
func New() *Handler {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Handler{
		Registry: reg,
		Sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clawdscan_sessions",
			Help: "Active sessions by agent and health severity",
		}, []string{"agent", "severity"}),
		DiskBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clawdscan_disk_bytes",
			Help: "Bytes used by session files by agent and state",
		}, []string{"agent", "state"}),
		ReadFailures: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clawdscan_read_failures",
			Help: "Session files that could not be read",
		}, []string{"agent"}),
		MalformedLines: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clawdscan_malformed_lines",
			Help: "Session log lines skipped as malformed",
		}, []string{"agent"}),
		ScanIncomplete: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clawdscan_scan_incomplete",
			Help: "1 when the last scan was cancelled before finishing",
		}),
		ScanTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clawdscan_last_scan_timestamp_seconds",
			Help: "Unix time of the last scan",
		}),
	}
}

// Observe sets every gauge from report. Each severity is exported for every
// agent, including zero counts, so series do not disappear between runs.
func (h *Handler) Observe(report *model.FleetReport) {
	for _, a := range report.Agents {
		for _, sev := range model.Severities {
			h.Sessions.WithLabelValues(a.Name, sev.String()).Set(float64(a.Totals.BySeverity[sev]))
		}
		h.DiskBytes.WithLabelValues(a.Name, "active").Set(float64(a.Totals.ActiveBytes))
		h.DiskBytes.WithLabelValues(a.Name, "archived").Set(float64(a.Totals.ArchivedBytes))
		h.ReadFailures.WithLabelValues(a.Name).Set(float64(a.Totals.ReadFailures))
		h.MalformedLines.WithLabelValues(a.Name).Set(float64(a.Totals.MalformedLines))
	}

	incomplete := 0.0
	if report.Incomplete {
		incomplete = 1
	}
	h.ScanIncomplete.Set(incomplete)
	if !report.ScannedAt.IsZero() {
		h.ScanTimestamp.Set(float64(report.ScannedAt.Unix()))
	}
}

// WriteTextfile writes report in the Prometheus text format to path. The
// file is replaced atomically.
func WriteTextfile(report *model.FleetReport, path string) error {
	h := New()
	h.Observe(report)
	return prometheus.WriteToTextfile(path, h.Registry)
}
