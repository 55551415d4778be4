// Package metrics exposes the latest usage report as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thannaske/storageusage/pkg/models"
	"github.com/thannaske/storageusage/pkg/usage"
)

const namespace = "storageusage"

// Exporter is a reporter hook that records every report in Prometheus collectors.
type Exporter struct {
	objectSize  prometheus.Gauge
	cdnUsage    prometheus.Gauge
	threshold   prometheus.Gauge
	exceeds     prometheus.Gauge
	lastSuccess prometheus.Gauge
	runs        *prometheus.CounterVec
}

// NewExporter creates the collectors and registers them with reg.
func NewExporter(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		objectSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "object_size_megabytes",
			Help:      "Total size of the objects under the configured prefix in binary megabytes.",
		}),
		cdnUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cdn_usage_megabytes",
			Help:      "CDN usage of the configured metric in binary megabytes.",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_megabytes",
			Help:      "Configured object size alert threshold in binary megabytes.",
		}),
		exceeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_exceeded",
			Help:      "1 when the last report exceeded the object size threshold.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful report.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Number of report invocations by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(e.objectSize, e.cdnUsage, e.threshold, e.exceeds, e.lastSuccess, e.runs)
	return e
}

// HandleReport records a successful report.
func (e *Exporter) HandleReport(ctx context.Context, report models.UsageReport) error {
	e.objectSize.Set(report.ObjectSizeMB)
	e.cdnUsage.Set(report.CDNUsageMB)
	e.threshold.Set(report.ThresholdMB)
	if report.ExceedsThreshold {
		e.exceeds.Set(1)
	} else {
		e.exceeds.Set(0)
	}
	e.lastSuccess.Set(float64(report.Timestamp.Unix()))
	e.runs.WithLabelValues("success").Inc()
	return nil
}

// HandleFailure counts a failed invocation by error class.
func (e *Exporter) HandleFailure(ctx context.Context, err error) {
	e.runs.WithLabelValues(failureResult(err)).Inc()
}

func failureResult(err error) string {
	switch {
	case usage.ErrMalformedSeries.Has(err):
		return "malformed_series"
	case usage.ErrSource.Has(err):
		return "source_error"
	default:
		return "error"
	}
}
