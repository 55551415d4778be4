// Package usage computes storage and CDN usage totals from listing and
// metrics sources and reports them.
package usage

import (
	"context"
	"iter"

	"github.com/samber/lo"
	"github.com/zeebo/errs"

	"github.com/thannaske/storageusage/pkg/models"
)

var (
	// ErrSource is returned when a listing or metrics source fails.
	ErrSource = errs.Class("aggregation source")
	// ErrMalformedSeries is returned when a matching metric series carries no data points.
	ErrMalformedSeries = errs.Class("malformed metric series")
	// ErrConfig is returned for invalid aggregation inputs.
	ErrConfig = errs.Class("usage config")
)

// DefaultMetricName is the CDN metric summed when no other name is configured.
const DefaultMetricName = "TotalBytes"

// ObjectLister produces a lazy flat listing of the objects under a prefix.
// Each call starts a fresh listing.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string) iter.Seq2[models.ObjectDescriptor, error]
}

// MetricsSource fetches the metric series for a fixed resource and reporting window.
type MetricsSource interface {
	Metrics(ctx context.Context) ([]models.MetricSeriesEntry, error)
}

// ObjectSizeMB sums the content length of every object listed under prefix
// and returns the total in binary megabytes.
func ObjectSizeMB(ctx context.Context, lister ObjectLister, prefix string) (float64, error) {
	if lister == nil {
		return 0, ErrConfig.New("no object lister")
	}
	if prefix == "" {
		return 0, ErrConfig.New("prefix must not be empty")
	}

	var total int64
	for obj, err := range lister.ListObjects(ctx, prefix) {
		if err != nil {
			return 0, ErrSource.Wrap(err)
		}
		if obj.ContentLength < 0 {
			return 0, ErrSource.New("object %q reports negative content length %d", obj.Key, obj.ContentLength)
		}
		total += obj.ContentLength
	}

	return float64(total) / models.BytesPerMB, nil
}

// CDNUsageMB sums the first data point of every series named metricName and
// returns the total in binary megabytes.
func CDNUsageMB(ctx context.Context, source MetricsSource, metricName string) (float64, error) {
	if source == nil {
		return 0, ErrConfig.New("no metrics source")
	}
	if metricName == "" {
		return 0, ErrConfig.New("metric name must not be empty")
	}

	series, err := source.Metrics(ctx)
	if err != nil {
		return 0, ErrSource.Wrap(err)
	}

	matching := lo.Filter(series, func(s models.MetricSeriesEntry, _ int) bool {
		return s.Name == metricName
	})

	var total float64
	for i, s := range matching {
		// only the first bucket of the window is counted
		if len(s.DataPoints) == 0 {
			return 0, ErrMalformedSeries.New("series %d named %q has no data points", i, s.Name)
		}
		point := s.DataPoints[0]
		if point.Total < 0 {
			return 0, ErrMalformedSeries.New("series %d named %q reports negative total %v", i, s.Name, point.Total)
		}
		total += point.Total
	}

	return total / models.BytesPerMB, nil
}
