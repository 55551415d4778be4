package usage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thannaske/storageusage/pkg/models"
)

// DefaultThresholdMB is the folder size above which an alert is logged.
const DefaultThresholdMB = 500

// ReportHook receives every successfully produced report.
type ReportHook interface {
	HandleReport(ctx context.Context, report models.UsageReport) error
}

// FailureHook is implemented by hooks that also want to observe failed invocations.
type FailureHook interface {
	HandleFailure(ctx context.Context, err error)
}

// Options are the fixed inputs of a reporter.
type Options struct {
	Prefix string
	// MetricName defaults to DefaultMetricName when empty.
	MetricName string
	// ThresholdMB is used as given. A zero threshold alerts on any non-empty
	// folder; callers wanting the usual limit pass DefaultThresholdMB.
	ThresholdMB float64
}

// Reporter runs both aggregations and logs their results.
type Reporter struct {
	log     logrus.FieldLogger
	lister  ObjectLister
	metrics MetricsSource
	opts    Options
	hooks   []ReportHook
	nowFn   func() time.Time
}

// NewReporter creates a reporter over the given sources.
func NewReporter(log logrus.FieldLogger, lister ObjectLister, metrics MetricsSource, opts Options, hooks ...ReportHook) *Reporter {
	if opts.MetricName == "" {
		opts.MetricName = DefaultMetricName
	}
	return &Reporter{
		log:     log,
		lister:  lister,
		metrics: metrics,
		opts:    opts,
		hooks:   hooks,
		nowFn:   time.Now,
	}
}

// Run computes both totals, logs them and logs an alert when the object
// size exceeds the threshold. Nothing is logged when either aggregation fails.
func (r *Reporter) Run(ctx context.Context) (*models.UsageReport, error) {
	var objectSizeMB, cdnUsageMB float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		objectSizeMB, err = ObjectSizeMB(gctx, r.lister, r.opts.Prefix)
		return err
	})
	g.Go(func() (err error) {
		cdnUsageMB, err = CDNUsageMB(gctx, r.metrics, r.opts.MetricName)
		return err
	})
	if err := g.Wait(); err != nil {
		r.notifyFailure(ctx, err)
		return nil, err
	}

	report := models.NewUsageReport(objectSizeMB, cdnUsageMB, r.opts.ThresholdMB, r.nowFn().UTC())

	r.log.Infof("Folder Size: %v MB", report.ObjectSizeMB)
	r.log.Infof("CDN Usage: %v MB", report.CDNUsageMB)
	if report.ExceedsThreshold {
		r.log.WithField("prefix", r.opts.Prefix).Warnf("ALERT: Folder size exceeded %v MB!", report.ThresholdMB)
	}

	for _, hook := range r.hooks {
		if err := hook.HandleReport(ctx, report); err != nil {
			r.log.WithError(err).Error("report hook failed")
		}
	}

	return &report, nil
}

func (r *Reporter) notifyFailure(ctx context.Context, err error) {
	for _, hook := range r.hooks {
		if fh, ok := hook.(FailureHook); ok {
			fh.HandleFailure(ctx, err)
		}
	}
}
