package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thannaske/storageusage/pkg/config"
	"github.com/thannaske/storageusage/pkg/logging"
	"github.com/thannaske/storageusage/pkg/metrics"
	"github.com/thannaske/storageusage/pkg/models"
)

var runNow bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Report usage on a schedule",
	Long: `Run the usage report on a cron schedule until interrupted. Ticks that
fire while a report is still in progress are skipped. With --metrics-addr the
latest report is exposed as Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}

		log, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, logrus.Fields{"command": "run"})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		database, err := openDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		defer database.Close()

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		exporter := metrics.NewExporter(registry)

		reporter, err := newReporter(ctx, log, cfg, database, exporter)
		if err != nil {
			return err
		}

		job := newScheduledJob(ctx, log, reporter, func(ts time.Time) {
			updateMonthlyAverage(log, database, ts)
		})

		scheduler := cron.New()
		if err := scheduler.AddFunc(cfg.Schedule, job.run); err != nil {
			return config.Error.New("invalid schedule %q: %v", cfg.Schedule, err)
		}

		if cfg.MetricsAddr != "" {
			srv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           metricsHandler(registry),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				log.Infof("serving metrics on %s", cfg.MetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("metrics server failed")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		log.WithField("schedule", cfg.Schedule).Info("starting scheduler")
		scheduler.Start()
		defer scheduler.Stop()

		if runNow {
			go job.run()
		}

		<-ctx.Done()
		log.Info("shutting down")
		job.wait()
		return nil
	},
}

// reportRunner produces one usage report per call
type reportRunner interface {
	Run(ctx context.Context) (*models.UsageReport, error)
}

// scheduledJob runs the reporter for cron ticks, one invocation at a time
type scheduledJob struct {
	ctx      context.Context
	log      logrus.FieldLogger
	reporter reportRunner
	after    func(ts time.Time)

	mu sync.Mutex
}

func newScheduledJob(ctx context.Context, log logrus.FieldLogger, reporter reportRunner, after func(ts time.Time)) *scheduledJob {
	return &scheduledJob{ctx: ctx, log: log, reporter: reporter, after: after}
}

func (j *scheduledJob) run() {
	if !j.mu.TryLock() {
		j.log.Warn("previous report still running, skipping tick")
		return
	}
	defer j.mu.Unlock()

	if j.ctx.Err() != nil {
		return
	}

	report, err := j.reporter.Run(j.ctx)
	if err != nil {
		j.log.WithError(err).Error("usage report failed")
		return
	}
	if j.after != nil {
		j.after(report.Timestamp)
	}
}

// wait blocks until an in-flight report finishes
func (j *scheduledJob) wait() {
	j.mu.Lock()
	j.mu.Unlock()
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String(config.KeySchedule, config.DefaultSchedule, "cron schedule of the report")
	runCmd.Flags().String(config.KeyMetricsAddr, "", "address to serve Prometheus metrics on, e.g. :9090")
	runCmd.Flags().BoolVar(&runNow, "now", false, "run a report immediately after starting")
}
