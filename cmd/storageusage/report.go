package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thannaske/storageusage/pkg/blob"
	"github.com/thannaske/storageusage/pkg/cdn"
	"github.com/thannaske/storageusage/pkg/config"
	"github.com/thannaske/storageusage/pkg/db"
	"github.com/thannaske/storageusage/pkg/logging"
	"github.com/thannaske/storageusage/pkg/models"
	"github.com/thannaske/storageusage/pkg/usage"
)

var noHistory bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report folder size and CDN usage once",
	Long: `Sum the blob sizes under the configured prefix and the CDN usage of the
configured endpoint, log both totals and store the report in the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}

		log, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, logrus.Fields{"command": "report"})
		if err != nil {
			return err
		}

		var hooks []usage.ReportHook
		var database *db.DB
		if !noHistory {
			database, err = openDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer database.Close()
			hooks = append(hooks, database)
		}

		reporter, err := newReporter(cmd.Context(), log, cfg, hooks...)
		if err != nil {
			return err
		}

		report, err := reporter.Run(cmd.Context())
		if err != nil {
			return err
		}

		if database != nil {
			updateMonthlyAverage(log, database, report.Timestamp)
		}
		return nil
	},
}

// openDB connects to the history database and creates missing tables
func openDB(path string) (*db.DB, error) {
	database, err := db.NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := database.InitDB(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// updateMonthlyAverage refreshes the average of the month a report belongs to
func updateMonthlyAverage(log logrus.FieldLogger, database *db.DB, ts time.Time) {
	if err := database.CalculateMonthlyAverages(ts.Year(), int(ts.Month())); err != nil {
		log.WithError(err).Warn("failed to update monthly average")
	}
}

// newCredential returns the default Azure credential chain
func newCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}

// newLister builds the listing source of the configured backend
func newLister(ctx context.Context, cfg models.Config, cred azcore.TokenCredential) (usage.ObjectLister, error) {
	switch cfg.Backend {
	case models.BackendS3:
		return blob.NewS3Lister(ctx, cfg.S3)
	case models.BackendAzure:
		return blob.NewAzureLister(cfg.Azure, cred)
	default:
		return nil, config.Error.New("unknown backend %q", cfg.Backend)
	}
}

// newReporter wires the configured sources into a reporter
func newReporter(ctx context.Context, log logrus.FieldLogger, cfg models.Config, hooks ...usage.ReportHook) (*usage.Reporter, error) {
	cred, err := newCredential()
	if err != nil {
		return nil, err
	}

	lister, err := newLister(ctx, cfg, cred)
	if err != nil {
		return nil, err
	}

	metricsSource, err := cdn.NewClient(cfg.CDN, cred)
	if err != nil {
		return nil, err
	}

	return usage.NewReporter(
		log,
		lister,
		metricsSource,
		usage.Options{
			Prefix:      cfg.Prefix,
			MetricName:  cfg.MetricName,
			ThresholdMB: cfg.ThresholdMB,
		},
		hooks...,
	), nil
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not store the report in the database")
}
