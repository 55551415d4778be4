package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/thannaske/storageusage/pkg/models"
)

var (
	year  int
	month int
	days  int
)

// formatSize converts a megabyte value to a human-readable format
func formatSize(mb float64) string {
	const (
		_          = iota
		KB float64 = 1 << (10 * iota)
		MB
		GB
		TB
		PB
	)

	bytes := mb * MB
	unit := ""
	value := bytes

	switch {
	case bytes >= PB:
		unit = "PB"
		value = bytes / PB
	case bytes >= TB:
		unit = "TB"
		value = bytes / TB
	case bytes >= GB:
		unit = "GB"
		value = bytes / GB
	case bytes >= MB:
		unit = "MB"
		value = bytes / MB
	case bytes >= KB:
		unit = "KB"
		value = bytes / KB
	default:
		unit = "bytes"
	}

	if unit == "bytes" {
		return fmt.Sprintf("%.0f %s", value, unit)
	}
	return fmt.Sprintf("%.2f %s", value, unit)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List monthly usage averages",
	Long:  `Display monthly average folder size and CDN usage from the stored reports.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if month < 0 || month > 12 {
			return fmt.Errorf("month must be between 1 and 12")
		}

		database, err := openDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		defer database.Close()

		var averages []models.MonthlyUsageAverage
		if year != 0 || month != 0 {
			// If only one of year/month is given, fill in the other from today
			now := time.Now()
			if year == 0 {
				year = now.Year()
			}
			if month == 0 {
				month = int(now.Month())
			}

			if err := database.CalculateMonthlyAverages(year, month); err != nil {
				return fmt.Errorf("error calculating monthly average: %w", err)
			}
			avg, err := database.GetMonthlyAverage(year, month)
			if err != nil {
				fmt.Printf("No data available for %d-%02d\n", year, month)
				return nil
			}
			averages = append(averages, *avg)
		} else {
			averages, err = database.GetMonthlyAverages()
			if err != nil {
				return fmt.Errorf("error retrieving monthly averages: %w", err)
			}
		}

		if len(averages) == 0 {
			fmt.Println("No monthly averages available")
			return nil
		}

		printAverages(os.Stdout, averages)
		return nil
	},
}

func printAverages(out io.Writer, averages []models.MonthlyUsageAverage) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "Month\tAvg Folder Size\tMax Folder Size\tAvg CDN Usage\tAlerts\tSamples")
	fmt.Fprintln(w, "-----\t---------------\t---------------\t-------------\t------\t-------")

	for _, avg := range averages {
		fmt.Fprintf(w, "%d-%02d\t%s\t%s\t%s\t%d\t%d\n",
			avg.Year, avg.Month,
			formatSize(avg.AvgObjectSizeMB),
			formatSize(avg.MaxObjectSizeMB),
			formatSize(avg.AvgCDNUsageMB),
			avg.Alerts,
			avg.DataPoints,
		)
	}
	w.Flush()
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored usage reports",
	Long:  `Display the individual usage reports stored over the last days.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if days <= 0 {
			return fmt.Errorf("days must be positive")
		}

		database, err := openDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		defer database.Close()

		endTime := time.Now().UTC()
		startTime := endTime.AddDate(0, 0, -days)

		reports, err := database.GetReports(startTime, endTime)
		if err != nil {
			return fmt.Errorf("error retrieving usage history: %w", err)
		}

		if len(reports) == 0 {
			fmt.Printf("No usage reports in the last %d days\n", days)
			return nil
		}

		printReports(os.Stdout, reports)
		return nil
	},
}

func printReports(out io.Writer, reports []models.StoredReport) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "Date\tFolder Size\tCDN Usage\tAlert")
	fmt.Fprintln(w, "----\t-----------\t---------\t-----")

	for _, r := range reports {
		alert := ""
		if r.ExceedsThreshold {
			alert = fmt.Sprintf("> %s", formatSize(r.ThresholdMB))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"),
			formatSize(r.ObjectSizeMB),
			formatSize(r.CDNUsageMB),
			alert,
		)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)

	listCmd.Flags().IntVar(&year, "year", 0, "Year to query (default: current year)")
	listCmd.Flags().IntVar(&month, "month", 0, "Month to query (1-12, default: current month)")
	historyCmd.Flags().IntVar(&days, "days", 30, "Number of days to show")
}
