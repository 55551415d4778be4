package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"

	"github.com/thannaske/storageusage/pkg/models"
)

// Error is the error class for history database failures
var Error = errs.Class("history db")

// DB represents the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}

	return &DB{db}, nil
}

// InitDB initializes the database tables
func (db *DB) InitDB() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			object_size_mb REAL NOT NULL,
			cdn_usage_mb REAL NOT NULL,
			threshold_mb REAL NOT NULL,
			exceeds_threshold INTEGER NOT NULL,
			timestamp DATETIME NOT NULL
		)
	`)
	if err != nil {
		return Error.Wrap(err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS monthly_averages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			year INTEGER NOT NULL,
			month INTEGER NOT NULL,
			avg_object_size_mb REAL NOT NULL,
			avg_cdn_usage_mb REAL NOT NULL,
			max_object_size_mb REAL NOT NULL,
			alerts INTEGER NOT NULL,
			data_points INTEGER NOT NULL,
			UNIQUE(year, month)
		)
	`)
	if err != nil {
		return Error.Wrap(err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_usage_reports_time
		ON usage_reports(timestamp)
	`)
	return Error.Wrap(err)
}

// StoreReport stores a usage report and returns its row ID
func (db *DB) StoreReport(ctx context.Context, report models.UsageReport) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO usage_reports (object_size_mb, cdn_usage_mb, threshold_mb, exceeds_threshold, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, report.ObjectSizeMB, report.CDNUsageMB, report.ThresholdMB, report.ExceedsThreshold, report.Timestamp.UTC())
	if err != nil {
		return 0, Error.Wrap(err)
	}
	id, err := res.LastInsertId()
	return id, Error.Wrap(err)
}

// HandleReport persists every report produced by the reporter
func (db *DB) HandleReport(ctx context.Context, report models.UsageReport) error {
	_, err := db.StoreReport(ctx, report)
	return err
}

// GetReports retrieves the reports stored between startTime and endTime
func (db *DB) GetReports(startTime, endTime time.Time) ([]models.StoredReport, error) {
	rows, err := db.Query(`
		SELECT id, object_size_mb, cdn_usage_mb, threshold_mb, exceeds_threshold, timestamp
		FROM usage_reports
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp
	`, startTime.UTC(), endTime.UTC())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	var reports []models.StoredReport
	for rows.Next() {
		var r models.StoredReport
		if err := rows.Scan(&r.ID, &r.ObjectSizeMB, &r.CDNUsageMB, &r.ThresholdMB, &r.ExceedsThreshold, &r.Timestamp); err != nil {
			return nil, Error.Wrap(err)
		}
		reports = append(reports, r)
	}

	if err = rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	return reports, nil
}

// monthRange returns the half-open [start, end) bounds of a calendar month in UTC.
// Timestamps are stored as text with fractional seconds, so the upper bound
// must be the next month's start rather than the month's last second.
func monthRange(year, month int) (start, end time.Time) {
	start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// CalculateMonthlyAverages calculates the averages of the reports stored in the given month
func (db *DB) CalculateMonthlyAverages(year, month int) error {
	start, end := monthRange(year, month)

	var (
		avgSize, avgCDN, maxSize sql.NullFloat64
		alerts                   sql.NullInt64
		dataPoints               int
	)
	err := db.QueryRow(`
		SELECT AVG(object_size_mb), AVG(cdn_usage_mb), MAX(object_size_mb), SUM(exceeds_threshold), COUNT(*)
		FROM usage_reports
		WHERE timestamp >= ? AND timestamp < ?
	`, start, end).Scan(&avgSize, &avgCDN, &maxSize, &alerts, &dataPoints)
	if err != nil {
		return Error.Wrap(err)
	}

	if dataPoints == 0 {
		return nil
	}

	_, err = db.Exec(`
		INSERT INTO monthly_averages
		(year, month, avg_object_size_mb, avg_cdn_usage_mb, max_object_size_mb, alerts, data_points)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(year, month)
		DO UPDATE SET
			avg_object_size_mb = excluded.avg_object_size_mb,
			avg_cdn_usage_mb = excluded.avg_cdn_usage_mb,
			max_object_size_mb = excluded.max_object_size_mb,
			alerts = excluded.alerts,
			data_points = excluded.data_points
	`, year, month, avgSize.Float64, avgCDN.Float64, maxSize.Float64, alerts.Int64, dataPoints)
	return Error.Wrap(err)
}

// GetMonthlyAverage gets the monthly average for a specific month
func (db *DB) GetMonthlyAverage(year, month int) (*models.MonthlyUsageAverage, error) {
	var avg models.MonthlyUsageAverage
	err := db.QueryRow(`
		SELECT year, month, avg_object_size_mb, avg_cdn_usage_mb, max_object_size_mb, alerts, data_points
		FROM monthly_averages
		WHERE year = ? AND month = ?
	`, year, month).Scan(
		&avg.Year, &avg.Month,
		&avg.AvgObjectSizeMB, &avg.AvgCDNUsageMB, &avg.MaxObjectSizeMB,
		&avg.Alerts, &avg.DataPoints,
	)
	if err == sql.ErrNoRows {
		return nil, Error.New("no data available for %d-%02d", year, month)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &avg, nil
}

// GetMonthlyAverages gets every stored monthly average, newest first
func (db *DB) GetMonthlyAverages() ([]models.MonthlyUsageAverage, error) {
	rows, err := db.Query(`
		SELECT year, month, avg_object_size_mb, avg_cdn_usage_mb, max_object_size_mb, alerts, data_points
		FROM monthly_averages
		ORDER BY year DESC, month DESC
	`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	var averages []models.MonthlyUsageAverage
	for rows.Next() {
		var avg models.MonthlyUsageAverage
		if err := rows.Scan(
			&avg.Year, &avg.Month,
			&avg.AvgObjectSizeMB, &avg.AvgCDNUsageMB, &avg.MaxObjectSizeMB,
			&avg.Alerts, &avg.DataPoints,
		); err != nil {
			return nil, Error.Wrap(err)
		}
		averages = append(averages, avg)
	}

	if err = rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	return averages, nil
}

// PruneOldData deletes the individual reports of every month that lies before
// the month of now and already has a monthly average row. It returns the number
// of deleted reports.
func (db *DB) PruneOldData(now time.Time) (int64, error) {
	now = now.UTC()

	tx, err := db.Begin()
	if err != nil {
		return 0, Error.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	// months are compared as year*12+month so the current month is excluded in SQL
	rows, err := tx.Query(`
		SELECT year, month
		FROM monthly_averages
		WHERE year * 12 + month < ?
	`, now.Year()*12+int(now.Month()))
	if err != nil {
		return 0, Error.Wrap(err)
	}

	type yearMonth struct{ year, month int }
	var months []yearMonth
	for rows.Next() {
		var ym yearMonth
		if err := rows.Scan(&ym.year, &ym.month); err != nil {
			_ = rows.Close()
			return 0, Error.Wrap(err)
		}
		months = append(months, ym)
	}
	if err := errs.Combine(rows.Err(), rows.Close()); err != nil {
		return 0, Error.Wrap(err)
	}

	var deleted int64
	for _, ym := range months {
		start, end := monthRange(ym.year, ym.month)
		res, err := tx.Exec(`DELETE FROM usage_reports WHERE timestamp >= ? AND timestamp < ?`, start, end)
		if err != nil {
			return 0, Error.New("prune %d-%02d: %v", ym.year, ym.month, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, Error.Wrap(err)
		}
		deleted += n
	}

	return deleted, Error.Wrap(tx.Commit())
}
