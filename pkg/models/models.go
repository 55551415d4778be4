package models

import (
	"time"
)

// BytesPerMB converts byte counts to binary megabytes
const BytesPerMB = 1024 * 1024

// ObjectDescriptor represents a single stored object returned by a listing source
type ObjectDescriptor struct {
	Key           string `json:"key"`
	ContentLength int64  `json:"content_length"`
}

// DataPoint is one bucket of a metric time series
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Total     float64   `json:"total"`
}

// MetricSeriesEntry represents one named metric series reported by a metrics source
type MetricSeriesEntry struct {
	Name       string      `json:"name"`
	DataPoints []DataPoint `json:"data_points"`
}

// UsageReport is the result of a single usage invocation
type UsageReport struct {
	ObjectSizeMB     float64   `json:"object_size_mb"`
	CDNUsageMB       float64   `json:"cdn_usage_mb"`
	ThresholdMB      float64   `json:"threshold_mb"`
	ExceedsThreshold bool      `json:"exceeds_threshold"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewUsageReport builds a report and derives the threshold flag
func NewUsageReport(objectSizeMB, cdnUsageMB, thresholdMB float64, ts time.Time) UsageReport {
	return UsageReport{
		ObjectSizeMB:     objectSizeMB,
		CDNUsageMB:       cdnUsageMB,
		ThresholdMB:      thresholdMB,
		ExceedsThreshold: objectSizeMB > thresholdMB,
		Timestamp:        ts,
	}
}

// StoredReport is a usage report persisted in the history database
type StoredReport struct {
	ID int64 `json:"id"`
	UsageReport
}

// MonthlyUsageAverage represents the averaged usage over a month
type MonthlyUsageAverage struct {
	Year            int     `json:"year"`
	Month           int     `json:"month"`
	AvgObjectSizeMB float64 `json:"avg_object_size_mb"`
	AvgCDNUsageMB   float64 `json:"avg_cdn_usage_mb"`
	MaxObjectSizeMB float64 `json:"max_object_size_mb"`
	Alerts          int     `json:"alerts"`
	DataPoints      int     `json:"data_points"`
}

// Listing backends
const (
	BackendAzure = "azure"
	BackendS3    = "s3"
)

// Config represents the application configuration
type Config struct {
	Backend string `json:"backend"`
	Prefix  string `json:"prefix"`

	Azure AzureConfig `json:"azure"`
	S3    S3Config    `json:"s3"`
	CDN   CDNConfig   `json:"cdn"`

	ThresholdMB float64 `json:"threshold_mb"`
	MetricName  string  `json:"metric_name"`

	DBPath      string `json:"db_path"`
	Schedule    string `json:"schedule"`
	MetricsAddr string `json:"metrics_addr"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
}

// AzureConfig holds the blob storage connection settings
type AzureConfig struct {
	ConnectionString string `json:"connection_string"`
	AccountURL       string `json:"account_url"`
	Container        string `json:"container"`
}

// S3Config holds the S3-compatible storage connection settings
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
}

// CDNConfig identifies the CDN endpoint whose metrics are queried
type CDNConfig struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	Profile        string `json:"profile"`
	Endpoint       string `json:"endpoint"`
	APIVersion     string `json:"api_version"`
	BaseURL        string `json:"base_url"`
}
