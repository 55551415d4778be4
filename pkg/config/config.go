// Package config loads the application configuration from flags, the
// environment and an optional config file.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"

	"github.com/thannaske/storageusage/pkg/cdn"
	"github.com/thannaske/storageusage/pkg/models"
	"github.com/thannaske/storageusage/pkg/usage"
)

// Error is the error class for configuration problems
var Error = errs.Class("config")

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "STORAGEUSAGE"

// Keys shared by flags, environment and config file
const (
	KeyBackend          = "backend"
	KeyPrefix           = "prefix"
	KeyAzureConnString  = "azure-connection-string"
	KeyAzureAccountURL  = "azure-account-url"
	KeyAzureContainer   = "azure-container"
	KeyS3Endpoint       = "s3-endpoint"
	KeyS3AccessKey      = "s3-access-key"
	KeyS3SecretKey      = "s3-secret-key"
	KeyS3Region         = "s3-region"
	KeyS3Bucket         = "s3-bucket"
	KeyCDNSubscription  = "cdn-subscription-id"
	KeyCDNResourceGroup = "cdn-resource-group"
	KeyCDNProfile       = "cdn-profile"
	KeyCDNEndpoint      = "cdn-endpoint"
	KeyCDNAPIVersion    = "cdn-api-version"
	KeyCDNBaseURL       = "cdn-base-url"
	KeyThresholdMB      = "threshold-mb"
	KeyMetricName       = "metric-name"
	KeyDB               = "db"
	KeySchedule         = "schedule"
	KeyMetricsAddr      = "metrics-addr"
	KeyLogLevel         = "log-level"
	KeyLogFormat        = "log-format"
)

// DefaultSchedule runs the report once an hour
const DefaultSchedule = "@every 1h"

// legacyEnv maps keys to additional environment variables that are honored
// besides the prefixed ones
var legacyEnv = map[string][]string{
	KeyS3Endpoint:      {"S3_ENDPOINT"},
	KeyS3AccessKey:     {"S3_ACCESS_KEY"},
	KeyS3SecretKey:     {"S3_SECRET_KEY"},
	KeyS3Region:        {"S3_REGION"},
	KeyDB:              {"S3_DB_PATH"},
	KeyAzureConnString: {"AZURE_STORAGE_CONNECTION_STRING"},
	KeyCDNSubscription: {"AZURE_SUBSCRIPTION_ID"},
}

// DefaultDBPath returns the history database location in the home directory
func DefaultDBPath() string {
	return filepath.Join(os.Getenv("HOME"), ".storageusage.db")
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, models.BackendAzure)
	v.SetDefault(KeyS3Region, "us-east-1")
	v.SetDefault(KeyCDNAPIVersion, cdn.DefaultAPIVersion)
	v.SetDefault(KeyCDNBaseURL, cdn.DefaultBaseURL)
	v.SetDefault(KeyThresholdMB, usage.DefaultThresholdMB)
	v.SetDefault(KeyMetricName, usage.DefaultMetricName)
	v.SetDefault(KeyDB, DefaultDBPath())
	v.SetDefault(KeySchedule, DefaultSchedule)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// Read binds flags and environment variables and reads the config file. An
// empty cfgFile falls back to $HOME/.storageusage.yaml when it exists.
func Read(v *viper.Viper, flags *pflag.FlagSet, cfgFile string) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	SetDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Error.Wrap(err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Error.Wrap(err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Error.Wrap(err)
		}
		return nil
	}

	v.SetConfigName(".storageusage")
	v.SetConfigType("yaml")
	v.AddConfigPath(os.Getenv("HOME"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Error.Wrap(err)
		}
	}
	return nil
}

// FromViper builds the configuration from the bound values
func FromViper(v *viper.Viper) models.Config {
	return models.Config{
		Backend: strings.ToLower(strings.TrimSpace(v.GetString(KeyBackend))),
		Prefix:  v.GetString(KeyPrefix),
		Azure: models.AzureConfig{
			ConnectionString: v.GetString(KeyAzureConnString),
			AccountURL:       v.GetString(KeyAzureAccountURL),
			Container:        v.GetString(KeyAzureContainer),
		},
		S3: models.S3Config{
			Endpoint:  v.GetString(KeyS3Endpoint),
			AccessKey: v.GetString(KeyS3AccessKey),
			SecretKey: v.GetString(KeyS3SecretKey),
			Region:    v.GetString(KeyS3Region),
			Bucket:    v.GetString(KeyS3Bucket),
		},
		CDN: models.CDNConfig{
			SubscriptionID: v.GetString(KeyCDNSubscription),
			ResourceGroup:  v.GetString(KeyCDNResourceGroup),
			Profile:        v.GetString(KeyCDNProfile),
			Endpoint:       v.GetString(KeyCDNEndpoint),
			APIVersion:     v.GetString(KeyCDNAPIVersion),
			BaseURL:        v.GetString(KeyCDNBaseURL),
		},
		ThresholdMB: v.GetFloat64(KeyThresholdMB),
		MetricName:  v.GetString(KeyMetricName),
		DBPath:      v.GetString(KeyDB),
		Schedule:    v.GetString(KeySchedule),
		MetricsAddr: v.GetString(KeyMetricsAddr),
		LogLevel:    v.GetString(KeyLogLevel),
		LogFormat:   v.GetString(KeyLogFormat),
	}
}

// Validate checks that a configuration can produce a usage report
func Validate(cfg models.Config) error {
	var group errs.Group

	if cfg.Prefix == "" {
		group.Add(Error.New("--%s is required", KeyPrefix))
	}

	switch cfg.Backend {
	case models.BackendAzure:
		if cfg.Azure.Container == "" {
			group.Add(Error.New("--%s is required for the azure backend", KeyAzureContainer))
		}
		if cfg.Azure.ConnectionString == "" && cfg.Azure.AccountURL == "" {
			group.Add(Error.New("--%s or --%s is required for the azure backend", KeyAzureConnString, KeyAzureAccountURL))
		}
	case models.BackendS3:
		if cfg.S3.Bucket == "" {
			group.Add(Error.New("--%s is required for the s3 backend", KeyS3Bucket))
		}
	default:
		group.Add(Error.New("unknown backend %q, expected %s or %s", cfg.Backend, models.BackendAzure, models.BackendS3))
	}

	for _, required := range []lo.Tuple2[string, string]{
		lo.T2(KeyCDNSubscription, cfg.CDN.SubscriptionID),
		lo.T2(KeyCDNResourceGroup, cfg.CDN.ResourceGroup),
		lo.T2(KeyCDNProfile, cfg.CDN.Profile),
		lo.T2(KeyCDNEndpoint, cfg.CDN.Endpoint),
	} {
		if required.B == "" {
			group.Add(Error.New("--%s is required", required.A))
		}
	}

	if cfg.ThresholdMB < 0 {
		group.Add(Error.New("--%s must not be negative", KeyThresholdMB))
	}
	if cfg.MetricName == "" {
		group.Add(Error.New("--%s must not be empty", KeyMetricName))
	}

	return group.Err()
}
