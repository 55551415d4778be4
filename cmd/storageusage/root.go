package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thannaske/storageusage/pkg/config"
	"github.com/thannaske/storageusage/pkg/models"
)

var (
	cfgFile string
	cfg     models.Config
	v       = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "storageusage",
	Short: "Blob storage and CDN usage monitor",
	Long: `A CLI tool that sums the size of the blobs under a prefix and the
bandwidth reported by a CDN endpoint, logs both totals and raises an alert
when the stored size exceeds a threshold. Reports are kept in a SQLite
database to provide monthly averages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Read(v, cmd.Flags(), cfgFile); err != nil {
			return err
		}
		cfg = config.FromViper(v)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.storageusage.yaml)")
	flags.String(config.KeyBackend, models.BackendAzure, "listing backend: azure or s3")
	flags.String(config.KeyPrefix, "", "key prefix of the folder to measure")

	flags.String(config.KeyAzureConnString, "", "Azure storage connection string")
	flags.String(config.KeyAzureAccountURL, "", "Azure blob service URL, used with the default Azure credential")
	flags.String(config.KeyAzureContainer, "", "Azure blob container")

	flags.String(config.KeyS3Endpoint, "", "S3 endpoint URL (empty for AWS)")
	flags.String(config.KeyS3AccessKey, "", "S3 access key")
	flags.String(config.KeyS3SecretKey, "", "S3 secret key")
	flags.String(config.KeyS3Region, "us-east-1", "S3 region")
	flags.String(config.KeyS3Bucket, "", "S3 bucket")

	flags.String(config.KeyCDNSubscription, "", "Azure subscription ID of the CDN profile")
	flags.String(config.KeyCDNResourceGroup, "", "resource group of the CDN profile")
	flags.String(config.KeyCDNProfile, "", "CDN profile name")
	flags.String(config.KeyCDNEndpoint, "", "CDN endpoint name")
	flags.String(config.KeyCDNAPIVersion, "", "Microsoft.Cdn API version")
	flags.String(config.KeyCDNBaseURL, "", "Resource Manager base URL")

	flags.Float64(config.KeyThresholdMB, 0, "alert when the folder size exceeds this many MB (default 500)")
	flags.String(config.KeyMetricName, "", "CDN metric to sum (default TotalBytes)")
	flags.String(config.KeyDB, config.DefaultDBPath(), "SQLite database path")
	flags.String(config.KeyLogLevel, "info", "log level")
	flags.String(config.KeyLogFormat, "text", "log format: text or json")
}
