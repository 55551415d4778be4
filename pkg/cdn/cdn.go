// Package cdn reads CDN endpoint metrics from the Azure Resource Manager API.
package cdn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/samber/lo"
	"github.com/zeebo/errs"

	"github.com/thannaske/storageusage/pkg/models"
)

// Error is the error class for CDN metrics failures.
var Error = errs.Class("cdn metrics")

const (
	// ManagementScope is the token scope for the Resource Manager API.
	ManagementScope = "https://management.azure.com/.default"
	// DefaultBaseURL is the public Resource Manager endpoint.
	DefaultBaseURL = "https://management.azure.com"
	// DefaultAPIVersion is the Microsoft.Cdn API version that serves endpoint metrics.
	DefaultAPIVersion = "2020-09-01"
)

// Client fetches metrics of one CDN endpoint
type Client struct {
	cred       azcore.TokenCredential
	httpClient *http.Client
	cfg        models.CDNConfig
}

// NewClient creates a metrics client for the configured endpoint
func NewClient(cfg models.CDNConfig, cred azcore.TokenCredential) (*Client, error) {
	if cred == nil {
		return nil, Error.New("token credential must be provided")
	}
	missing := lo.Filter([]lo.Tuple2[string, string]{
		lo.T2("subscription id", cfg.SubscriptionID),
		lo.T2("resource group", cfg.ResourceGroup),
		lo.T2("profile", cfg.Profile),
		lo.T2("endpoint", cfg.Endpoint),
	}, func(field lo.Tuple2[string, string], _ int) bool {
		return field.B == ""
	})
	if len(missing) > 0 {
		names := lo.Map(missing, func(field lo.Tuple2[string, string], _ int) string { return field.A })
		return nil, Error.New("missing CDN %s", strings.Join(names, ", "))
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	return &Client{
		cred: cred,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg: cfg,
	}, nil
}

// metricsResponse is the Resource Manager metrics payload
type metricsResponse struct {
	Value []metricValue `json:"value"`
}

type metricValue struct {
	Name struct {
		Value          string `json:"value"`
		LocalizedValue string `json:"localizedValue"`
	} `json:"name"`
	Unit       string       `json:"unit"`
	Timeseries []timeseries `json:"timeseries"`
}

type timeseries struct {
	Data []struct {
		TimeStamp time.Time `json:"timeStamp"`
		Total     float64   `json:"total"`
	} `json:"data"`
}

// endpointURL builds the metrics URL of the configured CDN endpoint
func (c *Client) endpointURL() string {
	path := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Cdn/profiles/%s/endpoints/%s/metrics",
		url.PathEscape(c.cfg.SubscriptionID),
		url.PathEscape(c.cfg.ResourceGroup),
		url.PathEscape(c.cfg.Profile),
		url.PathEscape(c.cfg.Endpoint),
	)
	query := url.Values{}
	query.Set("api-version", c.cfg.APIVersion)

	return strings.TrimSuffix(c.cfg.BaseURL, "/") + path + "?" + query.Encode()
}

// Metrics fetches the endpoint metrics. Each returned entry carries the data
// points of its first time series.
func (c *Client) Metrics(ctx context.Context) ([]models.MetricSeriesEntry, error) {
	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{ManagementScope}})
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to acquire access token: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(), nil)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, Error.New("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var payload metricsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to decode response: %w", err))
	}

	entries := lo.Map(payload.Value, func(v metricValue, _ int) models.MetricSeriesEntry {
		entry := models.MetricSeriesEntry{Name: v.Name.Value}
		if len(v.Timeseries) > 0 {
			for _, d := range v.Timeseries[0].Data {
				entry.DataPoints = append(entry.DataPoints, models.DataPoint{Timestamp: d.TimeStamp, Total: d.Total})
			}
		}
		return entry
	})

	return entries, nil
}
