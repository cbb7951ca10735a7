// Package provider is the HTTP client for the external scraping service:
// job submission and dataset retrieval. The provider is slow and rate
// limited, so every call goes through a token bucket sized from
// configuration, and all calls carry the request context.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

const defaultTimeout = 30 * time.Second

// Config holds provider client configuration.
type Config struct {
	Logger *slog.Logger

	// BaseURL is the provider API root, e.g. "https://api.scraper.example".
	BaseURL string
	// Token is the bearer token sent on every request.
	Token string
	// WebhookURL is the publicly reachable callback the provider notifies
	// when a job finishes.
	WebhookURL string
	// SearchTemplate shapes the raw query into the provider's search text,
	// e.g. "%s online course tutorial". An empty template submits the query
	// as-is.
	SearchTemplate string
	// Timeout bounds each HTTP call.
	Timeout time.Duration
	// RequestsPerSecond and Burst size the client-side token bucket.
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the scraping provider.
type Client struct {
	logger     *slog.Logger
	baseURL    string
	token      string
	webhookURL string
	template   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a provider client with a shared HTTP client and rate
// limiter.
func NewClient(cfg *Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		webhookURL: cfg.WebhookURL,
		template:   cfg.SearchTemplate,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// FormatQuery applies the search template to a raw query.
func (c *Client) FormatQuery(query string) string {
	if c.template == "" || !strings.Contains(c.template, "%s") {
		return query
	}
	return fmt.Sprintf(c.template, query)
}

type submitRequest struct {
	Query      string `json:"query"`
	WebhookURL string `json:"webhookUrl"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

// SubmitJob asks the provider to start a scraping job for the query and
// returns the job id it assigns. The provider reports completion later via
// the webhook URL.
func (c *Client) SubmitJob(ctx context.Context, query string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", domain.NewSubmitError(0, err)
	}

	payload, err := json.Marshal(submitRequest{
		Query:      c.FormatQuery(query),
		WebhookURL: c.webhookURL,
	})
	if err != nil {
		return "", domain.NewSubmitError(0, err)
	}

	endpoint := c.baseURL + "/v2/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", domain.NewSubmitError(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.NewSubmitError(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewSubmitError(resp.StatusCode, fmt.Errorf("unexpected response: %s", readSnippet(resp.Body)))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.NewSubmitError(resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	if out.JobID == "" {
		return "", domain.NewSubmitError(resp.StatusCode, fmt.Errorf("response carried no job id"))
	}

	c.logger.Debug("Provider accepted search job",
		slog.String("job_id", out.JobID),
	)
	return out.JobID, nil
}

// FetchDataset retrieves the raw result items of a finished job's dataset.
func (c *Client) FetchDataset(ctx context.Context, datasetID string) ([]map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewFetchError(0, err)
	}

	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items", c.baseURL, datasetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewFetchError(0, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewFetchError(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewFetchError(resp.StatusCode, fmt.Errorf("unexpected response: %s", readSnippet(resp.Body)))
	}

	var items []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, domain.NewFetchError(resp.StatusCode, fmt.Errorf("failed to decode dataset: %w", err))
	}

	c.logger.Debug("Fetched provider dataset",
		slog.String("dataset_id", datasetID),
		slog.Int("items", len(items)),
	)
	return items, nil
}

// readSnippet returns a short prefix of a response body for error messages.
func readSnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return "<empty body>"
	}
	return strings.TrimSpace(string(b))
}
