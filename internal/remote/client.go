// Package remote is the HTTP client for the Scriberr transcription
// service. All transport failures surface as NETWORK_ERROR; the
// client holds no connection state beyond the configured base URL
// and API key.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
)

// Job is a transcription job as the remote service reports it.
type Job struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	Status                string `json:"status"`
	CreatedAt             string `json:"created_at"`
	Transcript            string `json:"transcript"`
	Summary               string `json:"summary"`
	IndividualTranscripts string `json:"individual_transcripts"`
}

// Client talks to the Scriberr API.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient builds a client for the given Scriberr instance. An empty
// baseURL produces an unconfigured client; callers check Configured
// before uploading.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-API-Key", apiKey).
		SetTimeout(timeout)

	return &Client{http: http, baseURL: baseURL}
}

// Configured reports whether a Scriberr instance has been set up.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

func (c *Client) requireConfigured() error {
	if !c.Configured() {
		return apperrors.New(apperrors.ErrSyncNotConfigured, "Scriberr URL is not configured")
	}
	return nil
}

// Upload streams an audio file to the remote service and returns the
// job id it assigned.
func (c *Client) Upload(ctx context.Context, filePath, title string) (string, error) {
	if err := c.requireConfigured(); err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("audio", filePath).
		SetFormData(map[string]string{"title": title}).
		SetResult(&result).
		Post("/api/v1/transcription/upload")
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrNetwork, "upload request failed", err)
	}
	if !resp.IsSuccess() {
		return "", apperrors.New(apperrors.ErrNetwork,
			fmt.Sprintf("upload rejected: %s", resp.Status()))
	}
	if result.ID == "" {
		return "", apperrors.New(apperrors.ErrNetwork, "upload response carried no job id")
	}
	return result.ID, nil
}

// GetJob fetches one job's status and results.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if err := c.requireConfigured(); err != nil {
		return nil, err
	}

	var job Job
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&job).
		Get("/api/v1/transcription/jobs/" + jobID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "job status request failed", err)
	}
	if resp.StatusCode() == 404 {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("remote job not found: %s", jobID))
	}
	if !resp.IsSuccess() {
		return nil, apperrors.New(apperrors.ErrNetwork,
			fmt.Sprintf("job status request rejected: %s", resp.Status()))
	}
	return &job, nil
}

// ListJobs fetches the remote catalog.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	if err := c.requireConfigured(); err != nil {
		return nil, err
	}

	var jobs []Job
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&jobs).
		Get("/api/v1/transcription/jobs")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "job list request failed", err)
	}
	if !resp.IsSuccess() {
		return nil, apperrors.New(apperrors.ErrNetwork,
			fmt.Sprintf("job list request rejected: %s", resp.Status()))
	}
	return jobs, nil
}

// DeleteJob asks the remote service to delete a job. A 404 counts as
// success: the job being gone is the requested outcome.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/v1/transcription/jobs/" + jobID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "job delete request failed", err)
	}
	if !resp.IsSuccess() && resp.StatusCode() != 404 {
		return apperrors.New(apperrors.ErrNetwork,
			fmt.Sprintf("job delete rejected: %s", resp.Status()))
	}
	return nil
}

// AudioURL returns the streamable audio location for a job.
func (c *Client) AudioURL(jobID string) string {
	if c.baseURL == "" {
		return ""
	}
	return c.baseURL + "/api/v1/transcription/jobs/" + jobID + "/audio"
}

// Ping probes connectivity. It is a pure input to the sync engine;
// the client keeps no "online" flag of its own.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}

	resp, err := c.http.R().SetContext(ctx).Get("/api/v1/health")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "health probe failed", err)
	}
	if !resp.IsSuccess() {
		return apperrors.New(apperrors.ErrNetwork,
			fmt.Sprintf("health probe rejected: %s", resp.Status()))
	}
	return nil
}
