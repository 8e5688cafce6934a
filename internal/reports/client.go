// Package reports is the HTTP client for the report generation
// service. Generation is the slow phase of an execution cycle, so the
// client leans on the caller's context for its deadline.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/karlennis/fi-email-automation-sub000/internal/executor"
)

type Client struct {
	endpoint string
	client   *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

func NewClient(endpoint string, opts ...Option) *Client {
	cl := &Client{
		endpoint: endpoint,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

type generateRequest struct {
	JobID       string   `json:"jobId"`
	ReportTypes []string `json:"reportTypes"`
	ProjectIDs  []string `json:"projectIds,omitempty"`
	Template    string   `json:"template,omitempty"`
	Subject     string   `json:"subject,omitempty"`
}

type generateResponse struct {
	ReportIDs     []string `json:"reportIds"`
	ArtifactPaths []string `json:"artifactPaths"`
	PreviewHTML   string   `json:"previewHtml"`
	Error         string   `json:"error,omitempty"`
}

// Generate asks the report service to produce artifacts for a job.
// Failures here are external collaborator failures: the caller records
// them against the cycle without retrying within it.
func (c *Client) Generate(ctx context.Context, req executor.GenerateRequest) (executor.GenerateResult, error) {
	body, err := json.Marshal(generateRequest{
		JobID:       req.JobID.String(),
		ReportTypes: req.ReportTypes,
		ProjectIDs:  req.ProjectIDs,
		Template:    req.Config.EmailTemplate,
		Subject:     req.Config.CustomSubject,
	})
	if err != nil {
		return executor.GenerateResult{}, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/generate", bytes.NewReader(body))
	if err != nil {
		return executor.GenerateResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return executor.GenerateResult{}, fmt.Errorf("report service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return executor.GenerateResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var decoded generateResponse
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Error != "" {
			return executor.GenerateResult{}, fmt.Errorf("report service returned status %d: %s", resp.StatusCode, decoded.Error)
		}
		return executor.GenerateResult{}, fmt.Errorf("report service returned status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return executor.GenerateResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.ReportIDs) == 0 {
		return executor.GenerateResult{}, fmt.Errorf("report service returned no reports")
	}

	return executor.GenerateResult{
		ReportIDs:     decoded.ReportIDs,
		ArtifactPaths: decoded.ArtifactPaths,
		PreviewHTML:   decoded.PreviewHTML,
	}, nil
}
