package api

import (
	"context"
	nethttp "net/http"

	"github.com/rescale/filehub/internal/models"
)

// GetLatestDedupReport returns the most recent duplicate-detection snapshot,
// including while the job is still pending. ErrNoDedupReport means no job
// exists yet.
func (c *Client) GetLatestDedupReport(ctx context.Context) (*models.DedupReport, error) {
	const op = "get latest dedup report"

	resp, err := c.readOnce(ctx, op, "/dedup/latest/")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == nethttp.StatusNotFound {
		return nil, ErrNoDedupReport
	}
	if err := expectStatus(op, resp, nethttp.StatusOK); err != nil {
		return nil, err
	}

	var report models.DedupReport
	if err := decodeJSON(op, resp, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// TriggerResponse acknowledges a manually started duplicate-detection job.
type TriggerResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// TriggerDedup asks the server to start a new duplicate-detection job.
func (c *Client) TriggerDedup(ctx context.Context) (*TriggerResponse, error) {
	const op = "trigger dedup"

	resp, err := c.doJSON(ctx, op, nethttp.MethodPost, "/dedup/trigger/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := expectStatus(op, resp, nethttp.StatusAccepted, nethttp.StatusOK); err != nil {
		return nil, err
	}

	var tr TriggerResponse
	if err := decodeJSON(op, resp, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}
