package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// TriggerTokenHeader carries the shared secret the trigger endpoint checks
const TriggerTokenHeader = "X-Pipeline-Token"

// QueueRequest is the body POSTed to the analysis trigger
type QueueRequest struct {
	DealID string `json:"dealId"`
}

// QueueResponse is the trigger's acknowledgement
type QueueResponse struct {
	DealID string `json:"dealId"`
	Status string `json:"status"`
}

// TriggerError is a non-2xx answer from the trigger endpoint
type TriggerError struct {
	Status int
	Body   string
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("trigger returned status %d: %s", e.Status, e.Body)
}

// AnalysisTrigger notifies the processing pipeline that a deal is ready
type AnalysisTrigger interface {
	QueueAnalysis(ctx context.Context, dealID string) (*QueueResponse, error)
}

// TriggerClient calls the HTTP analysis trigger
type TriggerClient struct {
	url        string
	token      string
	httpClient *http.Client
}

var _ AnalysisTrigger = (*TriggerClient)(nil)

func NewTriggerClient(cfg *config.PipelineConfig) *TriggerClient {
	return &TriggerClient{
		url:   cfg.TriggerURL,
		token: cfg.TriggerToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled reports whether a trigger URL is configured
func (c *TriggerClient) Enabled() bool {
	return c != nil && c.url != ""
}

func (c *TriggerClient) QueueAnalysis(ctx context.Context, dealID string) (*QueueResponse, error) {
	body, err := json.Marshal(QueueRequest{DealID: dealID})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to encode trigger request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePipeline, "failed to create trigger request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(TriggerTokenHeader, c.token)
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePipeline, "failed to call analysis trigger")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePipeline, "failed to read trigger response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Wrap(&TriggerError{Status: resp.StatusCode, Body: string(respBody)},
			apperr.CodePipeline, "analysis trigger rejected the request")
	}

	out := &QueueResponse{DealID: dealID}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, apperr.Wrap(err, apperr.CodePipeline, "invalid trigger response")
		}
	}
	return out, nil
}
