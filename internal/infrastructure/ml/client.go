// Package ml talks to the hosted HuggingFace inference API.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/config"
	"SpectrumRanker/internal/ports"
)

// Client runs zero-shot classification against an inference endpoint.
type Client struct {
	endpoint string
	apiKey   string
	maxWait  time.Duration
	http     *http.Client
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ ports.ZeroShotClassifier = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.HuggingFaceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxWait := cfg.MaxLoadingWait
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		maxWait:  maxWait,
		http:     &http.Client{Timeout: timeout},
		sleep:    sleepContext,
	}
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
}

type zeroShotResponse struct {
	Sequence string    `json:"sequence"`
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
}

// loadingError is the 503 the API answers while the model warms up.
type loadingError struct {
	estimated time.Duration
}

func (e *loadingError) Error() string {
	return fmt.Sprintf("model loading, estimated %s", e.estimated)
}

// Classify scores labels for sequence. While the model is loading it waits
// the server estimate, capped by the configured maximum, and asks again.
func (c *Client) Classify(ctx context.Context, model, sequence string, labels []string) (ports.ZeroShotResult, error) {
	payload := zeroShotRequest{Inputs: sequence, Parameters: zeroShotParameters{CandidateLabels: labels}}

	var resp zeroShotResponse
	for {
		err := c.post(ctx, model, payload, &resp)
		var loading *loadingError
		if errors.As(err, &loading) {
			wait := min(loading.estimated, c.maxWait)
			if err := c.sleep(ctx, wait); err != nil {
				return ports.ZeroShotResult{}, err
			}
			continue
		}
		if err != nil {
			return ports.ZeroShotResult{}, err
		}
		break
	}

	if len(resp.Labels) == 0 {
		return ports.ZeroShotResult{}, &comparator.InvalidResponseError{Model: model, Reason: "response has no labels"}
	}
	return ports.ZeroShotResult{Labels: resp.Labels, Scores: resp.Scores}, nil
}

func (c *Client) post(ctx context.Context, model string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+model, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var status struct {
			Error         string  `json:"error"`
			EstimatedTime float64 `json:"estimated_time"`
		}
		_ = json.Unmarshal(raw, &status)
		if resp.StatusCode == http.StatusServiceUnavailable && status.EstimatedTime > 0 {
			return &loadingError{estimated: time.Duration(status.EstimatedTime * float64(time.Second))}
		}
		msg := status.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &comparator.ServiceError{Model: model, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &comparator.InvalidResponseError{Model: model, Reason: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func transportError(model string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &comparator.TimeoutError{Model: model, Err: err}
	}
	return &comparator.ServiceError{Model: model, Message: err.Error(), Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
