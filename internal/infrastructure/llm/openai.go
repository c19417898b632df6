// Package llm adapts OpenAI-compatible APIs to the comparator ports.
package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/config"
)

// Client implements ports.ChatCompleter and ports.Embedder on go-openai.
type Client struct {
	api         *openai.Client
	temperature float32
}

// NewClient builds a client from configuration.
func NewClient(cfg config.OpenAIConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:         openai.NewClientWithConfig(oc),
		temperature: cfg.Temperature,
	}
}

// classify maps go-openai failures onto the comparator error types.
func classify(model string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &comparator.ServiceError{Model: model, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &comparator.ServiceError{Model: model, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &comparator.TimeoutError{Model: model, Err: err}
	}
	return &comparator.ServiceError{Model: model, Message: err.Error(), Err: err}
}
