package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/ports"
)

var _ ports.Embedder = (*Client)(nil)

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classify(model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &comparator.InvalidResponseError{
			Model:  model,
			Reason: fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, &comparator.InvalidResponseError{Model: model, Reason: fmt.Sprintf("bad embedding index %d", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
