package comparator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"SpectrumRanker/internal/ports"
)

// TieBreak decides equal similarity scores.
type TieBreak string

const (
	TieLeft  TieBreak = "left"
	TieRight TieBreak = "right"
)

// ParseTieBreak accepts left or right; empty means left.
func ParseTieBreak(value string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(value))) {
	case "", TieLeft:
		return TieLeft, nil
	case TieRight:
		return TieRight, nil
	default:
		return "", fmt.Errorf("unknown tie break %q", value)
	}
}

// EmbeddingComparator prefers the operand whose embedding is closer to the subject's.
type EmbeddingComparator struct {
	model    string
	backend  string
	embedder ports.Embedder
	tie      TieBreak
}

var _ Comparator = (*EmbeddingComparator)(nil)

// NewEmbeddingComparator registers under model and embeds with backend, the provider's model name.
func NewEmbeddingComparator(model, backend string, embedder ports.Embedder, tie TieBreak) *EmbeddingComparator {
	if tie == "" {
		tie = TieLeft
	}
	return &EmbeddingComparator{model: model, backend: backend, embedder: embedder, tie: tie}
}

func (c *EmbeddingComparator) Model() string { return c.model }

// Compare embeds all three statements in one call and compares cosine similarities.
func (c *EmbeddingComparator) Compare(ctx context.Context, q Question) (Verdict, error) {
	vectors, err := c.embedder.Embed(ctx, c.backend, []string{q.Subject.Text, q.Left.Text, q.Right.Text})
	if err != nil {
		return Verdict{}, err
	}
	if len(vectors) != 3 {
		return Verdict{}, &InvalidResponseError{Model: c.model, Reason: fmt.Sprintf("expected 3 embeddings, got %d", len(vectors))}
	}

	subject, ok := normalize(vectors[0])
	left, okLeft := normalize(vectors[1])
	right, okRight := normalize(vectors[2])
	if !ok || !okLeft || !okRight {
		return Verdict{}, &InvalidResponseError{Model: c.model, Reason: "zero-length embedding"}
	}
	if len(left) != len(subject) || len(right) != len(subject) {
		return Verdict{}, &InvalidResponseError{Model: c.model, Reason: "embedding dimensions differ"}
	}

	simLeft, simRight := dot(subject, left), dot(subject, right)
	leftWins := simLeft > simRight
	if simLeft == simRight {
		leftWins = c.tie != TieRight
	}

	return Verdict{LeftWins: leftWins, Response: fmt.Sprintf("%.6f %.6f", simLeft, simRight)}, nil
}

func normalize(v []float32) ([]float64, bool) {
	var sum float64
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] /= norm
	}
	return out, true
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
