package comparator

import (
	"context"
	"fmt"
	"strings"

	"SpectrumRanker/internal/ports"
)

// ZeroShotComparator asks a zero-shot classifier which operand labels the subject best.
type ZeroShotComparator struct {
	model      string
	backend    string
	classifier ports.ZeroShotClassifier
}

var _ Comparator = (*ZeroShotComparator)(nil)

// NewZeroShotComparator registers under model and classifies with backend.
func NewZeroShotComparator(model, backend string, classifier ports.ZeroShotClassifier) *ZeroShotComparator {
	return &ZeroShotComparator{model: model, backend: backend, classifier: classifier}
}

func (c *ZeroShotComparator) Model() string { return c.model }

// Compare sends the subject with candidate labels [left, right]; the first returned label wins.
func (c *ZeroShotComparator) Compare(ctx context.Context, q Question) (Verdict, error) {
	result, err := c.classifier.Classify(ctx, c.backend, q.Subject.Text, []string{q.Left.Text, q.Right.Text})
	if err != nil {
		return Verdict{}, err
	}
	if len(result.Labels) == 0 {
		return Verdict{}, &InvalidResponseError{Model: c.model, Reason: "response has no labels"}
	}

	response := strings.Join(result.Labels, " | ")
	switch result.Labels[0] {
	case q.Left.Text:
		return Verdict{LeftWins: true, Response: response}, nil
	case q.Right.Text:
		return Verdict{LeftWins: false, Response: response}, nil
	default:
		return Verdict{}, &InvalidResponseError{
			Model:    c.model,
			Reason:   fmt.Sprintf("top label %q is not a candidate", result.Labels[0]),
			Response: response,
		}
	}
}
