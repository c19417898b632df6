// Package comparator answers "which of two statements better satisfies a
// third" using embeddings, zero-shot classification, chat completion or a human.
package comparator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"SpectrumRanker/internal/domain"
)

// ErrUnsupportedModel is returned for a model identifier with no registered comparator.
var ErrUnsupportedModel = errors.New("unsupported comparison model")

// Question asks whether Left satisfies Subject better than Right.
type Question struct {
	Subject domain.Operand
	Left    domain.Operand
	Right   domain.Operand
}

// Key identifies the question by statement versions.
func (q Question) Key() domain.ComparisonKey {
	return domain.ComparisonKey{Subject: q.Subject.Version, Left: q.Left.Version, Right: q.Right.Version}
}

// Verdict is a comparator's answer. LeftWins means Left ranks ahead of Right.
type Verdict struct {
	LeftWins bool
	Response string
}

// Comparator captures a single backend (embedding model, classifier, chat model, human).
type Comparator interface {
	Model() string
	Compare(ctx context.Context, q Question) (Verdict, error)
}

// Registry keeps a mapping from model identifiers to their comparators.
type Registry struct {
	comparators map[string]Comparator
}

// NewRegistry builds a registry from the given comparators.
func NewRegistry(comparators ...Comparator) *Registry {
	r := &Registry{comparators: map[string]Comparator{}}
	for _, c := range comparators {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a comparator.
func (r *Registry) Register(c Comparator) {
	if r.comparators == nil {
		r.comparators = map[string]Comparator{}
	}
	r.comparators[c.Model()] = c
}

// Resolve returns the comparator for model or ErrUnsupportedModel.
func (r *Registry) Resolve(model string) (Comparator, error) {
	if c, ok := r.comparators[model]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
}

// Models lists registered model identifiers in lexical order.
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.comparators))
	for m := range r.comparators {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
