package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/domain"
)

// imperative judges statements starting with "do " as actionable.
type imperative struct{}

func (imperative) Model() string { return "imperative" }

func (imperative) Compare(_ context.Context, q comparator.Question) (comparator.Verdict, error) {
	return comparator.Verdict{LeftWins: strings.HasPrefix(q.Subject.Text, "do ")}, nil
}

func newClassifier(t *testing.T, e *env) (*Classifier, domain.Criterion, domain.Criterion) {
	t.Helper()

	ctx := context.Background()
	yes, err := e.repo.CreateCriterion(ctx, "actionable", "is a concrete next action")
	require.NoError(t, err)
	no, err := e.repo.CreateCriterion(ctx, "reference", "is reference material or a someday idea")
	require.NoError(t, err)
	e.registry.Register(imperative{})

	c := NewClassifier(ClassifierDeps{
		Items:         NewItems(e.repo, nil, e.logger),
		Scope:         e.repo,
		Criteria:      e.repo,
		Containers:    e.repo,
		Registry:      e.registry,
		Gateway:       e.gateway,
		Logger:        e.logger,
		Actionable:    yes.ID,
		NonActionable: no.ID,
	})
	return c, yes, no
}

func TestClassifyRewritesActionableAndInvalidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	ranked := e.items(t, "do taxes", "someday maybe")
	list := e.list(t, ranked...)
	laundry, err := e.repo.CreateItem(ctx, domain.Item{Statement: "do laundry", ContainerID: e.container.ID})
	require.NoError(t, err)

	c, _, _ := newClassifier(t, e)
	report, err := c.Classify(ctx, ClassifyRequest{ContainerID: e.container.ID, Model: "imperative"})
	require.NoError(t, err)

	assert.Equal(t, ClassifyReport{Examined: 3, Changed: 2, Invalidated: 1}, report)
	assert.Equal(t, []string{"do taxes"}, e.order(t, list.ID))

	got, err := e.repo.GetItem(ctx, laundry.ID)
	require.NoError(t, err)
	assert.True(t, got.Actionable)
	got, err = e.repo.GetItem(ctx, ranked[1].ID)
	require.NoError(t, err)
	assert.False(t, got.Actionable)

	again, err := c.Classify(ctx, ClassifyRequest{ContainerID: e.container.ID, Model: "imperative"})
	require.NoError(t, err)
	assert.Zero(t, again.Changed)
}

func TestClassifyValidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	c, _, _ := newClassifier(t, e)

	_, err := c.Classify(ctx, ClassifyRequest{ContainerID: e.container.ID, Model: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	_, err = c.Classify(ctx, ClassifyRequest{ContainerID: 999, Model: "imperative"})
	assert.ErrorIs(t, err, ErrScopeNotFound)

	unconfigured := NewClassifier(ClassifierDeps{Containers: e.repo, Criteria: e.repo, Registry: e.registry})
	_, err = unconfigured.Classify(ctx, ClassifyRequest{Model: "imperative"})
	assert.ErrorIs(t, err, ErrCriterionNotFound)
}

func TestClassifyCountsFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.items(t, "13", "14")
	e.cmp.fail = map[string]bool{"is a concrete next action": true}
	c, _, _ := newClassifier(t, e)

	report, err := c.Classify(ctx, ClassifyRequest{ContainerID: e.container.ID, Model: numericModel})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 2, report.Failed)
	assert.Zero(t, report.Changed)
}
