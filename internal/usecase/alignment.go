package usecase

import (
	"context"
	"fmt"

	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/ports"
)

// AlignmentReport compares the latest decisions of two models on the
// questions both have answered.
type AlignmentReport struct {
	ModelA        string
	ModelB        string
	Shared        int
	Agreed        int
	Agreement     float64
	Disagreements []domain.ComparisonKey
}

// Alignment measures how often models a and b reached the same verdict. A
// question asked with the operands swapped counts as shared, with the
// verdict inverted.
func Alignment(ctx context.Context, repo ports.ComparisonRepository, a, b string) (AlignmentReport, error) {
	report := AlignmentReport{ModelA: a, ModelB: b}

	left, err := repo.Decisions(ctx, a)
	if err != nil {
		return report, fmt.Errorf("decisions of %s: %w", a, err)
	}
	right, err := repo.Decisions(ctx, b)
	if err != nil {
		return report, fmt.Errorf("decisions of %s: %w", b, err)
	}

	byKey := make(map[domain.ComparisonKey]bool, len(right))
	for _, rec := range right {
		byKey[rec.Key] = rec.LeftWins
	}

	for _, rec := range left {
		other, ok := byKey[rec.Key]
		if !ok {
			mirrored, found := byKey[domain.ComparisonKey{Subject: rec.Key.Subject, Left: rec.Key.Right, Right: rec.Key.Left}]
			if !found {
				continue
			}
			other = !mirrored
		}
		report.Shared++
		if other == rec.LeftWins {
			report.Agreed++
		} else {
			report.Disagreements = append(report.Disagreements, rec.Key)
		}
	}

	if report.Shared > 0 {
		report.Agreement = 100 * float64(report.Agreed) / float64(report.Shared)
	}
	return report, nil
}
