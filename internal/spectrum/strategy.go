package spectrum

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Strategy selects how a batch of unranked items enters a list.
type Strategy string

const (
	// StrategyInsert binary-inserts items one at a time.
	StrategyInsert Strategy = "insert"
	// StrategyMerge sorts the batch and merges it with the existing order.
	StrategyMerge Strategy = "merge"
	// StrategyAuto picks per batch with PreferMerge.
	StrategyAuto Strategy = "auto"
)

// ParseStrategy accepts insert, merge or auto (case-insensitive). Empty means insert.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case "", StrategyInsert:
		return StrategyInsert, nil
	case StrategyMerge:
		return StrategyMerge, nil
	case StrategyAuto:
		return StrategyAuto, nil
	default:
		return "", fmt.Errorf("unknown ranking strategy %q", value)
	}
}

// Resolve turns auto into a concrete strategy for k new items and n ranked ones.
func (s Strategy) Resolve(k, n int) Strategy {
	if s != StrategyAuto {
		return s
	}
	if PreferMerge(k, n) {
		return StrategyMerge
	}
	return StrategyInsert
}

// PreferMerge compares the cost of walking the chain for k insertions into n
// nodes (k*n pointer steps) with sorting everything, (k+n)*log2(k+n).
func PreferMerge(k, n int) bool {
	if k <= 0 {
		return false
	}
	if n == 0 {
		return true
	}
	total := float64(k + n)
	return float64(k)*float64(n) > total*math.Log2(total)
}

// Ahead reports whether a ranks ahead of b.
type Ahead[T any] func(ctx context.Context, a, b T) (bool, error)

// MergeSort orders items head first. Later elements only move in front of
// earlier ones when ahead says so, so the sort is stable.
func MergeSort[T any](ctx context.Context, items []T, ahead Ahead[T]) ([]T, error) {
	if len(items) < 2 {
		return append([]T(nil), items...), nil
	}
	mid := len(items) / 2
	left, err := MergeSort(ctx, items[:mid], ahead)
	if err != nil {
		return nil, err
	}
	right, err := MergeSort(ctx, items[mid:], ahead)
	if err != nil {
		return nil, err
	}
	return Merge(ctx, left, right, ahead)
}

// Merge interleaves two ordered runs. Elements of incoming are compared
// against elements of base as candidates, mirroring binary insertion.
func Merge[T any](ctx context.Context, base, incoming []T, ahead Ahead[T]) ([]T, error) {
	out := make([]T, 0, len(base)+len(incoming))
	i, j := 0, 0
	for i < len(base) && j < len(incoming) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		first, err := ahead(ctx, incoming[j], base[i])
		if err != nil {
			return nil, err
		}
		if first {
			out = append(out, incoming[j])
			j++
		} else {
			out = append(out, base[i])
			i++
		}
	}
	out = append(out, base[i:]...)
	out = append(out, incoming[j:]...)
	return out, nil
}
