package spectrum

import (
	"context"
	"fmt"

	"SpectrumRanker/internal/domain"
)

// Probe reports whether the candidate ranks ahead of (closer to the head than) node.
type Probe func(ctx context.Context, node domain.ChainNode) (bool, error)

// Position is the gap a new node goes into. A zero Prev means the new node
// becomes the head; a zero Next means it becomes the tail.
type Position struct {
	Prev domain.NodeID
	Next domain.NodeID
}

// IsHead reports whether the gap is in front of the current head.
func (p Position) IsHead() bool { return !p.Prev.Valid() }

// Locate finds the gap for a candidate by halving the range [lo, end) around
// its midpoint until it is empty. A list of n nodes costs at most
// ceil(log2(n+1)) probes; an empty list costs none.
func Locate(ctx context.Context, chain *Chain, probe Probe) (Position, int, error) {
	var pos Position
	probes := 0

	lo, end := chain.Head(), domain.NodeID(0)
	for lo.Valid() && lo != end {
		if err := ctx.Err(); err != nil {
			return Position{}, probes, err
		}

		mid := chain.Midpoint(lo, end)
		node, _ := chain.Node(mid)

		ahead, err := probe(ctx, node)
		probes++
		if err != nil {
			return Position{}, probes, fmt.Errorf("probe node %d: %w", mid, err)
		}

		if ahead {
			end = mid
			pos.Next = mid
		} else {
			pos.Prev = mid
			lo = chain.Next(mid)
		}
	}

	return pos, probes, nil
}
