// Package spectrum keeps items in a comparison-derived total order over a
// doubly linked list. Nodes live in an arena keyed by id, and prev/next are
// ids rather than pointers so a chain can be rebuilt from persisted rows.
package spectrum

import (
	"errors"
	"fmt"

	"SpectrumRanker/internal/domain"
)

var (
	// ErrBrokenChain marks a prev/next asymmetry, a cycle or a dangling link.
	// Splice and repair are atomic, so seeing it means a programming error.
	ErrBrokenChain = errors.New("spectrum: broken chain")
	// ErrStalePosition is returned when the neighbours chosen from a snapshot are no longer adjacent.
	ErrStalePosition = errors.New("spectrum: stale position")
	// ErrItemChanged is returned when the item changed context between snapshot and splice.
	ErrItemChanged = errors.New("spectrum: item changed since snapshot")
	// ErrAlreadyRanked is returned when the list already holds a node for the item.
	ErrAlreadyRanked = errors.New("spectrum: item already ranked")
)

// Chain is an in-memory arena view of one ranked list.
type Chain struct {
	nodes map[domain.NodeID]domain.ChainNode
	head  domain.NodeID
	tail  domain.NodeID
}

// NewChain links nodes starting at head and validates the list invariants.
func NewChain(head domain.NodeID, nodes []domain.ChainNode) (*Chain, error) {
	c := &Chain{nodes: make(map[domain.NodeID]domain.ChainNode, len(nodes)), head: head}
	for _, n := range nodes {
		if _, dup := c.nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node %d", ErrBrokenChain, n.ID)
		}
		c.nodes[n.ID] = n
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) validate() error {
	if len(c.nodes) == 0 {
		if c.head.Valid() {
			return fmt.Errorf("%w: head %d set on empty list", ErrBrokenChain, c.head)
		}
		c.tail = 0
		return nil
	}

	first, ok := c.nodes[c.head]
	if !ok {
		return fmt.Errorf("%w: head %d not in list", ErrBrokenChain, c.head)
	}
	if first.Prev.Valid() {
		return fmt.Errorf("%w: head %d has prev %d", ErrBrokenChain, c.head, first.Prev)
	}

	seen := make(map[domain.NodeID]bool, len(c.nodes))
	prev := domain.NodeID(0)
	for id := c.head; id.Valid(); {
		if seen[id] {
			return fmt.Errorf("%w: cycle at node %d", ErrBrokenChain, id)
		}
		n, ok := c.nodes[id]
		if !ok {
			return fmt.Errorf("%w: node %d links to missing node %d", ErrBrokenChain, prev, id)
		}
		if n.Prev != prev {
			return fmt.Errorf("%w: node %d prev is %d, expected %d", ErrBrokenChain, id, n.Prev, prev)
		}
		seen[id] = true
		prev = id
		id = n.Next
	}
	if len(seen) != len(c.nodes) {
		return fmt.Errorf("%w: %d of %d nodes unreachable from head", ErrBrokenChain, len(c.nodes)-len(seen), len(c.nodes))
	}
	c.tail = prev
	return nil
}

// Len returns the number of nodes.
func (c *Chain) Len() int { return len(c.nodes) }

// Head returns the first node id, or zero for an empty chain.
func (c *Chain) Head() domain.NodeID { return c.head }

// Tail returns the last node id, or zero for an empty chain.
func (c *Chain) Tail() domain.NodeID { return c.tail }

// Node returns the node stored under id.
func (c *Chain) Node(id domain.NodeID) (domain.ChainNode, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Next returns the successor of id; zero when id is the tail or unknown.
func (c *Chain) Next(id domain.NodeID) domain.NodeID {
	return c.nodes[id].Next
}

// Prev returns the predecessor of id; zero when id is the head or unknown.
func (c *Chain) Prev(id domain.NodeID) domain.NodeID {
	return c.nodes[id].Prev
}

// Contains reports whether the chain holds a node for item.
func (c *Chain) Contains(item domain.ItemID) bool {
	for _, n := range c.nodes {
		if n.ItemID == item {
			return true
		}
	}
	return false
}

// Nodes returns the nodes head to tail.
func (c *Chain) Nodes() []domain.ChainNode {
	out := make([]domain.ChainNode, 0, len(c.nodes))
	for id := c.head; id.Valid(); id = c.nodes[id].Next {
		out = append(out, c.nodes[id])
	}
	return out
}

// Backward returns the nodes tail to head.
func (c *Chain) Backward() []domain.ChainNode {
	out := make([]domain.ChainNode, 0, len(c.nodes))
	for id := c.tail; id.Valid(); id = c.nodes[id].Prev {
		out = append(out, c.nodes[id])
	}
	return out
}

// Midpoint returns the lower middle node of the range [lo, end) using a
// slow/fast pointer walk. end is exclusive; zero means "until the tail".
func (c *Chain) Midpoint(lo, end domain.NodeID) domain.NodeID {
	slow, fast := lo, lo
	for {
		step := c.Next(fast)
		if step == end || !step.Valid() {
			return slow
		}
		step = c.Next(step)
		if step == end || !step.Valid() {
			return slow
		}
		slow = c.Next(slow)
		fast = step
	}
}

// Insert splices n into the gap identified by pos. The node keeps its own id.
func (c *Chain) Insert(pos Position, n domain.ChainNode) error {
	if _, dup := c.nodes[n.ID]; dup {
		return fmt.Errorf("insert node %d: %w", n.ID, ErrAlreadyRanked)
	}
	if err := c.checkGap(pos); err != nil {
		return err
	}

	n.Prev, n.Next = pos.Prev, pos.Next
	c.nodes[n.ID] = n
	if pos.Prev.Valid() {
		p := c.nodes[pos.Prev]
		p.Next = n.ID
		c.nodes[pos.Prev] = p
	} else {
		c.head = n.ID
	}
	if pos.Next.Valid() {
		nx := c.nodes[pos.Next]
		nx.Prev = n.ID
		c.nodes[pos.Next] = nx
	} else {
		c.tail = n.ID
	}
	return nil
}

// Remove unlinks id and reconnects its neighbours.
func (c *Chain) Remove(id domain.NodeID) error {
	n, ok := c.nodes[id]
	if !ok {
		return fmt.Errorf("remove node %d: not in chain", id)
	}
	if n.Prev.Valid() {
		p := c.nodes[n.Prev]
		p.Next = n.Next
		c.nodes[n.Prev] = p
	} else {
		c.head = n.Next
	}
	if n.Next.Valid() {
		nx := c.nodes[n.Next]
		nx.Prev = n.Prev
		c.nodes[n.Next] = nx
	} else {
		c.tail = n.Prev
	}
	delete(c.nodes, id)
	return nil
}

func (c *Chain) checkGap(pos Position) error {
	switch {
	case !pos.Prev.Valid() && !pos.Next.Valid():
		if len(c.nodes) != 0 {
			return ErrStalePosition
		}
	case !pos.Prev.Valid():
		if c.head != pos.Next {
			return ErrStalePosition
		}
	case !pos.Next.Valid():
		if c.tail != pos.Prev {
			return ErrStalePosition
		}
	default:
		p, ok := c.nodes[pos.Prev]
		if !ok || p.Next != pos.Next {
			return ErrStalePosition
		}
	}
	return nil
}
