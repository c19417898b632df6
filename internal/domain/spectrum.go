package domain

import "time"

// ListID identifies a ranked list.
type ListID int64

// NodeID identifies a node; the zero value means "no node".
type NodeID int64

// Valid reports whether id refers to a node.
func (id NodeID) Valid() bool { return id != 0 }

// Scope selects the items a ranked list orders.
type Scope struct {
	ContainerID     ContainerID
	Actionable      *bool
	IncludeDone     bool
	IncludeArchived bool
}

// Contains reports whether item currently belongs to the scope.
func (s Scope) Contains(item Item) bool {
	if item.ContainerID != s.ContainerID {
		return false
	}
	if s.Actionable != nil && item.Actionable != *s.Actionable {
		return false
	}
	if item.Done && !s.IncludeDone {
		return false
	}
	if item.Archived && !s.IncludeArchived {
		return false
	}
	return true
}

// ListKey is the identity of a ranked list: one ordering per criterion version, model and scope.
type ListKey struct {
	CriterionVersion VersionID
	Model            string
	Scope            Scope
	Evaluative       bool
}

// RankedList is one persisted total ordering ("spectrum list").
type RankedList struct {
	ID        ListID
	Key       ListKey
	Head      NodeID
	CreatedAt time.Time
}

// Node is one element of a ranked list bound to one item.
type Node struct {
	ID        NodeID
	ListID    ListID
	ItemID    ItemID
	// SortKey increases head to tail. Links decide the order; nil when no
	// key fits between the neighbours.
	SortKey   *float64
	Prev      NodeID
	Next      NodeID
	CreatedAt time.Time
}

// ChainNode is a node joined with the current state of its item.
type ChainNode struct {
	Node
	Item Item
}
