package domain

import "time"

// ContainerID identifies a container of items.
type ContainerID int64

// ItemID identifies a ranked item.
type ItemID int64

// CriterionID identifies a ranking criterion.
type CriterionID int64

// VersionID identifies one statement version of an item or criterion.
type VersionID int64

// Container groups items; containers nest through ParentID.
type Container struct {
	ID        ContainerID
	Name      string
	ParentID  ContainerID
	CreatedAt time.Time
}

// Item is the entity being placed in a total order.
type Item struct {
	ID                 ItemID
	Statement          string
	Actionable         bool
	Done               bool
	Archived           bool
	ContainerID        ContainerID
	ParentItemID       ItemID
	VersionID          VersionID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StatementUpdatedAt time.Time
	CompletedAt        *time.Time
}

// Operand returns the item's current statement version as a comparison operand.
func (i Item) Operand() Operand {
	return Operand{Version: i.VersionID, Text: i.Statement}
}

// OwnerKind tells which table a statement version belongs to.
type OwnerKind string

const (
	OwnerItem      OwnerKind = "item"
	OwnerCriterion OwnerKind = "criterion"
)

// StatementVersion is one historical statement of an item or criterion.
type StatementVersion struct {
	ID        VersionID
	OwnerKind OwnerKind
	OwnerID   int64
	Statement string
	CreatedAt time.Time
}

// Criterion is the statement items are ranked against (e.g. "priority").
type Criterion struct {
	ID        CriterionID
	Name      string
	Statement string
	VersionID VersionID
	CreatedAt time.Time
}

// Operand returns the criterion's current statement version as a comparison operand.
func (c Criterion) Operand() Operand {
	return Operand{Version: c.VersionID, Text: c.Statement}
}

// Operand is the exact statement version fed to a comparator.
type Operand struct {
	Version VersionID
	Text    string
}

// ItemPatch lists the optional fields of an item mutation.
type ItemPatch struct {
	Statement   *string
	Actionable  *bool
	Done        *bool
	Archived    *bool
	ContainerID *ContainerID
}

// Apply writes the set fields of the patch onto item.
func (p ItemPatch) Apply(item *Item) {
	if p.Statement != nil {
		item.Statement = *p.Statement
	}
	if p.Actionable != nil {
		item.Actionable = *p.Actionable
	}
	if p.Done != nil {
		item.Done = *p.Done
	}
	if p.Archived != nil {
		item.Archived = *p.Archived
	}
	if p.ContainerID != nil {
		item.ContainerID = *p.ContainerID
	}
}

// ItemUpdate describes the outcome of a persisted item mutation.
type ItemUpdate struct {
	Before      Item
	After       Item
	Changed     []string
	Invalidated int
}
