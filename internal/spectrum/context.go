package spectrum

import "SpectrumRanker/internal/domain"

// ChangedFields lists the ranking-relevant fields that differ between the
// persisted state and the new state of an item.
func ChangedFields(before, after domain.Item) []string {
	var fields []string
	if before.Statement != after.Statement {
		fields = append(fields, "statement")
	}
	if before.Actionable != after.Actionable {
		fields = append(fields, "actionable")
	}
	if before.Done != after.Done {
		fields = append(fields, "done")
	}
	if before.Archived != after.Archived {
		fields = append(fields, "archived")
	}
	if before.ContainerID != after.ContainerID {
		fields = append(fields, "container")
	}
	return fields
}

// ContextChanged reports whether the item's position in any list is invalidated.
func ContextChanged(before, after domain.Item) bool {
	return len(ChangedFields(before, after)) > 0
}
