package domain

import "time"

// HumanModel is the model identifier of human-made judgments.
const HumanModel = "human"

// ComparisonKey identifies one judgment: which of Left/Right better satisfies Subject.
type ComparisonKey struct {
	Subject VersionID
	Left    VersionID
	Right   VersionID
}

// ComparisonRecord is the memoized outcome of one judgment.
type ComparisonRecord struct {
	ID        int64
	Model     string
	Key       ComparisonKey
	LeftWins  bool
	Response  string
	Latency   time.Duration
	Human     bool
	CreatedAt time.Time
}
