package domain

import "strings"

// Difficulty is the learning level of a topic.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ParseDifficulty maps a raw value to a known difficulty.
// Unknown or empty values fall back to beginner.
func ParseDifficulty(raw string) Difficulty {
	switch Difficulty(strings.ToLower(strings.TrimSpace(raw))) {
	case DifficultyIntermediate:
		return DifficultyIntermediate
	case DifficultyAdvanced:
		return DifficultyAdvanced
	default:
		return DifficultyBeginner
	}
}

// Topic is a sub-unit of a module with its own completion state.
type Topic struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	IsCompleted  bool       `json:"isCompleted"`
	Difficulty   Difficulty `json:"difficulty"`
	TimeEstimate string     `json:"timeEstimate"`
	Progress     float64    `json:"progress"`
	Icon         string     `json:"icon"`
	// Synthetic marks an ID made up locally because the service sent none.
	Synthetic bool `json:"synthetic,omitempty"`
}

// CompletedCount returns how many topics are marked complete.
func CompletedCount(topics []Topic) int {
	n := 0
	for _, t := range topics {
		if t.IsCompleted {
			n++
		}
	}
	return n
}

// AggregateProgress returns completed/total for topics, or 0 when there are none.
func AggregateProgress(topics []Topic) float64 {
	if len(topics) == 0 {
		return 0
	}
	return float64(CompletedCount(topics)) / float64(len(topics))
}

// CloneTopics returns an independent copy of topics.
func CloneTopics(topics []Topic) []Topic {
	out := make([]Topic, len(topics))
	copy(out, topics)
	return out
}
