package progress

import (
	"fmt"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/remote"
)

// DefaultIcon marks topics the service sent without an icon.
const DefaultIcon = "📘"

// Normalize fills absent fields of service topics with deterministic defaults.
func Normalize(raw []remote.RawTopic) []domain.Topic {
	topics := make([]domain.Topic, 0, len(raw))
	for i, r := range raw {
		n := i + 1
		t := domain.Topic{
			ID:           r.ID,
			Title:        r.Title,
			Description:  r.Description,
			IsCompleted:  r.IsCompleted,
			Difficulty:   domain.ParseDifficulty(r.Difficulty),
			TimeEstimate: r.TimeEstimate,
			Icon:         r.Icon,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("topic-%d", n)
			t.Synthetic = true
		}
		if t.Title == "" {
			t.Title = fmt.Sprintf("Topic %d", n)
		}
		if t.Icon == "" {
			t.Icon = DefaultIcon
		}
		if r.Progress != nil {
			t.Progress = clamp01(*r.Progress)
		}
		topics = append(topics, t)
	}
	return topics
}

// FallbackTopics is the placeholder content shown when the topic list is unavailable.
func FallbackTopics(moduleName string) []domain.Topic {
	if moduleName == "" {
		moduleName = "this module"
	}
	return []domain.Topic{
		{
			ID:           "fallback-intro",
			Title:        "Introduction to " + moduleName,
			Description:  "Get an overview of " + moduleName + " and what you will learn.",
			Difficulty:   domain.DifficultyBeginner,
			TimeEstimate: "30 min",
			Icon:         DefaultIcon,
		},
		{
			ID:           "fallback-core",
			Title:        "Core Concepts",
			Description:  "The fundamental ideas you need before going further.",
			Difficulty:   domain.DifficultyBeginner,
			TimeEstimate: "1 hour",
			Icon:         DefaultIcon,
		},
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
