// Package remote is the HTTP boundary to the learning service.
package remote

import (
	"github.com/ashureev/learnsync/internal/domain"
)

// ChatResponse is the decoded reply to a chat message.
type ChatResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Modules []domain.Module `json:"modules,omitempty"`
	Details string          `json:"details,omitempty"`
}

// RawTopic is a topic as sent by the service, before normalization.
// Empty strings and a nil Progress mean the field was absent.
type RawTopic struct {
	ID           string
	Title        string
	Description  string
	IsCompleted  bool
	Difficulty   string
	TimeEstimate string
	Progress     *float64
	Icon         string
}

// TechRecommendation is an entry of the trending technology list.
type TechRecommendation struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	URL         string   `json:"url,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type startModuleRequest struct {
	ModuleID          string `json:"moduleId"`
	ModuleName        string `json:"moduleName"`
	ModuleDescription string `json:"moduleDescription"`
}

type completionRequest struct {
	IsCompleted bool `json:"isCompleted"`
}

type ratingRequest struct {
	ID          string `json:"id"`
	IsEffective bool   `json:"isEffective"`
}

type ratingResponse struct {
	Success bool `json:"success"`
}
