package domain

import "time"

// ModuleProgress is the locally recorded progress for one module.
// It decorates a Module for dashboards and is never part of the module identity.
type ModuleProgress struct {
	Progress    float64   `json:"progress"`
	IsCompleted bool      `json:"isCompleted"`
	LastAccess  time.Time `json:"lastAccess"`
}

// ProgressBook maps module IDs to their recorded progress.
type ProgressBook map[string]ModuleProgress
