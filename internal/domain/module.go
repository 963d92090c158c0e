// Package domain contains core domain types for the learning companion.
package domain

// Module is a recommended learning unit as returned by the recommendation service.
// Identity is ID; values are treated as immutable once received.
type Module struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CloneModules returns a copy of modules that shares no backing array with the input.
// A nil input yields an empty, non-nil slice so callers can range and encode it as [].
func CloneModules(modules []Module) []Module {
	out := make([]Module, len(modules))
	copy(out, modules)
	return out
}

// DefaultModules is the starter catalogue shown before any recommendation has been cached.
func DefaultModules() []Module {
	return []Module{
		{ID: "1", Name: "Introduction to Programming", Description: "Learn the basics of programming concepts"},
		{ID: "2", Name: "Data Structures", Description: "Master essential data structures for efficient programming"},
		{ID: "3", Name: "Web Development Basics", Description: "Introduction to HTML, CSS, and JavaScript"},
		{ID: "4", Name: "Mobile App Development", Description: "Build cross-platform mobile applications"},
		{ID: "5", Name: "Cloud Computing", Description: "Introduction to cloud services and deployment"},
	}
}
