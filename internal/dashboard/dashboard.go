// Package dashboard builds the learner's overview from cached modules and saved progress.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/progress"
	"github.com/ashureev/learnsync/internal/remote"
	"github.com/ashureev/learnsync/internal/store"
)

const trendingLimit = 5

// ModuleReader yields the current recommended modules.
type ModuleReader interface {
	Read() []domain.Module
}

// TrendingSource lists trending technology recommendations.
type TrendingSource interface {
	TrendingTech(ctx context.Context, limit int) ([]remote.TechRecommendation, error)
}

// Category groups modules by how far the learner got.
type Category string

const (
	CategoryCompleted  Category = "completed"
	CategoryInProgress Category = "in_progress"
	CategoryNotStarted Category = "not_started"
)

// ModuleStatus is a module decorated with the learner's progress.
type ModuleStatus struct {
	domain.Module
	Progress    float64    `json:"progress"`
	IsCompleted bool       `json:"isCompleted"`
	LastAccess  *time.Time `json:"lastAccess,omitempty"`
	Category    Category   `json:"category"`
}

// Summary is the dashboard view.
type Summary struct {
	Modules         []ModuleStatus              `json:"modules"`
	Completed       int                         `json:"completed"`
	InProgress      int                         `json:"in_progress"`
	NotStarted      int                         `json:"not_started"`
	OverallProgress float64                     `json:"overall_progress"`
	UsedDefaults    bool                        `json:"used_defaults"`
	Trending        []remote.TechRecommendation `json:"trending,omitempty"`
	Warnings        []string                    `json:"warnings,omitempty"`
}

// Builder assembles summaries.
type Builder struct {
	modules  ModuleReader
	st       store.Store
	trending TrendingSource
	logger   *slog.Logger
}

// NewBuilder creates a Builder. trending may be nil.
func NewBuilder(modules ModuleReader, st store.Store, trending TrendingSource, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{modules: modules, st: st, trending: trending, logger: logger}
}

// Build reads saved progress and trending technology concurrently and joins
// them with the cached modules. Only a store failure is returned as an error;
// a failed trending lookup becomes a warning.
func (b *Builder) Build(ctx context.Context) (*Summary, error) {
	var (
		book     domain.ProgressBook
		trending []remote.TechRecommendation
		warnings []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		book, err = progress.LoadBook(gctx, b.st)
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}
		return nil
	})
	if b.trending != nil {
		g.Go(func() error {
			items, err := b.trending.TrendingTech(gctx, trendingLimit)
			if err != nil {
				b.logger.Warn("Trending tech unavailable", "error", err)
				warnings = append(warnings, "trending technology is unavailable")
				return nil
			}
			trending = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	modules := b.modules.Read()
	usedDefaults := false
	if len(modules) == 0 {
		modules = domain.DefaultModules()
		usedDefaults = true
	}

	s := Summarize(modules, book)
	s.UsedDefaults = usedDefaults
	s.Trending = trending
	s.Warnings = warnings
	return s, nil
}

// Summarize joins modules with their progress entries and categorizes them.
func Summarize(modules []domain.Module, book domain.ProgressBook) *Summary {
	s := &Summary{Modules: make([]ModuleStatus, 0, len(modules))}
	total := 0.0

	for _, m := range modules {
		status := ModuleStatus{Module: m}
		if entry, ok := book[m.ID]; ok {
			status.Progress = entry.Progress
			status.IsCompleted = entry.IsCompleted
			if !entry.LastAccess.IsZero() {
				la := entry.LastAccess
				status.LastAccess = &la
			}
		}
		status.Category = categorize(status)

		switch status.Category {
		case CategoryCompleted:
			s.Completed++
		case CategoryInProgress:
			s.InProgress++
		default:
			s.NotStarted++
		}
		total += status.Progress
		s.Modules = append(s.Modules, status)
	}

	if len(s.Modules) > 0 {
		s.OverallProgress = total / float64(len(s.Modules))
	}
	return s
}

func categorize(m ModuleStatus) Category {
	switch {
	case m.IsCompleted:
		return CategoryCompleted
	case m.Progress > 0:
		return CategoryInProgress
	default:
		return CategoryNotStarted
	}
}
