package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/remote"
	"github.com/ashureev/learnsync/internal/store"
)

type staticModules []domain.Module

func (s staticModules) Read() []domain.Module { return domain.CloneModules(s) }

type fakeTrending struct {
	items []remote.TechRecommendation
	err   error
}

func (f fakeTrending) TrendingTech(context.Context, int) ([]remote.TechRecommendation, error) {
	return f.items, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saveBook(t *testing.T, st store.Store, book domain.ProgressBook) {
	t.Helper()
	data, err := json.Marshal(book)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), store.KeyModuleProgress, string(data)))
}

func TestSummarize_Categorizes(t *testing.T) {
	modules := []domain.Module{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	book := domain.ProgressBook{
		"a": {Progress: 1, IsCompleted: true, LastAccess: time.Unix(100, 0)},
		"b": {Progress: 0.5},
		"c": {Progress: 0},
	}

	s := Summarize(modules, book)

	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.InProgress)
	assert.Equal(t, 2, s.NotStarted)
	assert.InDelta(t, 0.375, s.OverallProgress, 1e-9)
	assert.Equal(t, CategoryCompleted, s.Modules[0].Category)
	require.NotNil(t, s.Modules[0].LastAccess)
	assert.Nil(t, s.Modules[3].LastAccess)
}

func TestSummarize_EmptyIsZero(t *testing.T) {
	s := Summarize(nil, nil)
	assert.Equal(t, 0.0, s.OverallProgress)
	assert.Empty(t, s.Modules)
}

func TestBuild_FallsBackToDefaults(t *testing.T) {
	b := NewBuilder(staticModules(nil), store.NewMemory(), nil, quietLogger())

	s, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, s.UsedDefaults)
	assert.Len(t, s.Modules, len(domain.DefaultModules()))
	assert.Equal(t, len(s.Modules), s.NotStarted)
}

func TestBuild_JoinsProgressAndTrending(t *testing.T) {
	st := store.NewMemory()
	saveBook(t, st, domain.ProgressBook{"m1": {Progress: 0.25}})
	trending := fakeTrending{items: []remote.TechRecommendation{{ID: "r1", Title: "htmx"}}}
	b := NewBuilder(staticModules{{ID: "m1", Name: "Go"}}, st, trending, quietLogger())

	s, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, s.UsedDefaults)
	assert.Equal(t, 1, s.InProgress)
	assert.InDelta(t, 0.25, s.OverallProgress, 1e-9)
	require.Len(t, s.Trending, 1)
	assert.Empty(t, s.Warnings)
}

func TestBuild_TrendingFailureIsWarning(t *testing.T) {
	trending := fakeTrending{err: &remote.TransportError{Op: "trending tech", Err: errors.New("refused")}}
	b := NewBuilder(staticModules{{ID: "m1"}}, store.NewMemory(), trending, quietLogger())

	s, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Warnings, 1)
	assert.Empty(t, s.Trending)
}

func TestBuild_MalformedBookFails(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.Set(context.Background(), store.KeyModuleProgress, "not json"))
	b := NewBuilder(staticModules{{ID: "m1"}}, st, nil, quietLogger())

	_, err := b.Build(context.Background())
	require.Error(t, err)
}
