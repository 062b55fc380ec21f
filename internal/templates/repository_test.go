package templates

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsLoad(t *testing.T) {
	list := Defaults()
	require.Len(t, list, 11)
	assert.Equal(t, "pain_low_001", list[0].ID)
	for _, tpl := range list {
		assert.True(t, tpl.Usable(), tpl.ID)
	}
}

func TestLoadYAMLRejectsDuplicates(t *testing.T) {
	doc := "- {id: a, category: greeting, response: hi}\n- {id: a, category: greeting, response: hello}\n"
	_, err := LoadYAML(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestLoadYAMLScoreRange(t *testing.T) {
	doc := "- {id: a, category: symptom_response, response: hi, conditions: {symptom_type: cough, score_range: [4, 6]}}\n"
	list, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	require.NotNil(t, list[0].Conditions.ScoreRange)
	assert.Equal(t, ScoreRange{Min: 4, Max: 6}, *list[0].Conditions.ScoreRange)

	_, err = LoadYAML(strings.NewReader("- {id: a, category: greeting, response: hi, conditions: {score_range: [1]}}\n"))
	assert.Error(t, err)
}

func TestMemoryRepositoryListActiveFilters(t *testing.T) {
	repo := NewMemoryRepository([]Template{
		{ID: "on", Category: CategoryGreeting, Response: "a", Active: true, Approved: true},
		{ID: "draft", Category: CategoryGreeting, Response: "b", Active: true},
		{ID: "off", Category: CategoryGreeting, Response: "c", Approved: true},
	})
	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "on", active[0].ID)

	all, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryRepositoryUsageAndUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(Defaults())
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordUsage(ctx, "pain_high_001", at))
	require.NoError(t, repo.RecordUsage(ctx, "pain_high_001", at))
	assert.ErrorIs(t, repo.RecordUsage(ctx, "missing", at), ErrTemplateNotFound)

	tpl, err := repo.Get(ctx, "pain_high_001")
	require.NoError(t, err)
	assert.Equal(t, 2, tpl.UseCount)
	require.NotNil(t, tpl.LastUsed)
	assert.True(t, tpl.LastUsed.Equal(at))

	tpl.Response = "updated {score}"
	require.NoError(t, repo.Upsert(ctx, *tpl))
	updated, err := repo.Get(ctx, "pain_high_001")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 2, updated.UseCount)
	assert.Equal(t, "updated {score}", updated.Response)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestComputeStats(t *testing.T) {
	list := []Template{
		{ID: "a", Category: CategoryGreeting, Active: true, Approved: true, UseCount: 3},
		{ID: "b", Category: CategoryGreeting, Active: true, UseCount: 5},
		{ID: "c", Category: CategoryCompletion, Approved: true, UseCount: 1},
	}
	s := ComputeStats(list, 2)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Approved)
	assert.Equal(t, 2, s.Active)
	assert.Equal(t, 9, s.TotalUsage)
	assert.Equal(t, CategoryStats{Count: 2, Usage: 8}, s.ByCategory[CategoryGreeting])
	require.Len(t, s.TopUsed, 2)
	assert.Equal(t, "b", s.TopUsed[0].TemplateID)
	assert.Equal(t, "a", s.TopUsed[1].TemplateID)
}

type countingRepo struct {
	calls int
	err   error
	list  []Template
}

func (c *countingRepo) ListActive(context.Context) ([]Template, error) {
	c.calls++
	return c.list, c.err
}

func (c *countingRepo) RecordUsage(context.Context, string, time.Time) error { return nil }

func TestCachingRepositoryServesSnapshot(t *testing.T) {
	inner := &countingRepo{list: []Template{{ID: "a"}}}
	cache := NewCachingRepository(inner, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		list, err := cache.ListActive(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	assert.Equal(t, 1, inner.calls)

	now = now.Add(2 * time.Minute)
	_, err := cache.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	cache.Invalidate()
	_, _ = cache.ListActive(context.Background())
	assert.Equal(t, 3, inner.calls)
}

func TestCachingRepositoryServesStaleOnError(t *testing.T) {
	inner := &countingRepo{list: []Template{{ID: "a"}}}
	cache := NewCachingRepository(inner, time.Second)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.ListActive(context.Background())
	require.NoError(t, err)

	inner.err = errors.New("db down")
	now = now.Add(time.Hour)
	list, err := cache.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCachingRepositoryColdErrorPropagates(t *testing.T) {
	cache := NewCachingRepository(&countingRepo{err: errors.New("db down")}, time.Second)
	_, err := cache.ListActive(context.Background())
	assert.Error(t, err)
}
