package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuskit/academic-core/internal/models"
	appErrors "github.com/campuskit/academic-core/pkg/errors"
)

type mockCurriculumReader struct {
	entries map[string][]models.CurriculumEntry
	calls   int
}

func (m *mockCurriculumReader) ListByProgram(ctx context.Context, programCode string) ([]models.CurriculumEntry, error) {
	m.calls++
	return m.entries[programCode], nil
}

type memoryCacheRepo struct {
	values map[string][]byte
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = data
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	delete(m.values, pattern)
	return nil
}

func TestCurriculumServiceBuildGraphUnionsCurriculumYears(t *testing.T) {
	repo := &mockCurriculumReader{entries: map[string][]models.CurriculumEntry{
		"BSCS": {
			{ProgramCode: "BSCS", CurriculumYear: "2023", SubjectCode: "MATH201", Prerequisites: pq.StringArray{"MATH101"}},
			{ProgramCode: "BSCS", CurriculumYear: "2024", SubjectCode: "MATH201", Prerequisites: pq.StringArray{"MATH101", "ALGB101"}},
			{ProgramCode: "BSCS", CurriculumYear: "2024", SubjectCode: "PE101"},
		},
	}}
	svc := NewCurriculumService(repo, nil, zap.NewNop())

	graph, err := svc.BuildGraph(context.Background(), "BSCS")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"MATH101", "ALGB101"}, graph.Prerequisites("MATH201"))
	assert.Empty(t, graph.Prerequisites("PE101"))
	assert.Empty(t, graph.Prerequisites("UNKNOWN"))
}

func TestCurriculumServiceBuildGraphUnknownProgram(t *testing.T) {
	svc := NewCurriculumService(&mockCurriculumReader{}, nil, zap.NewNop())

	_, err := svc.BuildGraph(context.Background(), "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrCurriculumNotFound)
}

func TestCurriculumServiceBuildGraphUsesCache(t *testing.T) {
	repo := &mockCurriculumReader{entries: map[string][]models.CurriculumEntry{
		"BSCS": {{ProgramCode: "BSCS", SubjectCode: "MATH201", Prerequisites: pq.StringArray{"MATH101"}}},
	}}
	cacheRepo := &memoryCacheRepo{}
	cacheSvc := NewCacheService(cacheRepo, NewMetricsService(), time.Minute, zap.NewNop(), true)
	svc := NewCurriculumService(repo, cacheSvc, zap.NewNop())

	first, err := svc.BuildGraph(context.Background(), "BSCS")
	require.NoError(t, err)
	second, err := svc.BuildGraph(context.Background(), "BSCS")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, first.Requires, second.Requires)

	require.NoError(t, svc.InvalidateProgram(context.Background(), "BSCS"))
	_, err = svc.BuildGraph(context.Background(), "BSCS")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestCacheServiceDisabledMisses(t *testing.T) {
	svc := NewCacheService(&memoryCacheRepo{}, nil, time.Minute, zap.NewNop(), false)

	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	var out string
	hit, err := svc.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}
