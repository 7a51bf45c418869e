package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campuskit/academic-core/internal/models"
	appErrors "github.com/campuskit/academic-core/pkg/errors"
)

type curriculumReader interface {
	ListByProgram(ctx context.Context, programCode string) ([]models.CurriculumEntry, error)
}

// CurriculumService builds and caches prerequisite graphs per program.
type CurriculumService struct {
	repo   curriculumReader
	cache  *CacheService
	logger *zap.Logger
}

// NewCurriculumService constructs the service.
func NewCurriculumService(repo curriculumReader, cache *CacheService, logger *zap.Logger) *CurriculumService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CurriculumService{repo: repo, cache: cache, logger: logger}
}

// BuildGraph loads a program's entries across all curriculum years and maps
// each subject to its prerequisite codes. The result is side-effect-free and
// cached per program with the configured TTL.
func (s *CurriculumService) BuildGraph(ctx context.Context, programCode string) (*models.PrerequisiteGraph, error) {
	cacheKey := graphCacheKey(programCode)
	var cached models.PrerequisiteGraph
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	entries, err := s.repo.ListByProgram(ctx, programCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load curriculum entries")
	}
	if len(entries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrCurriculumNotFound, fmt.Sprintf("no curriculum entries for program %s", programCode))
	}

	graph := &models.PrerequisiteGraph{
		ProgramCode: programCode,
		Requires:    make(map[string][]string, len(entries)),
	}
	for _, entry := range entries {
		// The same code can appear under several curriculum years; a
		// prerequisite required by any of them stays required.
		graph.Requires[entry.SubjectCode] = unionCodes(graph.Requires[entry.SubjectCode], entry.Prerequisites)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, graph, 0); err != nil {
			s.logger.Warn("cache prerequisite graph", zap.String("program", programCode), zap.Error(err))
		}
	}
	return graph, nil
}

// InvalidateProgram drops the cached graph after curriculum edits.
func (s *CurriculumService) InvalidateProgram(ctx context.Context, programCode string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, graphCacheKey(programCode))
}

func graphCacheKey(programCode string) string {
	return "curriculum:graph:" + programCode
}

func unionCodes(existing []string, more []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(more))
	out := make([]string, 0, len(existing)+len(more))
	for _, code := range existing {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	for _, code := range more {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
