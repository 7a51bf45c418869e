package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/campuskit/academic-core/internal/models"
	appErrors "github.com/campuskit/academic-core/pkg/errors"
)

type curriculumTermReader interface {
	ListByProgramTerm(ctx context.Context, programCode string, term models.CurriculumTerm) ([]models.CurriculumEntry, error)
}

type gradeHistoryReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.GradeRecord, error)
}

type graphBuilder interface {
	BuildGraph(ctx context.Context, programCode string) (*models.PrerequisiteGraph, error)
}

// BlockedSubject pairs a curriculum entry with the prerequisites the student
// is still missing, so the caller can explain why the subject is locked.
type BlockedSubject struct {
	Entry                models.CurriculumEntry `json:"entry"`
	MissingPrerequisites []string               `json:"missing_prerequisites"`
}

// EligibilityResult partitions a term's subjects for one student. Both lists
// are sorted by subject code for deterministic output.
type EligibilityResult struct {
	Available []models.CurriculumEntry `json:"available"`
	Blocked   []BlockedSubject         `json:"blocked"`
}

// EligibilityService decides which curriculum subjects a student may enroll
// in next. Resolution is pure set membership against the passed-subject set,
// so cyclic prerequisite data cannot recurse; a cycle merely leaves its
// subjects blocking each other until the data is fixed. A prerequisite that
// exists in no curriculum behaves the same way: permanently blocked, never a
// crash.
type EligibilityService struct {
	curriculum curriculumTermReader
	grades     gradeHistoryReader
	graphs     graphBuilder
	logger     *zap.Logger
}

// NewEligibilityService constructs the service.
func NewEligibilityService(curriculum curriculumTermReader, grades gradeHistoryReader, graphs graphBuilder, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{curriculum: curriculum, grades: grades, graphs: graphs, logger: logger}
}

// Resolve partitions the program's term subjects into available and blocked
// for the student. A subject passed in any semester counts, retakes
// included; already-passed subjects are excluded from both lists even when
// nominally scheduled for the term.
func (s *EligibilityService) Resolve(ctx context.Context, studentID, programCode string, term models.CurriculumTerm) (*EligibilityResult, error) {
	records, err := s.grades.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load grade history")
	}
	passed := passedSet(records)

	graph, err := s.graphs.BuildGraph(ctx, programCode)
	if err != nil {
		return nil, err
	}

	entries, err := s.curriculum.ListByProgramTerm(ctx, programCode, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load term curriculum")
	}

	result := &EligibilityResult{}
	for _, entry := range entries {
		if _, done := passed[entry.SubjectCode]; done {
			continue
		}
		missing := missingPrerequisites(graph.Prerequisites(entry.SubjectCode), passed)
		if len(missing) == 0 {
			result.Available = append(result.Available, entry)
		} else {
			result.Blocked = append(result.Blocked, BlockedSubject{Entry: entry, MissingPrerequisites: missing})
		}
	}

	sort.Slice(result.Available, func(i, j int) bool {
		return result.Available[i].SubjectCode < result.Available[j].SubjectCode
	})
	sort.Slice(result.Blocked, func(i, j int) bool {
		return result.Blocked[i].Entry.SubjectCode < result.Blocked[j].Entry.SubjectCode
	})
	return result, nil
}

// passedSet collects the codes of subjects passed in any grade record.
func passedSet(records []models.GradeRecord) map[string]struct{} {
	passed := make(map[string]struct{})
	for _, record := range records {
		for _, entry := range record.Entries {
			if entry.Passed() {
				passed[entry.SubjectCode] = struct{}{}
			}
		}
	}
	return passed
}

func missingPrerequisites(required []string, passed map[string]struct{}) []string {
	var missing []string
	for _, code := range required {
		if _, ok := passed[code]; !ok {
			missing = append(missing, code)
		}
	}
	sort.Strings(missing)
	return missing
}
