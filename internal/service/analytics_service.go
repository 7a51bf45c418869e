package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/academic-core/internal/models"
	appErrors "github.com/campuskit/academic-core/pkg/errors"
)

type studentPopulation interface {
	ListIDs(ctx context.Context, filter models.PopulationFilter) ([]string, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Student, error)
}

type gradeHistoryLister interface {
	ListByStudentIDs(ctx context.Context, studentIDs []string) ([]models.GradeRecord, error)
}

type semesterLister interface {
	ListAll(ctx context.Context) ([]models.Semester, error)
}

type checkpointStore interface {
	Get(ctx context.Context, computationKey string) (*models.Checkpoint, error)
	Put(ctx context.Context, checkpoint *models.Checkpoint) error
	Delete(ctx context.Context, computationKey string) error
}

// RunRequest parameterises one batch computation.
type RunRequest struct {
	Type      models.ReportType
	Filter    models.PopulationFilter
	BatchSize int
	TopN      int
	// Progress, when set, is called after every persisted batch with the
	// number of processed and total population records.
	Progress func(done, total int)
}

// AnalyticsServiceConfig tunes the batch pipeline.
type AnalyticsServiceConfig struct {
	DefaultBatchSize int
	DefaultTopN      int
	StoreTimeout     time.Duration
}

// AnalyticsService runs population-wide reports in fixed-size batches with a
// durable checkpoint after every batch. On crash at most one batch of work
// is lost and nothing already counted is recomputed on resume. Only one run
// per computation key may execute at a time; different keys touch disjoint
// checkpoints and read-only student data, so they are free to run
// concurrently.
type AnalyticsService struct {
	students    studentPopulation
	grades      gradeHistoryLister
	semesters   semesterLister
	checkpoints checkpointStore
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         AnalyticsServiceConfig
}

// NewAnalyticsService constructs the batch runner.
func NewAnalyticsService(students studentPopulation, grades gradeHistoryLister, semesters semesterLister, checkpoints checkpointStore, metrics *MetricsService, logger *zap.Logger, cfg AnalyticsServiceConfig) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = 200
	}
	if cfg.DefaultTopN <= 0 {
		cfg.DefaultTopN = 50
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	return &AnalyticsService{
		students:    students,
		grades:      grades,
		semesters:   semesters,
		checkpoints: checkpoints,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// ComputationKey derives the stable checkpoint key for a report type and
// population filter. Batch size is deliberately excluded: the checkpoint
// stores an absolute record index, so a resumed run may use a different
// batch size.
func ComputationKey(reportType models.ReportType, filter models.PopulationFilter) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", reportType, filter.Course, filter.YearLevel)))
	return hex.EncodeToString(sum[:])
}

// Run executes the checkpointed batch protocol and produces the report.
// Store failures abort the run but leave the last checkpoint intact, so a
// later call resumes instead of restarting. The checkpoint is deleted only
// after the merge succeeds; a crash mid-merge leaves it behind and the next
// run goes straight to the merge without re-scanning the population.
func (s *AnalyticsService) Run(ctx context.Context, req RunRequest) (*models.Report, error) {
	if !models.ValidReportType(req.Type) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report type %q", req.Type))
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.DefaultBatchSize
	}
	topN := req.TopN
	if topN <= 0 {
		topN = s.cfg.DefaultTopN
	}

	key := ComputationKey(req.Type, req.Filter)

	start := 0
	skipped := 0
	var partial models.AggregateList
	checkpoint, err := s.getCheckpoint(ctx, key)
	if err != nil {
		return nil, err
	}
	if checkpoint != nil {
		start = checkpoint.LastIndex
		skipped = checkpoint.SkippedRecords
		partial = checkpoint.PartialResults
		s.metrics.RecordResume()
		s.logger.Info("resuming batch computation",
			zap.String("computation_key", key),
			zap.Int("last_index", start),
			zap.Int("partial_results", len(partial)))
	}

	ids, err := s.students.ListIDs(ctx, req.Filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list population ids")
	}
	total := len(ids)
	if start > total {
		// Population shrank since the checkpoint was written; clamp rather
		// than index out of range.
		start = total
	}

	semestersByID, err := s.semesterIndex(ctx)
	if err != nil {
		return nil, err
	}

	for start < total {
		if err := ctx.Err(); err != nil {
			// Cancellation between batches: the last checkpoint stays valid
			// for resumption.
			return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "run cancelled")
		}
		batchStart := time.Now()
		end := start + batchSize
		if end > total {
			end = total
		}

		aggregates, batchSkipped, err := s.aggregateBatch(ctx, ids[start:end], semestersByID)
		if err != nil {
			return nil, err
		}
		partial = append(partial, aggregates...)
		skipped += batchSkipped

		if err := s.putCheckpoint(ctx, &models.Checkpoint{
			ComputationKey: key,
			LastIndex:      end,
			SkippedRecords: skipped,
			PartialResults: partial,
		}); err != nil {
			return nil, err
		}
		s.metrics.RecordCheckpointWrite()
		s.metrics.ObserveBatch(time.Since(batchStart))
		if req.Progress != nil {
			req.Progress(end, total)
		}
		start = end
	}

	report := mergeReport(req.Type, partial, topN)
	report.Population = total
	report.SkippedRecords = skipped

	if err := s.deleteCheckpoint(ctx, key); err != nil {
		// The report is already produced; a stale checkpoint only means the
		// next run for this key re-merges without re-scanning.
		s.logger.Warn("failed to delete completed checkpoint",
			zap.String("computation_key", key), zap.Error(err))
	}
	return &report, nil
}

// aggregateBatch computes the batch's contribution to the accumulator.
// Malformed grade records are logged and skipped per record; they never
// abort the batch.
func (s *AnalyticsService) aggregateBatch(ctx context.Context, batchIDs []string, semestersByID map[string]models.Semester) ([]models.StudentAggregate, int, error) {
	students, err := s.students.ListByIDs(ctx, batchIDs)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load batch students")
	}
	records, err := s.grades.ListByStudentIDs(ctx, batchIDs)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load batch grade records")
	}

	recordsByStudent := make(map[string][]models.GradeRecord, len(students))
	for _, record := range records {
		recordsByStudent[record.StudentID] = append(recordsByStudent[record.StudentID], record)
	}

	aggregates := make([]models.StudentAggregate, 0, len(students))
	skipped := 0
	for _, student := range students {
		aggregate, studentSkipped := s.aggregateStudent(student, recordsByStudent[student.ID], semestersByID)
		skipped += studentSkipped
		aggregates = append(aggregates, aggregate)
	}
	return aggregates, skipped, nil
}

// aggregateStudent folds one student's grade history into an aggregate.
// Pure function of the inputs, so replaying it on resume is safe.
func (s *AnalyticsService) aggregateStudent(student models.Student, records []models.GradeRecord, semestersByID map[string]models.Semester) (models.StudentAggregate, int) {
	aggregate := models.StudentAggregate{
		StudentID:      student.ID,
		StudentName:    student.FullName,
		SubjectTallies: make(map[string]models.SubjectTally),
	}
	skipped := 0
	for _, record := range records {
		if err := validateRecord(record, semestersByID); err != nil {
			skipped++
			s.metrics.RecordSkippedRecord()
			s.logger.Warn("skipping malformed grade record",
				zap.String("record_id", record.ID),
				zap.String("student_id", record.StudentID),
				zap.Error(err))
			continue
		}
		semester := semestersByID[record.SemesterID]
		aggregate.Semesters = append(aggregate.Semesters, models.SemesterRef{
			SemesterID: semester.ID,
			SchoolYear: semester.SchoolYear,
			Term:       semester.Term,
		})
		for _, entry := range record.Entries {
			if !entry.Graded() {
				continue
			}
			aggregate.GradeCount++
			aggregate.GradeSum += entry.Grade
			if aggregate.GradeCount == 1 || entry.Grade < aggregate.MinGrade {
				aggregate.MinGrade = entry.Grade
			}
			tally := aggregate.SubjectTallies[entry.SubjectCode]
			tally.Attempts++
			if entry.Failed() {
				aggregate.FailCount++
				tally.Failures++
			}
			aggregate.SubjectTallies[entry.SubjectCode] = tally
		}
	}
	return aggregate, skipped
}

func validateRecord(record models.GradeRecord, semestersByID map[string]models.Semester) error {
	if _, ok := semestersByID[record.SemesterID]; !ok {
		return appErrors.Clone(appErrors.ErrRecordMalformed, fmt.Sprintf("unknown semester %s", record.SemesterID))
	}
	for _, entry := range record.Entries {
		if entry.SubjectCode == "" {
			return appErrors.Clone(appErrors.ErrRecordMalformed, "empty subject code")
		}
		if entry.Grade < 0 || entry.Grade > 100 {
			return appErrors.Clone(appErrors.ErrRecordMalformed, fmt.Sprintf("grade %v out of range", entry.Grade))
		}
	}
	return nil
}

func (s *AnalyticsService) semesterIndex(ctx context.Context) (map[string]models.Semester, error) {
	semesters, err := s.semesters.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list semesters")
	}
	index := make(map[string]models.Semester, len(semesters))
	for _, semester := range semesters {
		index[semester.ID] = semester
	}
	return index, nil
}

func (s *AnalyticsService) getCheckpoint(ctx context.Context, key string) (*models.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	checkpoint, err := s.checkpoints.Get(ctx, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to read checkpoint")
	}
	return checkpoint, nil
}

func (s *AnalyticsService) putCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.checkpoints.Put(ctx, checkpoint); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to persist checkpoint")
	}
	return nil
}

func (s *AnalyticsService) deleteCheckpoint(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.checkpoints.Delete(ctx, key)
}
