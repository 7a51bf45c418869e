package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/academic-core/internal/models"
	"github.com/campuskit/academic-core/internal/repository"
	appErrors "github.com/campuskit/academic-core/pkg/errors"
)

type enrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.Enrollment, error)
	ExistsOpen(ctx context.Context, studentID, semesterID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, version int, params repository.UpdateStatusParams) (bool, error)
	UpdateSubjects(ctx context.Context, id string, version int, subjects models.EnrollmentSubjects) (bool, error)
	ListEnrolledByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

type gradeRecordStore interface {
	FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.GradeRecord, error)
	Create(ctx context.Context, record *models.GradeRecord) error
	ReplaceEntries(ctx context.Context, id string, entries models.GradeEntries) error
}

type subjectCatalog interface {
	ListByCodes(ctx context.Context, codes []string) ([]models.Subject, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type semesterReader interface {
	FindByID(ctx context.Context, id string) (*models.Semester, error)
}

// SubmitRequest describes an enrollment submission.
type SubmitRequest struct {
	StudentID    string   `json:"student_id" validate:"required"`
	SemesterID   string   `json:"semester_id" validate:"required"`
	SubjectCodes []string `json:"subject_codes" validate:"required,min=1,dive,required"`
	RegisteredBy string   `json:"registered_by" validate:"required"`
}

// UpdateRequest describes a subject change on an enrolled enrollment.
type UpdateRequest struct {
	AddCodes  []string `json:"add_codes"`
	DropCodes []string `json:"drop_codes"`
	ActorID   string   `json:"actor_id" validate:"required"`
}

// EnrollmentService is the enrollment lifecycle state machine. PENDING moves
// to ENROLLED, DENIED or DISCARDED; ENROLLED only accepts subject updates,
// which rewrite the grade record's entry list in lock-step with the
// enrollment's subject snapshot.
//
// Mutations use optimistic concurrency: the service re-reads the row, then
// writes conditioned on the version it read. A lost race surfaces as
// ConcurrentModification and the caller retries against fresh state, so a
// timed-out write is never assumed committed.
type EnrollmentService struct {
	enrollments enrollmentStore
	grades      gradeRecordStore
	subjects    subjectCatalog
	students    studentReader
	semesters   semesterReader
	validator   *validator.Validate
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewEnrollmentService constructs the service.
func NewEnrollmentService(enrollments enrollmentStore, grades gradeRecordStore, subjects subjectCatalog, students studentReader, semesters semesterReader, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		grades:      grades,
		subjects:    subjects,
		students:    students,
		semesters:   semesters,
		validator:   validate,
		metrics:     metrics,
		logger:      logger,
	}
}

// Submit creates a PENDING enrollment for the (student, semester) slot. The
// subject list is snapshotted from the catalogue at submission time; later
// catalogue edits do not change what the student enrolled in.
func (s *EnrollmentService) Submit(ctx context.Context, req SubmitRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load student")
	}
	if _, err := s.semesters.FindByID(ctx, req.SemesterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load semester")
	}

	exists, err := s.enrollments.ExistsOpen(ctx, req.StudentID, req.SemesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to check open enrollment")
	}
	if exists {
		return nil, appErrors.ErrDuplicateEnrollment
	}

	snapshot, err := s.snapshotSubjects(ctx, dedupCodes(req.SubjectCodes))
	if err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		StudentID:    req.StudentID,
		SemesterID:   req.SemesterID,
		Status:       models.EnrollmentStatusPending,
		Subjects:     snapshot,
		RegisteredBy: req.RegisteredBy,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to create enrollment")
	}
	s.metrics.RecordTransition("NONE", string(models.EnrollmentStatusPending))
	return enrollment, nil
}

// Approve moves a PENDING enrollment to ENROLLED and creates the grade
// record mirroring the subject snapshot, grades zeroed and statuses empty.
// The enrollment write lands first; if the grade record insert then fails,
// Reconcile closes the gap on a later pass.
func (s *EnrollmentService) Approve(ctx context.Context, enrollmentID, approverID string) (*models.Enrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.ErrNotPending
	}

	if _, err := s.grades.FindByStudentAndSemester(ctx, enrollment.StudentID, enrollment.SemesterID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrInconsistentState, "grade record already exists for pending enrollment")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to check grade record")
	}

	now := time.Now().UTC()
	applied, err := s.enrollments.UpdateStatus(ctx, enrollment.ID, enrollment.Version, repository.UpdateStatusParams{
		Status:     models.EnrollmentStatusEnrolled,
		ApprovedBy: &approverID,
		DecidedAt:  &now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to approve enrollment")
	}
	if !applied {
		s.metrics.RecordConflict()
		return nil, appErrors.ErrConcurrentModification
	}
	s.metrics.RecordTransition(string(models.EnrollmentStatusPending), string(models.EnrollmentStatusEnrolled))

	record := &models.GradeRecord{
		StudentID:  enrollment.StudentID,
		SemesterID: enrollment.SemesterID,
		Entries:    entriesFromSubjects(enrollment.Subjects),
	}
	if err := s.grades.Create(ctx, record); err != nil {
		s.logger.Error("grade record creation failed after approval, reconciliation required",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("student_id", enrollment.StudentID),
			zap.String("semester_id", enrollment.SemesterID),
			zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to create grade record")
	}

	return s.loadEnrollment(ctx, enrollmentID)
}

// Deny moves a PENDING enrollment to DENIED. No grade record side effect.
func (s *EnrollmentService) Deny(ctx context.Context, enrollmentID, approverID string) (*models.Enrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.ErrNotPending
	}
	now := time.Now().UTC()
	applied, err := s.enrollments.UpdateStatus(ctx, enrollment.ID, enrollment.Version, repository.UpdateStatusParams{
		Status:     models.EnrollmentStatusDenied,
		ApprovedBy: &approverID,
		DecidedAt:  &now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to deny enrollment")
	}
	if !applied {
		s.metrics.RecordConflict()
		return nil, appErrors.ErrConcurrentModification
	}
	s.metrics.RecordTransition(string(models.EnrollmentStatusPending), string(models.EnrollmentStatusDenied))
	return s.loadEnrollment(ctx, enrollmentID)
}

// Discard moves a PENDING enrollment to DISCARDED, recording reason and
// actor. An ENROLLED enrollment cannot be discarded; dropping after approval
// goes through Update.
func (s *EnrollmentService) Discard(ctx context.Context, enrollmentID, reason, actorID string) (*models.Enrollment, error) {
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discard reason is required")
	}
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.ErrNotPending
	}
	now := time.Now().UTC()
	applied, err := s.enrollments.UpdateStatus(ctx, enrollment.ID, enrollment.Version, repository.UpdateStatusParams{
		Status:        models.EnrollmentStatusDiscarded,
		DiscardedBy:   &actorID,
		DiscardReason: &reason,
		DecidedAt:     &now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to discard enrollment")
	}
	if !applied {
		s.metrics.RecordConflict()
		return nil, appErrors.ErrConcurrentModification
	}
	s.metrics.RecordTransition(string(models.EnrollmentStatusPending), string(models.EnrollmentStatusDiscarded))
	return s.loadEnrollment(ctx, enrollmentID)
}

// Update changes the subject set of an ENROLLED enrollment and rewrites the
// grade record to match: kept subjects retain their grades, added subjects
// start ungraded, dropped subjects lose their entry. Adding an already
// present code is a no-op. Retrying after a partial failure converges: the
// same recomputation runs against whatever state the previous attempt left.
func (s *EnrollmentService) Update(ctx context.Context, enrollmentID string, req UpdateRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	if len(req.AddCodes) == 0 && len(req.DropCodes) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to add or drop")
	}

	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusEnrolled {
		return nil, appErrors.ErrNotEnrolled
	}

	record, err := s.grades.FindByStudentAndSemester(ctx, enrollment.StudentID, enrollment.SemesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInconsistentState, "grade record missing for enrolled enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load grade record")
	}

	subjects, err := s.applySubjectChanges(ctx, enrollment.Subjects, req.AddCodes, req.DropCodes)
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "update would leave the enrollment without subjects")
	}

	applied, err := s.enrollments.UpdateSubjects(ctx, enrollment.ID, enrollment.Version, subjects)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to update enrollment subjects")
	}
	if !applied {
		s.metrics.RecordConflict()
		return nil, appErrors.ErrConcurrentModification
	}
	s.metrics.RecordTransition(string(models.EnrollmentStatusEnrolled), string(models.EnrollmentStatusEnrolled))

	// One UPDATE swaps the whole entry list, so the record can never hold a
	// half-rewritten mix of old and new subjects.
	if err := s.grades.ReplaceEntries(ctx, record.ID, rebuildEntries(record.Entries, subjects)); err != nil {
		s.logger.Error("grade entry rewrite failed after subject update, retry will converge",
			zap.String("enrollment_id", enrollment.ID),
			zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to rewrite grade entries")
	}

	return s.loadEnrollment(ctx, enrollmentID)
}

// Reconcile repairs the known partial-failure gap of Approve: an ENROLLED
// enrollment whose grade record was never created. A set mismatch between an
// existing record and the enrollment is surfaced as InconsistentState, never
// auto-repaired, since rewriting it could mask real data corruption.
func (s *EnrollmentService) Reconcile(ctx context.Context, studentID string) (int, error) {
	enrollments, err := s.enrollments.ListEnrolledByStudent(ctx, studentID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list enrollments")
	}
	repaired := 0
	for _, enrollment := range enrollments {
		record, err := s.grades.FindByStudentAndSemester(ctx, enrollment.StudentID, enrollment.SemesterID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return repaired, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load grade record")
			}
			missing := &models.GradeRecord{
				StudentID:  enrollment.StudentID,
				SemesterID: enrollment.SemesterID,
				Entries:    entriesFromSubjects(enrollment.Subjects),
			}
			if err := s.grades.Create(ctx, missing); err != nil {
				return repaired, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to create missing grade record")
			}
			s.logger.Warn("recreated missing grade record",
				zap.String("enrollment_id", enrollment.ID),
				zap.String("student_id", enrollment.StudentID),
				zap.String("semester_id", enrollment.SemesterID))
			repaired++
			continue
		}
		if !sameCodeSet(enrollment.Subjects.CodeSet(), record.Entries.CodeSet()) {
			return repaired, appErrors.Clone(appErrors.ErrInconsistentState,
				fmt.Sprintf("enrollment %s and grade record %s disagree on subjects", enrollment.ID, record.ID))
		}
	}
	return repaired, nil
}

func (s *EnrollmentService) loadEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// snapshotSubjects resolves codes against the catalogue and freezes units
// and teacher as of now.
func (s *EnrollmentService) snapshotSubjects(ctx context.Context, codes []string) (models.EnrollmentSubjects, error) {
	subjects, err := s.subjects.ListByCodes(ctx, codes)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load subjects")
	}
	byCode := make(map[string]models.Subject, len(subjects))
	for _, subject := range subjects {
		byCode[subject.Code] = subject
	}
	snapshot := make(models.EnrollmentSubjects, 0, len(codes))
	for _, code := range codes {
		subject, ok := byCode[code]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown subject code %s", code))
		}
		snapshot = append(snapshot, models.EnrollmentSubject{
			SubjectCode: subject.Code,
			Units:       subject.Units,
			Teacher:     subject.Teacher,
			Status:      string(models.EnrollmentStatusPending),
		})
	}
	return snapshot, nil
}

func (s *EnrollmentService) applySubjectChanges(ctx context.Context, current models.EnrollmentSubjects, addCodes, dropCodes []string) (models.EnrollmentSubjects, error) {
	drop := make(map[string]struct{}, len(dropCodes))
	for _, code := range dropCodes {
		drop[code] = struct{}{}
	}

	next := make(models.EnrollmentSubjects, 0, len(current)+len(addCodes))
	present := make(map[string]struct{}, len(current))
	for _, subject := range current {
		if _, gone := drop[subject.SubjectCode]; gone {
			continue
		}
		next = append(next, subject)
		present[subject.SubjectCode] = struct{}{}
	}

	var newCodes []string
	for _, code := range dedupCodes(addCodes) {
		if _, ok := present[code]; ok {
			continue
		}
		if _, gone := drop[code]; gone {
			continue
		}
		newCodes = append(newCodes, code)
	}
	if len(newCodes) > 0 {
		added, err := s.snapshotSubjects(ctx, newCodes)
		if err != nil {
			return nil, err
		}
		next = append(next, added...)
	}
	return next, nil
}

// entriesFromSubjects derives the initial grade entries for a snapshot:
// grades zeroed, teacher and status empty until grading happens.
func entriesFromSubjects(subjects models.EnrollmentSubjects) models.GradeEntries {
	entries := make(models.GradeEntries, 0, len(subjects))
	for _, subject := range subjects {
		entries = append(entries, models.GradeEntry{SubjectCode: subject.SubjectCode})
	}
	return entries
}

// rebuildEntries maps the new subject list onto grade entries, carrying over
// the existing entry for kept subjects and zeroing added ones.
func rebuildEntries(existing models.GradeEntries, subjects models.EnrollmentSubjects) models.GradeEntries {
	byCode := make(map[string]models.GradeEntry, len(existing))
	for _, entry := range existing {
		byCode[entry.SubjectCode] = entry
	}
	entries := make(models.GradeEntries, 0, len(subjects))
	for _, subject := range subjects {
		if entry, ok := byCode[subject.SubjectCode]; ok {
			entries = append(entries, entry)
			continue
		}
		entries = append(entries, models.GradeEntry{SubjectCode: subject.SubjectCode})
	}
	return entries
}

func dedupCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func sameCodeSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for code := range a {
		if _, ok := b[code]; !ok {
			return false
		}
	}
	return true
}
