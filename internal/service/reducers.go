package service

import (
	"sort"
	"time"

	"github.com/campuskit/academic-core/internal/models"
)

const (
	deansListMinGrade  = 85.0
	deansListMeanGrade = 90.0
	probationFraction  = 0.3
)

// mergeReport folds the accumulated per-student aggregates into the final
// report for the requested type. Reducers are pure over the aggregate list,
// so merging after a resumed run produces the same output as an
// uninterrupted one.
func mergeReport(reportType models.ReportType, aggregates models.AggregateList, topN int) models.Report {
	report := models.Report{
		Type:        reportType,
		GeneratedAt: time.Now().UTC(),
	}
	switch reportType {
	case models.ReportTypeDeansList:
		report.DeansList = reduceDeansList(aggregates, topN)
	case models.ReportTypeProbation:
		report.Probation = reduceProbation(aggregates, topN)
	case models.ReportTypeRetention:
		report.Retention = reduceRetention(aggregates)
	case models.ReportTypeSubjectDifficulty:
		report.SubjectDifficulty = reduceSubjectDifficulty(aggregates, topN)
	}
	return report
}

// reduceDeansList keeps students whose every graded entry is at least 85 and
// whose mean is at least 90, ranked by mean descending.
func reduceDeansList(aggregates models.AggregateList, topN int) []models.DeansListRow {
	rows := make([]models.DeansListRow, 0)
	for _, aggregate := range aggregates {
		if aggregate.GradeCount == 0 {
			continue
		}
		if aggregate.MinGrade < deansListMinGrade || aggregate.Mean() < deansListMeanGrade {
			continue
		}
		rows = append(rows, models.DeansListRow{
			StudentID:   aggregate.StudentID,
			StudentName: aggregate.StudentName,
			MeanGrade:   aggregate.Mean(),
			MinGrade:    aggregate.MinGrade,
			GradeCount:  aggregate.GradeCount,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].MeanGrade != rows[j].MeanGrade {
			return rows[i].MeanGrade > rows[j].MeanGrade
		}
		return rows[i].StudentID < rows[j].StudentID
	})
	if len(rows) > topN {
		rows = rows[:topN]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

// reduceProbation keeps students with any graded entry below passing or with
// at least 30% of graded entries failing, worst mean first.
func reduceProbation(aggregates models.AggregateList, topN int) []models.ProbationRow {
	rows := make([]models.ProbationRow, 0)
	for _, aggregate := range aggregates {
		if aggregate.GradeCount == 0 {
			continue
		}
		if aggregate.MinGrade >= models.PassingGrade && aggregate.FailingFraction() < probationFraction {
			continue
		}
		rows = append(rows, models.ProbationRow{
			StudentID:       aggregate.StudentID,
			StudentName:     aggregate.StudentName,
			MeanGrade:       aggregate.Mean(),
			MinGrade:        aggregate.MinGrade,
			FailingFraction: aggregate.FailingFraction(),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].MeanGrade != rows[j].MeanGrade {
			return rows[i].MeanGrade < rows[j].MeanGrade
		}
		return rows[i].StudentID < rows[j].StudentID
	})
	if len(rows) > topN {
		rows = rows[:topN]
	}
	return rows
}

// reduceRetention computes, for each semester except the chronologically
// last, how many of its students also appear in the immediately following
// semester.
func reduceRetention(aggregates models.AggregateList) []models.RetentionRow {
	present := make(map[models.SemesterRef]map[string]struct{})
	for _, aggregate := range aggregates {
		for _, ref := range aggregate.Semesters {
			students, ok := present[ref]
			if !ok {
				students = make(map[string]struct{})
				present[ref] = students
			}
			students[aggregate.StudentID] = struct{}{}
		}
	}

	ordered := make([]models.SemesterRef, 0, len(present))
	for ref := range present {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	// The final semester has no successor to retain into.
	rows := make([]models.RetentionRow, 0)
	for i := 0; i+1 < len(ordered); i++ {
		current, next := present[ordered[i]], present[ordered[i+1]]
		retained := 0
		for studentID := range current {
			if _, ok := next[studentID]; ok {
				retained++
			}
		}
		row := models.RetentionRow{
			SchoolYear: ordered[i].SchoolYear,
			Term:       ordered[i].Term,
			Total:      len(current),
			Retained:   retained,
		}
		if row.Total > 0 {
			row.Rate = float64(row.Retained) / float64(row.Total)
		}
		rows = append(rows, row)
	}
	return rows
}

// reduceSubjectDifficulty sums per-subject attempt and failure tallies across
// the population and ranks subjects by failure rate descending.
func reduceSubjectDifficulty(aggregates models.AggregateList, topN int) []models.SubjectDifficultyRow {
	tallies := make(map[string]models.SubjectTally)
	for _, aggregate := range aggregates {
		for code, tally := range aggregate.SubjectTallies {
			combined := tallies[code]
			combined.Attempts += tally.Attempts
			combined.Failures += tally.Failures
			tallies[code] = combined
		}
	}

	rows := make([]models.SubjectDifficultyRow, 0, len(tallies))
	for code, tally := range tallies {
		if tally.Attempts == 0 {
			continue
		}
		rows = append(rows, models.SubjectDifficultyRow{
			SubjectCode: code,
			Attempts:    tally.Attempts,
			Failures:    tally.Failures,
			FailureRate: float64(tally.Failures) / float64(tally.Attempts),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FailureRate != rows[j].FailureRate {
			return rows[i].FailureRate > rows[j].FailureRate
		}
		return rows[i].SubjectCode < rows[j].SubjectCode
	})
	if len(rows) > topN {
		rows = rows[:topN]
	}
	return rows
}
