package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AnalyticsJobStatus captures background job lifecycle states.
type AnalyticsJobStatus string

const (
	AnalyticsJobQueued     AnalyticsJobStatus = "QUEUED"
	AnalyticsJobProcessing AnalyticsJobStatus = "PROCESSING"
	AnalyticsJobFinished   AnalyticsJobStatus = "FINISHED"
	AnalyticsJobFailed     AnalyticsJobStatus = "FAILED"
)

// AnalyticsJobParams stores the request-scoped options persisted as JSONB.
// The same parameters feed the computation key, so a restarted job resumes
// the same checkpoint.
type AnalyticsJobParams struct {
	Type      ReportType       `json:"type"`
	Filter    PopulationFilter `json:"filter"`
	BatchSize int              `json:"batch_size,omitempty"`
	TopN      int              `json:"top_n,omitempty"`
}

// Value marshals params to JSON for persistence.
func (p AnalyticsJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal analytics job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *AnalyticsJobParams) Scan(value interface{}) error {
	if value == nil {
		*p = AnalyticsJobParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AnalyticsJobParams", value)
	}
	if len(data) == 0 {
		*p = AnalyticsJobParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal analytics job params: %w", err)
	}
	return nil
}

// AnalyticsJob is the persisted metadata of one asynchronous report
// computation.
type AnalyticsJob struct {
	ID           string             `db:"id" json:"id"`
	Params       AnalyticsJobParams `db:"params" json:"params"`
	Status       AnalyticsJobStatus `db:"status" json:"status"`
	Progress     int                `db:"progress" json:"progress"`
	Result       Report             `db:"result" json:"result,omitempty"`
	CreatedBy    string             `db:"created_by" json:"created_by"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time         `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string            `db:"error_message" json:"error_message,omitempty"`
}
