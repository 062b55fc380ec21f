package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrReportNotFound is returned when a report id is unknown.
var ErrReportNotFound = errors.New("assessment: report not found")

// PostgresSink writes reports to symptom_assessments.
type PostgresSink struct {
	db pgxQuerier
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	if pool == nil {
		panic("assessment: pgx pool required")
	}
	return &PostgresSink{db: pool}
}

func newPostgresSinkWithQuerier(db pgxQuerier) *PostgresSink {
	return &PostgresSink{db: db}
}

// Save inserts the report. A report id that already exists is left untouched.
func (s *PostgresSink) Save(ctx context.Context, a *SymptomAssessment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("assessment: marshal report: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO symptom_assessments (
			report_id, patient_id, session_id, method, avg_score, alert_level,
			max_symptom, needs_review, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (report_id) DO NOTHING
	`, a.ReportID, a.PatientID, a.SessionID, string(a.Method), a.AvgScore, string(a.AlertLevel),
		a.MaxSymptom, a.NeedsReview, body, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("assessment: insert report: %w", err)
	}
	return nil
}

// Get loads a stored report by id.
func (s *PostgresSink) Get(ctx context.Context, reportID string) (*SymptomAssessment, error) {
	var body []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM symptom_assessments WHERE report_id = $1`, reportID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("assessment: load report: %w", err)
	}
	var a SymptomAssessment
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("assessment: decode report: %w", err)
	}
	return &a, nil
}

var _ Sink = (*PostgresSink)(nil)
