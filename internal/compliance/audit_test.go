package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventEncodesDetails(t *testing.T) {
	ev := NewEvent(EventTemplateUpdated, "nurse-1", "nurse", "pain_high_001", map[string]any{"version": 2})
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.JSONEq(t, `{"version":2}`, string(ev.Details))

	bare := NewEvent(EventReportViewed, "nurse-1", "", "RPT_1", nil)
	assert.Nil(t, bare.Details)
}

func TestSQLTrailRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	trail := NewSQLTrail(db)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "report.viewed", "nurse-1", "nurse", "RPT_P001", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, trail.Record(context.Background(), AuditEvent{
		EventType: EventReportViewed,
		Actor:     "nurse-1",
		ActorRole: "nurse",
		SubjectID: "RPT_P001",
	}))

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(errors.New("connection reset"))
	err = trail.Record(context.Background(), NewEvent(EventReplayRetried, "admin-1", "admin", "RPT_P002", nil))
	assert.ErrorContains(t, err, "record audit event")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTrailQueryBuildsFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	trail := NewSQLTrail(db)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "event_type", "actor", "actor_role", "subject_id", "details", "created_at"}).
		AddRow("e1", "template.updated", "nurse-1", "nurse", "pain_high_001", []byte(`{"version":3}`), at).
		AddRow("e2", "template.updated", "nurse-1", nil, "fatigue_low_001", nil, at.Add(-time.Minute))
	mock.ExpectQuery(`FROM audit_events\s+WHERE 1 = 1 AND actor = \$1 AND event_type = \$2 ORDER BY created_at DESC LIMIT 20`).
		WithArgs("nurse-1", "template.updated").
		WillReturnRows(rows)

	got, err := trail.Query(context.Background(), AuditFilter{Actor: "nurse-1", EventType: EventTemplateUpdated, Limit: 20})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "nurse", got[0].ActorRole)
	assert.JSONEq(t, `{"version":3}`, string(got[0].Details))
	assert.Empty(t, got[1].ActorRole)
	assert.Nil(t, got[1].Details)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryTrailFiltersNewestFirst(t *testing.T) {
	ctx := context.Background()
	trail := NewMemoryTrail()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, subject := range []string{"RPT_1", "RPT_2", "RPT_1"} {
		require.NoError(t, trail.Record(ctx, AuditEvent{
			EventType: EventReportViewed,
			Actor:     "nurse-1",
			SubjectID: subject,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, trail.Record(ctx, AuditEvent{EventType: EventReplayRetried, Actor: "admin-1", SubjectID: "RPT_1"}))

	got, err := trail.Query(ctx, AuditFilter{SubjectID: "RPT_1", EventType: EventReportViewed})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))

	got, err = trail.Query(ctx, AuditFilter{Since: base.Add(90 * time.Second), Actor: "nurse-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	all, err := trail.Query(ctx, AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, EventReplayRetried, all[0].EventType)

}
