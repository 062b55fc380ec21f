package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const templateColumns = `template_id, category, scenario_name, symptom_type, score_min, score_max,
	time_of_day, topic, has_severe, trigger_keywords, response_template, response_variations,
	follow_up_actions, author_name, author_role, reviewed_by, version, is_active, is_approved,
	use_count, last_used_at, created_at, updated_at`

// PostgresRepository stores templates in the expert_templates table.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository returns a repository over db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	if db == nil {
		panic("templates: sql db cannot be nil")
	}
	return &PostgresRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (Template, error) {
	var (
		t                         Template
		category                  string
		symptom, timeOfDay, topic sql.NullString
		scoreMin, scoreMax        sql.NullInt64
		hasSevere                 sql.NullBool
		reviewedBy                sql.NullString
		lastUsed                  sql.NullTime
	)
	err := row.Scan(&t.ID, &category, &t.ScenarioName, &symptom, &scoreMin, &scoreMax,
		&timeOfDay, &topic, &hasSevere, pq.Array(&t.TriggerKeywords), &t.Response, pq.Array(&t.Variations),
		pq.Array(&t.FollowUpActions), &t.AuthorName, &t.AuthorRole, &reviewedBy, &t.Version, &t.Active, &t.Approved,
		&t.UseCount, &lastUsed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Template{}, err
	}
	t.Category = Category(category)
	t.Conditions.SymptomType = symptom.String
	t.Conditions.TimeOfDay = TimeOfDay(timeOfDay.String)
	t.Conditions.Topic = Topic(topic.String)
	if scoreMin.Valid && scoreMax.Valid {
		t.Conditions.ScoreRange = &ScoreRange{Min: int(scoreMin.Int64), Max: int(scoreMax.Int64)}
	}
	if hasSevere.Valid {
		v := hasSevere.Bool
		t.Conditions.HasSevere = &v
	}
	t.ReviewedBy = reviewedBy.String
	if lastUsed.Valid {
		at := lastUsed.Time
		t.LastUsed = &at
	}
	return t, nil
}

func (r *PostgresRepository) query(ctx context.Context, where string) ([]Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM expert_templates `+where+` ORDER BY created_at, template_id`)
	if err != nil {
		return nil, fmt.Errorf("templates: query: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("templates: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]Template, error) {
	return r.query(ctx, "WHERE is_active AND is_approved")
}

func (r *PostgresRepository) List(ctx context.Context) ([]Template, error) {
	return r.query(ctx, "")
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM expert_templates WHERE template_id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("templates: get %s: %w", id, err)
	}
	return &t, nil
}

func (r *PostgresRepository) RecordUsage(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE expert_templates SET use_count = use_count + 1, last_used_at = $2
		WHERE template_id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("templates: record usage %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// Upsert inserts or updates a template; updates bump the version.
func (r *PostgresRepository) Upsert(ctx context.Context, t Template) error {
	if err := Validate(t); err != nil {
		return err
	}
	var scoreMin, scoreMax sql.NullInt64
	if rg := t.Conditions.ScoreRange; rg != nil {
		scoreMin = sql.NullInt64{Int64: int64(rg.Min), Valid: true}
		scoreMax = sql.NullInt64{Int64: int64(rg.Max), Valid: true}
	}
	var hasSevere sql.NullBool
	if t.Conditions.HasSevere != nil {
		hasSevere = sql.NullBool{Bool: *t.Conditions.HasSevere, Valid: true}
	}
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expert_templates (template_id, category, scenario_name, symptom_type, score_min, score_max,
			time_of_day, topic, has_severe, trigger_keywords, response_template, response_variations,
			follow_up_actions, author_name, author_role, reviewed_by, version, is_active, is_approved,
			use_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18, 0, $19, $19)
		ON CONFLICT (template_id) DO UPDATE SET
			category = EXCLUDED.category,
			scenario_name = EXCLUDED.scenario_name,
			symptom_type = EXCLUDED.symptom_type,
			score_min = EXCLUDED.score_min,
			score_max = EXCLUDED.score_max,
			time_of_day = EXCLUDED.time_of_day,
			topic = EXCLUDED.topic,
			has_severe = EXCLUDED.has_severe,
			trigger_keywords = EXCLUDED.trigger_keywords,
			response_template = EXCLUDED.response_template,
			response_variations = EXCLUDED.response_variations,
			follow_up_actions = EXCLUDED.follow_up_actions,
			author_name = EXCLUDED.author_name,
			author_role = EXCLUDED.author_role,
			reviewed_by = EXCLUDED.reviewed_by,
			is_active = EXCLUDED.is_active,
			is_approved = EXCLUDED.is_approved,
			version = expert_templates.version + 1,
			updated_at = EXCLUDED.updated_at`,
		t.ID, string(t.Category), t.ScenarioName, nullString(t.Conditions.SymptomType), scoreMin, scoreMax,
		nullString(string(t.Conditions.TimeOfDay)), nullString(string(t.Conditions.Topic)), hasSevere,
		pq.Array(t.TriggerKeywords), t.Response, pq.Array(t.Variations), pq.Array(t.FollowUpActions),
		t.AuthorName, t.AuthorRole, nullString(t.ReviewedBy), t.Active, t.Approved, now)
	if err != nil {
		return fmt.Errorf("templates: upsert %s: %w", t.ID, err)
	}
	return nil
}

// Seed inserts templates that do not exist yet, leaving authored ones untouched.
func (r *PostgresRepository) Seed(ctx context.Context, list []Template) (int, error) {
	inserted := 0
	for _, t := range list {
		if _, err := r.Get(ctx, t.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrTemplateNotFound) {
			return inserted, err
		}
		if err := r.Upsert(ctx, t); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresRepository)(nil)
