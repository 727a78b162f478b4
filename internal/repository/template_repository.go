package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markscan/omr-backend/internal/model"
)

// TemplateRepository handles sheet template data access.
type TemplateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// Create inserts a registered template.
func (r *TemplateRepository) Create(ctx context.Context, t *model.Template) error {
	areas, err := json.Marshal(t.SubjectAreas)
	if err != nil {
		return fmt.Errorf("marshal subject areas: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO templates (id, name, version, question_count, options_per_question, subject_areas, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Version, t.QuestionCount, t.OptionsPerQuestion, areas, t.CreatedAt)
	return err
}

// GetByID retrieves a template.
func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	t := &model.Template{}
	var areas []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, version, question_count, options_per_question, subject_areas, created_at
		 FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Version, &t.QuestionCount, &t.OptionsPerQuestion, &areas, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(areas, &t.SubjectAreas); err != nil {
		return nil, fmt.Errorf("unmarshal subject areas: %w", err)
	}
	return t, nil
}

// ListAll retrieves every registered template, oldest first. Used to prewarm
// the in-memory registry at startup.
func (r *TemplateRepository) ListAll(ctx context.Context) ([]*model.Template, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, version, question_count, options_per_question, subject_areas, created_at
		 FROM templates ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*model.Template
	for rows.Next() {
		t := &model.Template{}
		var areas []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Version, &t.QuestionCount, &t.OptionsPerQuestion, &areas, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(areas, &t.SubjectAreas); err != nil {
			return nil, fmt.Errorf("unmarshal subject areas: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
