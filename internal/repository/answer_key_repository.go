package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markscan/omr-backend/internal/model"
)

// ErrDuplicateKeyVersion is returned when an answer key with the same name
// and version already exists.
var ErrDuplicateKeyVersion = errors.New("answer key name and version already registered")

// AnswerKeyRepository handles answer key data access.
type AnswerKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerKeyRepository creates a new AnswerKeyRepository.
func NewAnswerKeyRepository(pool *pgxpool.Pool) *AnswerKeyRepository {
	return &AnswerKeyRepository{pool: pool}
}

// Create inserts a registered answer key.
func (r *AnswerKeyRepository) Create(ctx context.Context, k *model.AnswerKey) error {
	answers, err := json.Marshal(k.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	rules, err := json.Marshal(k.Rules)
	if err != nil {
		return fmt.Errorf("marshal scoring rules: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO answer_keys (id, template_id, name, version, question_count, answers, scoring_rules, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.TemplateID, k.Name, k.Version, k.QuestionCount, answers, rules, k.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateKeyVersion
		}
		return err
	}
	return nil
}

// GetByID retrieves an answer key.
func (r *AnswerKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AnswerKey, error) {
	k := &model.AnswerKey{}
	var answers, rules []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, template_id, name, version, question_count, answers, scoring_rules, created_at
		 FROM answer_keys WHERE id = $1`, id,
	).Scan(&k.ID, &k.TemplateID, &k.Name, &k.Version, &k.QuestionCount, &answers, &rules, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &k.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if err := json.Unmarshal(rules, &k.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal scoring rules: %w", err)
	}
	return k, nil
}

// ListAll retrieves every registered answer key, oldest first. Used to
// prewarm the in-memory registry at startup.
func (r *AnswerKeyRepository) ListAll(ctx context.Context) ([]*model.AnswerKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, template_id, name, version, question_count, answers, scoring_rules, created_at
		 FROM answer_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*model.AnswerKey
	for rows.Next() {
		k := &model.AnswerKey{}
		var answers, rules []byte
		if err := rows.Scan(&k.ID, &k.TemplateID, &k.Name, &k.Version, &k.QuestionCount, &answers, &rules, &k.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(answers, &k.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		if err := json.Unmarshal(rules, &k.Rules); err != nil {
			return nil, fmt.Errorf("unmarshal scoring rules: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
