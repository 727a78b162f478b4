package model

import (
	"time"

	"github.com/google/uuid"
)

// NegativeMarking configures the penalty applied to incorrect single answers.
type NegativeMarking struct {
	Enabled bool    `json:"enabled"`
	Points  float64 `json:"points" binding:"omitempty,min=0"`
}

// PartialCredit configures the fractional award for multiple-mark questions
// whose selection covers the full correct set.
type PartialCredit struct {
	Enabled  bool    `json:"enabled"`
	Fraction float64 `json:"fraction" binding:"omitempty,gt=0,lt=1"`
}

// ScoringRules is the validated scoring configuration bound to an AnswerKey.
// The free-form JSON rule maps of older sheet formats are rejected at load
// time in favor of these explicit fields.
type ScoringRules struct {
	PointsPerQuestion float64            `json:"points_per_question" binding:"required,gt=0"`
	NegativeMarking   NegativeMarking    `json:"negative_marking"`
	PartialCredit     PartialCredit      `json:"partial_credit"`
	SubjectWeights    map[string]float64 `json:"subject_weights,omitempty"`
}

// WeightFor returns the configured weight for a subject, defaulting to 1.0.
func (r ScoringRules) WeightFor(subject string) float64 {
	if w, ok := r.SubjectWeights[subject]; ok {
		return w
	}
	return 1.0
}

// AnswerKey holds the correct answers and scoring rules for one exam, bound
// to the Template describing the sheet layout. Multi-correct questions map
// to more than one label.
type AnswerKey struct {
	ID            uuid.UUID        `json:"id"`
	TemplateID    uuid.UUID        `json:"template_id"`
	Name          string           `json:"name"`
	Version       int              `json:"version"`
	QuestionCount int              `json:"question_count"`
	Answers       map[int][]string `json:"answers"`
	Rules         ScoringRules     `json:"scoring_rules"`
	CreatedAt     time.Time        `json:"created_at"`
}

// RegisterAnswerKeyRequest is the payload for registering an answer key
// against a previously registered template.
type RegisterAnswerKeyRequest struct {
	TemplateID    string           `json:"template_id" binding:"required,uuid"`
	Name          string           `json:"name" binding:"required,min=3,max=255"`
	QuestionCount int              `json:"question_count" binding:"required,min=1"`
	Answers       map[int][]string `json:"answers" binding:"required"`
	Rules         ScoringRules     `json:"scoring_rules" binding:"required"`
}
