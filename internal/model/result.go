package model

// Outcome enumerates the evaluation of a single question.
type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeUnanswered Outcome = "unanswered"
	OutcomeMultiple   Outcome = "multiple"
)

// QualityTier enumerates the reliability classification of a scored sheet.
type QualityTier string

const (
	TierExcellent QualityTier = "excellent"
	TierGood      QualityTier = "good"
	TierFair      QualityTier = "fair"
	TierPoor      QualityTier = "poor"
	TierFailed    QualityTier = "failed"
)

// QuestionOutcome is the per-question scoring record. PointsAwarded is
// negative only when negative marking is enabled.
type QuestionOutcome struct {
	QuestionNumber int     `json:"question_number"`
	Outcome        Outcome `json:"outcome"`
	PointsAwarded  float64 `json:"points_awarded"`
	MaxPoints      float64 `json:"max_points"`
}

// SubjectScore is the weighted score bucket for one subject area.
type SubjectScore struct {
	Score float64 `json:"score"`
	Max   float64 `json:"max"`
	Grade string  `json:"grade,omitempty"`
}

// ConfidenceMetrics summarizes the detector confidence distribution over a
// sheet. Low counts detections under 0.70, High counts those at or above 0.90.
type ConfidenceMetrics struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Low     int     `json:"low_confidence_count"`
	High    int     `json:"high_confidence_count"`
}

// ScoringResult is the full evaluation of one sheet. It is the stable wire
// and storage shape: it round-trips losslessly through persistence.
type ScoringResult struct {
	QuestionOutcomes  []QuestionOutcome       `json:"question_outcomes"`
	SubjectScores     map[string]SubjectScore `json:"subject_scores"`
	TotalScore        float64                 `json:"total_score"`
	MaxPossibleScore  float64                 `json:"max_possible_score"`
	Percentage        float64                 `json:"percentage"`
	Grade             string                  `json:"grade"`
	ConfidenceScore   float64                 `json:"confidence_score"`
	ConfidenceMetrics ConfidenceMetrics       `json:"confidence_metrics"`
	QualityTier       QualityTier             `json:"quality_tier"`
	NeedsReview       bool                    `json:"needs_review"`
	ProcessingNotes   []string                `json:"processing_notes,omitempty"`
}

// AmbiguousCount returns how many questions resolved to multiple or
// unanswered, the two outcomes that feed the review ambiguity ratio.
func (r *ScoringResult) AmbiguousCount() int {
	n := 0
	for _, q := range r.QuestionOutcomes {
		if q.Outcome == OutcomeMultiple || q.Outcome == OutcomeUnanswered {
			n++
		}
	}
	return n
}
