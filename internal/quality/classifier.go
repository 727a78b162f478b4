package quality

import (
	"fmt"

	"github.com/markscan/omr-backend/internal/model"
)

// TierThreshold maps a minimum mean confidence to a quality tier. Ladders
// are ordered from highest threshold down; the first match wins, and
// anything below the last threshold is TierFailed.
type TierThreshold struct {
	Tier model.QualityTier
	Min  float64
}

// DefaultLadder is the standard tier ladder.
var DefaultLadder = []TierThreshold{
	{model.TierExcellent, 0.95},
	{model.TierGood, 0.85},
	{model.TierFair, 0.70},
	{model.TierPoor, 0.50},
}

// Classifier derives an aggregate confidence and quality tier from the
// per-question confidences of a sheet, and decides whether the result needs
// a human pass. Like the scoring engine it is pure and safe to share.
type Classifier struct {
	ladder []TierThreshold
	// reviewThreshold flags sheets whose mean confidence falls below it.
	reviewThreshold float64
	// ambiguityLimit flags sheets whose fraction of multiple/unanswered
	// outcomes exceeds it. Low average confidence is a systematic signal;
	// a few badly ambiguous marks are a localized one. Either routes the
	// sheet to a human.
	ambiguityLimit float64
}

// NewClassifier creates a Classifier with the default tier ladder.
func NewClassifier(reviewThreshold, ambiguityLimit float64) *Classifier {
	return &Classifier{
		ladder:          DefaultLadder,
		reviewThreshold: reviewThreshold,
		ambiguityLimit:  ambiguityLimit,
	}
}

// WithLadder replaces the tier ladder. Thresholds must be ordered from
// highest to lowest.
func (c *Classifier) WithLadder(ladder []TierThreshold) *Classifier {
	c.ladder = ladder
	return c
}

// Classify fills the confidence and quality fields of result in place from
// the detected answers it was scored against.
func (c *Classifier) Classify(detected []model.DetectedAnswer, result *model.ScoringResult) {
	result.ConfidenceMetrics = confidenceMetrics(detected)
	result.ConfidenceScore = result.ConfidenceMetrics.Average
	result.QualityTier = c.tierFor(result.ConfidenceScore)

	ambiguous := result.AmbiguousCount()
	ratio := 0.0
	if n := len(result.QuestionOutcomes); n > 0 {
		ratio = float64(ambiguous) / float64(n)
	}
	result.NeedsReview = result.ConfidenceScore < c.reviewThreshold || ratio > c.ambiguityLimit

	result.ProcessingNotes = processingNotes(result)
}

func (c *Classifier) tierFor(confidence float64) model.QualityTier {
	for _, t := range c.ladder {
		if confidence >= t.Min {
			return t.Tier
		}
	}
	return model.TierFailed
}

// confidenceMetrics summarizes the detector confidence distribution.
func confidenceMetrics(detected []model.DetectedAnswer) model.ConfidenceMetrics {
	if len(detected) == 0 {
		return model.ConfidenceMetrics{}
	}

	m := model.ConfidenceMetrics{Min: detected[0].Confidence, Max: detected[0].Confidence}
	sum := 0.0
	for _, d := range detected {
		sum += d.Confidence
		if d.Confidence < m.Min {
			m.Min = d.Confidence
		}
		if d.Confidence > m.Max {
			m.Max = d.Confidence
		}
		if d.Confidence < 0.70 {
			m.Low++
		}
		if d.Confidence >= 0.90 {
			m.High++
		}
	}
	m.Average = sum / float64(len(detected))
	return m
}

// processingNotes generates human-readable diagnostics for the result.
func processingNotes(result *model.ScoringResult) []string {
	var notes []string

	if result.ConfidenceMetrics.Low > 0 {
		notes = append(notes, fmt.Sprintf("%d questions had low confidence detection", result.ConfidenceMetrics.Low))
	}

	total := len(result.QuestionOutcomes)
	if total == 0 {
		return notes
	}

	answered := 0
	for _, q := range result.QuestionOutcomes {
		if q.Outcome == model.OutcomeCorrect || q.Outcome == model.OutcomeIncorrect {
			answered++
		}
	}
	if float64(answered) < float64(total)*0.8 {
		notes = append(notes, "Many questions were not answered - check image quality")
	}

	lowSubjects := 0
	for _, s := range result.SubjectScores {
		if s.Max > 0 && s.Score/s.Max*100 < 40 {
			lowSubjects++
		}
	}
	if len(result.SubjectScores) > 0 && lowSubjects > len(result.SubjectScores)/2 {
		notes = append(notes, "Multiple subjects show low performance - verify answer key alignment")
	}

	return notes
}
