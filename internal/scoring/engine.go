package scoring

import (
	"sort"
	"strconv"
	"strings"

	"github.com/markscan/omr-backend/internal/model"
)

// Engine evaluates detected marks against an answer key. It performs no I/O
// and holds no mutable state, so a single instance may be shared across
// workers without synchronization.
type Engine struct{}

// NewEngine creates a new scoring Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate scores one sheet's detected answers against the given key and its
// bound template. Question outcomes are evaluated independently; the result
// is deterministic for identical inputs.
//
// Failure modes: *model.ConfigError when the key and template disagree
// (fatal, systemic) and *model.MalformedInputError when a detected answer
// references a question the key does not know (fatal for this sheet only).
func (e *Engine) Evaluate(detected []model.DetectedAnswer, key *model.AnswerKey, tmpl *model.Template) (*model.ScoringResult, error) {
	if key.QuestionCount != tmpl.QuestionCount {
		return nil, model.NewConfigError("answer key question_count does not match template question_count")
	}

	byQuestion := make(map[int]model.DetectedAnswer, len(detected))
	for _, d := range detected {
		if d.QuestionNumber < 1 || d.QuestionNumber > key.QuestionCount {
			return nil, &model.MalformedInputError{QuestionNumber: d.QuestionNumber}
		}
		if _, dup := byQuestion[d.QuestionNumber]; dup {
			return nil, &model.MalformedInputError{
				QuestionNumber: d.QuestionNumber,
				Reason:         "duplicated in detected answers",
			}
		}
		byQuestion[d.QuestionNumber] = d
	}

	outcomes := make([]model.QuestionOutcome, 0, key.QuestionCount)
	rawSubject := make(map[string]float64, len(tmpl.SubjectAreas))
	maxSubject := make(map[string]float64, len(tmpl.SubjectAreas))

	for q := 1; q <= key.QuestionCount; q++ {
		correct, ok := key.Answers[q]
		if !ok {
			return nil, model.NewConfigError(
				"answer key has no entry for question " + strconv.Itoa(q))
		}

		area, ok := tmpl.SubjectFor(q)
		if !ok {
			return nil, model.NewConfigError(
				"template subject areas do not cover question " + strconv.Itoa(q))
		}

		out := e.scoreQuestion(byQuestion[q], correct, key.Rules)
		out.QuestionNumber = q
		out.MaxPoints = key.Rules.PointsPerQuestion
		outcomes = append(outcomes, out)

		rawSubject[area.Name] += out.PointsAwarded
		maxSubject[area.Name] += key.Rules.PointsPerQuestion
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].QuestionNumber < outcomes[j].QuestionNumber
	})

	// Weighted aggregation in sorted subject order. Float addition is
	// order-sensitive, so a fixed order keeps totals identical across runs.
	// Max is computed identically regardless of outcomes so it is stable
	// across sheets sharing a key.
	subjects := make([]string, 0, len(rawSubject))
	for subject := range rawSubject {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	subjectScores := make(map[string]model.SubjectScore, len(rawSubject))
	var total, maxTotal float64
	for _, subject := range subjects {
		raw := rawSubject[subject]
		w := key.Rules.WeightFor(subject)
		score := raw * w
		max := maxSubject[subject] * w
		pct := 0.0
		if max > 0 {
			pct = score / max * 100
		}
		subjectScores[subject] = model.SubjectScore{
			Score: score,
			Max:   max,
			Grade: GradeFor(pct),
		}
		total += score
		maxTotal += max
	}

	// The floor applies to the aggregate, not per question, so penalties
	// elsewhere still offset positive points before clamping.
	if total < 0 {
		total = 0
	}
	if total > maxTotal {
		total = maxTotal
	}

	percentage := 0.0
	if maxTotal > 0 {
		percentage = total / maxTotal * 100
	}

	return &model.ScoringResult{
		QuestionOutcomes: outcomes,
		SubjectScores:    subjectScores,
		TotalScore:       total,
		MaxPossibleScore: maxTotal,
		Percentage:       percentage,
		Grade:            GradeFor(percentage),
	}, nil
}

// scoreQuestion applies the per-question rules. A missing detection behaves
// as an unanswered question (empty SelectedOptions).
func (e *Engine) scoreQuestion(d model.DetectedAnswer, correct []string, rules model.ScoringRules) model.QuestionOutcome {
	switch {
	case len(d.SelectedOptions) == 0:
		return model.QuestionOutcome{Outcome: model.OutcomeUnanswered}

	case len(d.SelectedOptions) > 1:
		// Multiple marks are invalid, never "pick the best one". Partial
		// credit applies only when the selection covers the whole correct
		// set, i.e. the extra marks are the only mistake.
		if rules.PartialCredit.Enabled && coversAll(d.SelectedOptions, correct) {
			return model.QuestionOutcome{
				Outcome:       model.OutcomeMultiple,
				PointsAwarded: rules.PointsPerQuestion * rules.PartialCredit.Fraction,
			}
		}
		return model.QuestionOutcome{Outcome: model.OutcomeMultiple}

	default:
		if containsFold(correct, d.SelectedOptions[0]) {
			return model.QuestionOutcome{
				Outcome:       model.OutcomeCorrect,
				PointsAwarded: rules.PointsPerQuestion,
			}
		}
		out := model.QuestionOutcome{Outcome: model.OutcomeIncorrect}
		if rules.NegativeMarking.Enabled {
			out.PointsAwarded = -rules.NegativeMarking.Points
		}
		return out
	}
}

// coversAll reports whether selected is a superset of correct,
// case-insensitively.
func coversAll(selected, correct []string) bool {
	for _, c := range correct {
		if !containsFold(selected, c) {
			return false
		}
	}
	return true
}

func containsFold(labels []string, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

