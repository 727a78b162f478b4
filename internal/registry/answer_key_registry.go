package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
)

// AnswerKeyRegistry validates and exposes answer keys bound to registered
// templates. Like templates, registered keys are immutable; a correction
// registers as a new version.
type AnswerKeyRegistry struct {
	mu        sync.RWMutex
	keys      map[uuid.UUID]*model.AnswerKey
	templates *TemplateRegistry
	log       zerolog.Logger
}

// NewAnswerKeyRegistry creates an empty AnswerKeyRegistry bound to the
// template registry it validates against.
func NewAnswerKeyRegistry(templates *TemplateRegistry, log zerolog.Logger) *AnswerKeyRegistry {
	return &AnswerKeyRegistry{
		keys:      make(map[uuid.UUID]*model.AnswerKey),
		templates: templates,
		log:       log.With().Str("component", "answer_key_registry").Logger(),
	}
}

// Register validates the key against its bound template and stores it.
// Every violation found is reported in one *model.ConfigError.
func (r *AnswerKeyRegistry) Register(key model.AnswerKey) (*model.AnswerKey, error) {
	tmpl, ok := r.templates.Get(key.TemplateID)
	if !ok {
		return nil, model.NewConfigError(fmt.Sprintf("template %s is not registered", key.TemplateID))
	}

	if violations := validateAnswerKey(&key, tmpl); len(violations) > 0 {
		return nil, &model.ConfigError{Violations: violations}
	}

	r.mu.Lock()
	key.ID = uuid.New()
	key.Version = r.nextVersionLocked(key.Name)
	key.CreatedAt = time.Now()
	r.keys[key.ID] = &key
	r.mu.Unlock()

	r.templates.MarkReferenced(key.TemplateID)

	r.log.Info().
		Str("answer_key_id", key.ID.String()).
		Str("template_id", key.TemplateID.String()).
		Str("name", key.Name).
		Int("version", key.Version).
		Msg("Answer key registered")

	return &key, nil
}

// Get returns the answer key with the given ID.
func (r *AnswerKeyRegistry) Get(id uuid.UUID) (*model.AnswerKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[id]
	return k, ok
}

// List returns all registered keys ordered by name then version.
func (r *AnswerKeyRegistry) List() []*model.AnswerKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.AnswerKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Restore loads an already-validated key, keeping its identity. Used when
// prewarming the registry from persistence at startup.
func (r *AnswerKeyRegistry) Restore(key *model.AnswerKey) {
	r.mu.Lock()
	r.keys[key.ID] = key
	r.mu.Unlock()
	r.templates.MarkReferenced(key.TemplateID)
}

func (r *AnswerKeyRegistry) nextVersionLocked(name string) int {
	highest := 0
	for _, k := range r.keys {
		if k.Name == name && k.Version > highest {
			highest = k.Version
		}
	}
	return highest + 1
}

// validateAnswerKey checks the key invariants against its template: matching
// question counts, a gapless answer map over 1..QuestionCount, labels within
// the template's option range, and well-formed scoring rules.
func validateAnswerKey(key *model.AnswerKey, tmpl *model.Template) []string {
	var violations []string

	if key.QuestionCount != tmpl.QuestionCount {
		violations = append(violations, fmt.Sprintf(
			"question_count %d does not match template question_count %d",
			key.QuestionCount, tmpl.QuestionCount))
	}

	for q := 1; q <= key.QuestionCount; q++ {
		labels, ok := key.Answers[q]
		if !ok {
			violations = append(violations, fmt.Sprintf("no answer defined for question %d", q))
			continue
		}
		if len(labels) == 0 {
			violations = append(violations, fmt.Sprintf("question %d has an empty answer set", q))
		}
		for _, l := range labels {
			if !validLabel(l, tmpl.OptionsPerQuestion) {
				violations = append(violations, fmt.Sprintf("question %d has label %q outside the template's %d options", q, l, tmpl.OptionsPerQuestion))
			}
		}
	}
	for q := range key.Answers {
		if q < 1 || q > key.QuestionCount {
			violations = append(violations, fmt.Sprintf("answer for question %d is outside 1..%d", q, key.QuestionCount))
		}
	}

	if key.Rules.PointsPerQuestion <= 0 {
		violations = append(violations, "points_per_question must be positive")
	}
	if key.Rules.NegativeMarking.Enabled && key.Rules.NegativeMarking.Points < 0 {
		violations = append(violations, "negative_marking points must not be negative")
	}
	if key.Rules.PartialCredit.Enabled &&
		(key.Rules.PartialCredit.Fraction <= 0 || key.Rules.PartialCredit.Fraction >= 1) {
		violations = append(violations, "partial_credit fraction must be strictly between 0 and 1")
	}
	for subject, w := range key.Rules.SubjectWeights {
		if w <= 0 {
			violations = append(violations, fmt.Sprintf("subject weight for %q must be positive", subject))
		}
		if _, ok := subjectOnTemplate(tmpl, subject); !ok {
			violations = append(violations, fmt.Sprintf("subject weight references unknown subject %q", subject))
		}
	}

	return violations
}

// validLabel accepts single letters A.. up to the template's option count.
func validLabel(label string, options int) bool {
	if len(label) != 1 {
		return false
	}
	c := label[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	return c >= 'A' && int(c-'A') < options
}

func subjectOnTemplate(tmpl *model.Template, name string) (model.SubjectArea, bool) {
	for _, a := range tmpl.SubjectAreas {
		if a.Name == name {
			return a, true
		}
	}
	return model.SubjectArea{}, false
}
