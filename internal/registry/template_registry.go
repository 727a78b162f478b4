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

// TemplateRegistry validates and exposes sheet layout definitions. Handles
// returned by Get are never mutated in place: a changed layout registers as
// a new version with a fresh ID.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*model.Template
	// referenced marks templates bound by a registered answer key. A
	// referenced template can no longer be superseded silently.
	referenced map[uuid.UUID]bool
	log        zerolog.Logger
}

// NewTemplateRegistry creates an empty TemplateRegistry.
func NewTemplateRegistry(log zerolog.Logger) *TemplateRegistry {
	return &TemplateRegistry{
		templates:  make(map[uuid.UUID]*model.Template),
		referenced: make(map[uuid.UUID]bool),
		log:        log.With().Str("component", "template_registry").Logger(),
	}
}

// Register validates the template and stores it under a fresh ID and
// version. Every violation found is reported in a single *model.ConfigError.
func (r *TemplateRegistry) Register(tmpl model.Template) (*model.Template, error) {
	if violations := validateTemplate(&tmpl); len(violations) > 0 {
		return nil, &model.ConfigError{Violations: violations}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl.ID = uuid.New()
	tmpl.Version = r.nextVersionLocked(tmpl.Name)
	tmpl.CreatedAt = time.Now()
	r.templates[tmpl.ID] = &tmpl

	r.log.Info().
		Str("template_id", tmpl.ID.String()).
		Str("name", tmpl.Name).
		Int("version", tmpl.Version).
		Int("questions", tmpl.QuestionCount).
		Msg("Template registered")

	return &tmpl, nil
}

// Get returns the template with the given ID.
func (r *TemplateRegistry) Get(id uuid.UUID) (*model.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// List returns all registered templates ordered by name then version.
func (r *TemplateRegistry) List() []*model.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// MarkReferenced records that an answer key now binds this template.
func (r *TemplateRegistry) MarkReferenced(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referenced[id] = true
}

// Restore loads an already-validated template, keeping its identity. Used
// when prewarming the registry from persistence at startup.
func (r *TemplateRegistry) Restore(tmpl *model.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.ID] = tmpl
}

// nextVersionLocked returns one past the highest version registered under
// the given name. Callers hold r.mu.
func (r *TemplateRegistry) nextVersionLocked(name string) int {
	highest := 0
	for _, t := range r.templates {
		if t.Name == name && t.Version > highest {
			highest = t.Version
		}
	}
	return highest + 1
}

// validateTemplate checks the layout invariants: question and option counts
// in range, and subject areas partitioning 1..QuestionCount with no gaps or
// overlaps. All violations are collected.
func validateTemplate(tmpl *model.Template) []string {
	var violations []string

	if tmpl.QuestionCount < 1 {
		violations = append(violations, "question_count must be greater than zero")
	}
	if tmpl.OptionsPerQuestion < 2 || tmpl.OptionsPerQuestion > 10 {
		violations = append(violations, "options_per_question must be between 2 and 10")
	}
	if len(tmpl.SubjectAreas) == 0 {
		violations = append(violations, "at least one subject area is required")
		return violations
	}

	areas := make([]model.SubjectArea, len(tmpl.SubjectAreas))
	copy(areas, tmpl.SubjectAreas)
	sort.Slice(areas, func(i, j int) bool { return areas[i].StartQuestion < areas[j].StartQuestion })

	seen := make(map[string]bool, len(areas))
	for _, a := range areas {
		if a.Name == "" {
			violations = append(violations, "subject area name must not be empty")
		}
		if seen[a.Name] {
			violations = append(violations, fmt.Sprintf("subject area %q is defined more than once", a.Name))
		}
		seen[a.Name] = true
		if a.Weight <= 0 {
			violations = append(violations, fmt.Sprintf("subject area %q weight must be positive", a.Name))
		}
		if a.StartQuestion > a.EndQuestion {
			violations = append(violations, fmt.Sprintf("subject area %q has start_question after end_question", a.Name))
		}
	}

	expected := 1
	for _, a := range areas {
		if a.StartQuestion > expected {
			violations = append(violations, fmt.Sprintf("questions %d-%d are not covered by any subject area", expected, a.StartQuestion-1))
		} else if a.StartQuestion < expected {
			violations = append(violations, fmt.Sprintf("subject area %q overlaps a previous area at question %d", a.Name, a.StartQuestion))
		}
		if a.EndQuestion >= expected {
			expected = a.EndQuestion + 1
		}
	}
	if tmpl.QuestionCount >= 1 && expected != tmpl.QuestionCount+1 {
		if expected <= tmpl.QuestionCount {
			violations = append(violations, fmt.Sprintf("questions %d-%d are not covered by any subject area", expected, tmpl.QuestionCount))
		} else {
			violations = append(violations, fmt.Sprintf("subject areas extend past question_count %d", tmpl.QuestionCount))
		}
	}

	return violations
}
