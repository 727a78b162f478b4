package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
)

// registries returns a key registry with one valid 20-question template
// already registered.
func registries(t *testing.T) (*AnswerKeyRegistry, *model.Template) {
	t.Helper()

	templates := NewTemplateRegistry(zerolog.Nop())
	tmpl, err := templates.Register(validTemplate())
	if err != nil {
		t.Fatalf("register template: %v", err)
	}
	return NewAnswerKeyRegistry(templates, zerolog.Nop()), tmpl
}

func validKey(tmpl *model.Template) model.AnswerKey {
	answers := make(map[int][]string, tmpl.QuestionCount)
	for q := 1; q <= tmpl.QuestionCount; q++ {
		answers[q] = []string{"A"}
	}
	return model.AnswerKey{
		TemplateID:    tmpl.ID,
		Name:          "midterm-key",
		QuestionCount: tmpl.QuestionCount,
		Answers:       answers,
		Rules:         model.ScoringRules{PointsPerQuestion: 1},
	}
}

func TestAnswerKeyRegister(t *testing.T) {
	keys, tmpl := registries(t)

	key, err := keys.Register(validKey(tmpl))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if key.Version != 1 {
		t.Errorf("version = %d, want 1", key.Version)
	}

	got, ok := keys.Get(key.ID)
	if !ok {
		t.Fatal("registered key not retrievable")
	}
	if got.TemplateID != tmpl.ID {
		t.Errorf("template_id = %s, want %s", got.TemplateID, tmpl.ID)
	}
}

func TestAnswerKeyRegisterUnknownTemplate(t *testing.T) {
	keys, tmpl := registries(t)

	key := validKey(tmpl)
	key.TemplateID = uuid.New()

	_, err := keys.Register(key)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigError", err)
	}
}

func TestAnswerKeyRegisterCollectsAllViolations(t *testing.T) {
	keys, tmpl := registries(t)

	key := validKey(tmpl)
	delete(key.Answers, 5)                  // gap
	key.Answers[7] = []string{"Z"}          // label outside 4 options
	key.Rules.PointsPerQuestion = 0         // bad rules
	key.Rules.SubjectWeights = map[string]float64{"History": 1.0} // unknown subject

	_, err := keys.Register(key)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigError", err)
	}

	wantFragments := []string{
		"no answer defined for question 5",
		"outside the template's 4 options",
		"points_per_question",
		"unknown subject",
	}
	for _, frag := range wantFragments {
		found := false
		for _, v := range cfgErr.Violations {
			if strings.Contains(v, frag) {
				found = true
			}
		}
		if !found {
			t.Errorf("no violation mentioning %q in %v", frag, cfgErr.Violations)
		}
	}
}

func TestAnswerKeyRegisterQuestionCountMismatch(t *testing.T) {
	keys, tmpl := registries(t)

	key := validKey(tmpl)
	key.QuestionCount = 25

	_, err := keys.Register(key)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigError", err)
	}
	found := false
	for _, v := range cfgErr.Violations {
		if strings.Contains(v, "does not match template question_count") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want count mismatch reported", cfgErr.Violations)
	}
}

func TestAnswerKeyPartialCreditFractionBounds(t *testing.T) {
	keys, tmpl := registries(t)

	key := validKey(tmpl)
	key.Rules.PartialCredit = model.PartialCredit{Enabled: true, Fraction: 1.0}

	_, err := keys.Register(key)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigError", err)
	}
}

func TestValidLabel(t *testing.T) {
	cases := []struct {
		label   string
		options int
		want    bool
	}{
		{"A", 4, true},
		{"d", 4, true},
		{"E", 4, false},
		{"E", 5, true},
		{"AB", 4, false},
		{"", 4, false},
		{"1", 4, false},
	}
	for _, c := range cases {
		if got := validLabel(c.label, c.options); got != c.want {
			t.Errorf("validLabel(%q, %d) = %v, want %v", c.label, c.options, got, c.want)
		}
	}
}
