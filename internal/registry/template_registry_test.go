package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
)

func validTemplate() model.Template {
	return model.Template{
		Name:               "standard-20",
		QuestionCount:      20,
		OptionsPerQuestion: 4,
		SubjectAreas: []model.SubjectArea{
			{Name: "Math", StartQuestion: 1, EndQuestion: 10, Weight: 1.0},
			{Name: "Science", StartQuestion: 11, EndQuestion: 20, Weight: 1.0},
		},
	}
}

func TestTemplateRegisterAssignsIdentity(t *testing.T) {
	r := NewTemplateRegistry(zerolog.Nop())

	first, err := r.Register(validTemplate())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("version = %d, want 1", first.Version)
	}

	second, err := r.Register(validTemplate())
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if second.Version != 2 {
		t.Errorf("second version = %d, want 2", second.Version)
	}
	if first.ID == second.ID {
		t.Error("re-registration must mint a fresh ID")
	}

	got, ok := r.Get(first.ID)
	if !ok {
		t.Fatal("first version no longer retrievable")
	}
	if got.Version != 1 {
		t.Errorf("stored version = %d, want 1", got.Version)
	}
}

func TestTemplateRegisterCollectsAllViolations(t *testing.T) {
	r := NewTemplateRegistry(zerolog.Nop())

	bad := model.Template{
		Name:               "broken",
		QuestionCount:      20,
		OptionsPerQuestion: 1, // out of range
		SubjectAreas: []model.SubjectArea{
			{Name: "Math", StartQuestion: 1, EndQuestion: 8, Weight: 0}, // bad weight
			{Name: "Science", StartQuestion: 12, EndQuestion: 20, Weight: 1.0}, // gap 9-11
		},
	}

	_, err := r.Register(bad)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigError", err)
	}
	if len(cfgErr.Violations) < 3 {
		t.Fatalf("violations = %v, want at least options, weight and gap reported together", cfgErr.Violations)
	}

	wantFragments := []string{"options_per_question", "weight", "not covered"}
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

func TestTemplateRegisterRejectsOverlap(t *testing.T) {
	r := NewTemplateRegistry(zerolog.Nop())

	tmpl := validTemplate()
	tmpl.SubjectAreas = []model.SubjectArea{
		{Name: "Math", StartQuestion: 1, EndQuestion: 12, Weight: 1.0},
		{Name: "Science", StartQuestion: 10, EndQuestion: 20, Weight: 1.0},
	}

	_, err := r.Register(tmpl)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigError", err)
	}
	found := false
	for _, v := range cfgErr.Violations {
		if strings.Contains(v, "overlaps") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want overlap reported", cfgErr.Violations)
	}
}

func TestTemplateList(t *testing.T) {
	r := NewTemplateRegistry(zerolog.Nop())

	b := validTemplate()
	b.Name = "b-layout"
	a := validTemplate()
	a.Name = "a-layout"

	if _, err := r.Register(b); err != nil {
		t.Fatalf("Register b: %v", err)
	}
	if _, err := r.Register(a); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if _, err := r.Register(a); err != nil {
		t.Fatalf("Register a v2: %v", err)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].Name != "a-layout" || list[0].Version != 1 {
		t.Errorf("list[0] = %s v%d, want a-layout v1", list[0].Name, list[0].Version)
	}
	if list[1].Name != "a-layout" || list[1].Version != 2 {
		t.Errorf("list[1] = %s v%d, want a-layout v2", list[1].Name, list[1].Version)
	}
	if list[2].Name != "b-layout" {
		t.Errorf("list[2] = %s, want b-layout", list[2].Name)
	}
}
