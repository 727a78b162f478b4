package model

import (
	"time"

	"github.com/google/uuid"
)

// SubjectArea is one contiguous block of questions belonging to a subject.
// Areas on a template partition 1..QuestionCount without gaps or overlaps.
type SubjectArea struct {
	Name          string  `json:"name"`
	StartQuestion int     `json:"start_question"`
	EndQuestion   int     `json:"end_question"`
	Weight        float64 `json:"weight"`
}

// Template describes the layout of an answer sheet: how many questions it
// carries, how many options each question offers, and how the questions are
// partitioned into subjects. Templates are immutable once an AnswerKey
// references them; updates create a new version.
type Template struct {
	ID                 uuid.UUID     `json:"id"`
	Name               string        `json:"name"`
	Version            int           `json:"version"`
	QuestionCount      int           `json:"question_count"`
	OptionsPerQuestion int           `json:"options_per_question"`
	SubjectAreas       []SubjectArea `json:"subject_areas"`
	CreatedAt          time.Time     `json:"created_at"`
}

// SubjectFor returns the subject area covering the given question number.
func (t *Template) SubjectFor(question int) (SubjectArea, bool) {
	for _, area := range t.SubjectAreas {
		if question >= area.StartQuestion && question <= area.EndQuestion {
			return area, true
		}
	}
	return SubjectArea{}, false
}

// RegisterTemplateRequest is the payload for registering a sheet template.
type RegisterTemplateRequest struct {
	Name               string        `json:"name" binding:"required,min=3,max=255"`
	QuestionCount      int           `json:"question_count" binding:"required,min=1"`
	OptionsPerQuestion int           `json:"options_per_question" binding:"required,min=2,max=10"`
	SubjectAreas       []SubjectArea `json:"subject_areas" binding:"required,min=1,dive"`
}
