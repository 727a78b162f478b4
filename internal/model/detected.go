package model

// DetectedAnswer is one question's marks as reported by the external
// detector. Zero selected options means the question was left blank; more
// than one means an ambiguous multiple mark.
type DetectedAnswer struct {
	QuestionNumber  int      `json:"question_number" binding:"required,min=1"`
	SelectedOptions []string `json:"selected_options"`
	Confidence      float64  `json:"confidence" binding:"min=0,max=1"`
}

// StudentInfo is the identity block the detector reads off the sheet header.
type StudentInfo struct {
	StudentID  string `json:"student_id,omitempty"`
	Name       string `json:"name,omitempty"`
	RollNumber string `json:"roll_number,omitempty"`
}
