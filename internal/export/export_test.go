package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/markscan/omr-backend/internal/model"
)

func sampleJobs() []model.SheetJob {
	scored := model.SheetJob{
		ID:      uuid.New(),
		FileRef: "sheet-001.png",
		Status:  model.JobStatusCompleted,
		Student: model.StudentInfo{StudentID: "S-1"},
		Result: &model.ScoringResult{
			QuestionOutcomes: []model.QuestionOutcome{
				{QuestionNumber: 1, Outcome: model.OutcomeCorrect, PointsAwarded: 1, MaxPoints: 1},
				{QuestionNumber: 2, Outcome: model.OutcomeIncorrect, PointsAwarded: -0.5, MaxPoints: 1},
			},
			TotalScore:  0.5,
			Percentage:  25,
			Grade:       "F",
			QualityTier: model.TierGood,
		},
	}
	failed := model.SheetJob{
		ID:           uuid.New(),
		FileRef:      "sheet-002.png",
		Status:       model.JobStatusFailed,
		ErrorDetails: "unreadable image",
	}
	return []model.SheetJob{scored, failed}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleJobs()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}

	// Header + 2 question rows + 1 failure row.
	if len(records) != 4 {
		t.Fatalf("rows = %d, want 4", len(records))
	}
	if records[0][0] != "file_ref" {
		t.Errorf("header[0] = %q, want file_ref", records[0][0])
	}

	q2 := records[2]
	if q2[3] != "2" || q2[4] != "incorrect" || q2[5] != "-0.5" {
		t.Errorf("question row = %v, want question 2 incorrect -0.5", q2)
	}

	failure := records[3]
	if failure[0] != "sheet-002.png" || failure[2] != "FAILED" {
		t.Errorf("failure row = %v", failure)
	}
	if failure[11] != "unreadable image" {
		t.Errorf("failure error column = %q, want unreadable image", failure[11])
	}
	if failure[3] != "" {
		t.Errorf("failure question column = %q, want empty", failure[3])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	sessionID := uuid.New().String()
	if err := WriteJSON(&buf, sessionID, sampleJobs()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var doc struct {
		SessionID string           `json:"session_id"`
		Sheets    []model.SheetJob `json:"sheets"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("parse output: %v", err)
	}

	if doc.SessionID != sessionID {
		t.Errorf("session_id = %q, want %q", doc.SessionID, sessionID)
	}
	if len(doc.Sheets) != 2 {
		t.Fatalf("sheets = %d, want 2", len(doc.Sheets))
	}
	if doc.Sheets[0].Result == nil || doc.Sheets[0].Result.TotalScore != 0.5 {
		t.Errorf("first sheet result = %+v, want score 0.5", doc.Sheets[0].Result)
	}
	if doc.Sheets[1].ErrorDetails != "unreadable image" {
		t.Errorf("second sheet error = %q", doc.Sheets[1].ErrorDetails)
	}

	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("output should be indented")
	}
}
