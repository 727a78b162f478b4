// Package export renders a session's stored results as downloadable CSV or
// JSON documents.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/markscan/omr-backend/internal/model"
)

// WriteJSON streams the session's jobs and results as an indented JSON
// document.
func WriteJSON(w io.Writer, sessionID string, jobs []model.SheetJob) error {
	doc := struct {
		SessionID string           `json:"session_id"`
		Sheets    []model.SheetJob `json:"sheets"`
	}{
		SessionID: sessionID,
		Sheets:    jobs,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteCSV streams one row per question outcome across all scored sheets of
// the session. Failed sheets contribute a single row carrying the error.
func WriteCSV(w io.Writer, jobs []model.SheetJob) error {
	cw := csv.NewWriter(w)

	header := []string{
		"file_ref", "student_id", "status", "question", "outcome",
		"points_awarded", "max_points", "total_score", "percentage",
		"grade", "quality_tier", "error",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, j := range jobs {
		if j.Result == nil {
			row := []string{
				j.FileRef, j.Student.StudentID, string(j.Status),
				"", "", "", "", "", "", "", "", j.ErrorDetails,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
			continue
		}

		for _, q := range j.Result.QuestionOutcomes {
			row := []string{
				j.FileRef,
				j.Student.StudentID,
				string(j.Status),
				strconv.Itoa(q.QuestionNumber),
				string(q.Outcome),
				formatFloat(q.PointsAwarded),
				formatFloat(q.MaxPoints),
				formatFloat(j.Result.TotalScore),
				formatFloat(j.Result.Percentage),
				j.Result.Grade,
				string(j.Result.QualityTier),
				"",
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
