package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
)

// Detector converts a sheet image into detected marks with confidences. The
// session coordinator treats it as an opaque, potentially slow, potentially
// failing collaborator; the only suspension point in a sheet evaluation is
// the Detect call.
type Detector interface {
	Detect(ctx context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error)
}

// HTTPDetector talks to the external detector service over HTTP.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPDetector creates a detector client for the given base URL. The
// per-sheet deadline is enforced by the caller's context, not here.
func NewHTTPDetector(baseURL string, log zerolog.Logger) *HTTPDetector {
	return &HTTPDetector{
		baseURL: baseURL,
		client: &http.Client{
			// Transport-level ceiling; sheet deadlines come in via ctx.
			Timeout: 2 * time.Minute,
		},
		log: log.With().Str("component", "detector_client").Logger(),
	}
}

type detectRequest struct {
	FileRef string `json:"file_ref"`
}

type detectResponse struct {
	Answers []model.DetectedAnswer `json:"answers"`
	Student model.StudentInfo      `json:"student_info"`
	Error   string                 `json:"error,omitempty"`
}

// Detect posts the sheet reference to the detector service and decodes the
// detected marks.
func (d *HTTPDetector) Detect(ctx context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error) {
	body, err := json.Marshal(detectRequest{FileRef: fileRef})
	if err != nil {
		return nil, model.StudentInfo{}, fmt.Errorf("marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/v1/detect", bytes.NewReader(body))
	if err != nil {
		return nil, model.StudentInfo{}, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, model.StudentInfo{}, fmt.Errorf("detector call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		d.log.Warn().
			Int("status", resp.StatusCode).
			Str("file_ref", fileRef).
			Msg("Detector returned non-OK status")
		return nil, model.StudentInfo{}, fmt.Errorf("detector returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, model.StudentInfo{}, fmt.Errorf("decode detect response: %w", err)
	}
	if decoded.Error != "" {
		return nil, model.StudentInfo{}, fmt.Errorf("detector error: %s", decoded.Error)
	}

	return decoded.Answers, decoded.Student, nil
}
