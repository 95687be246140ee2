package klausurenweb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ValidationResult is returned by the lerncode validation endpoint.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// SubmitResult is returned after forwarding a submission. Raw holds every field of the response.
type SubmitResult struct {
	ID  string                 `json:"id"`
	Raw map[string]interface{} `json:"-"`
}

// FeedbackResult is the evaluation state of a remote submission.
type FeedbackResult struct {
	Status   string   `json:"status"`
	Feedback string   `json:"feedback,omitempty"`
	Score    *float64 `json:"score,omitempty"`
}

var pendingStatuses = map[string]struct{}{
	"pending":     {},
	"processing":  {},
	"queued":      {},
	"submitted":   {},
	"in_progress": {},
	"running":     {},
}

// Ready reports whether the evaluation is final and carries feedback or a score.
func (f FeedbackResult) Ready() bool {
	status := strings.ToLower(strings.TrimSpace(f.Status))
	if _, pending := pendingStatuses[status]; pending {
		return false
	}
	return strings.TrimSpace(f.Feedback) != "" || f.Score != nil
}

// Grade converts the remote score to a 0..100 grade.
func (f FeedbackResult) Grade() *int {
	if f.Score == nil {
		return nil
	}
	score := math.Round(*f.Score)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	grade := int(score)
	return &grade
}

// submissionID accepts both string and numeric identifiers.
type submissionID string

func (s *submissionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = submissionID(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("submission id must be a string or number: %w", err)
	}
	*s = submissionID(number.String())
	return nil
}

type submitPayload struct {
	Content     string                 `json:"content"`
	StudentName string                 `json:"student_name"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Some deployments answer with submission_id instead of id.
type submitResponse struct {
	ID           submissionID `json:"id"`
	SubmissionID submissionID `json:"submission_id"`
}

func (r submitResponse) resolve() string {
	if r.ID != "" {
		return string(r.ID)
	}
	return string(r.SubmissionID)
}

// The legacy feedback shape uses feedback_text.
type feedbackResponse struct {
	Status       string   `json:"status"`
	Feedback     *string  `json:"feedback"`
	FeedbackText *string  `json:"feedback_text"`
	Score        *float64 `json:"score"`
}

func (r feedbackResponse) result() FeedbackResult {
	result := FeedbackResult{Status: strings.TrimSpace(r.Status), Score: r.Score}
	switch {
	case r.Feedback != nil && strings.TrimSpace(*r.Feedback) != "":
		result.Feedback = *r.Feedback
	case r.FeedbackText != nil:
		result.Feedback = *r.FeedbackText
	}
	return result
}
