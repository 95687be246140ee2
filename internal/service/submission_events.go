package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/engelbrain-go-api/internal/models"
)

// Submission lifecycle event types.
const (
	EventSubmissionSubmitted = "submitted"
	EventSubmissionForwarded = "forwarded"
	EventSubmissionGraded    = "graded"
)

// SubmissionEvent is published whenever a submission changes state.
type SubmissionEvent struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	SubmissionID       uint      `json:"submission_id"`
	ActivityID         uint      `json:"activity_id"`
	UserID             uint      `json:"user_id"`
	Status             string    `json:"status"`
	RemoteSubmissionID string    `json:"remote_submission_id,omitempty"`
	Grade              *int      `json:"grade,omitempty"`
	Source             string    `json:"source,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// EventPublisher delivers submission events. Implementations must not fail the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event SubmissionEvent)
}

type subjectPublisher interface {
	Publish(subject string, data []byte) error
}

type natsEventPublisher struct {
	conn        subjectPublisher
	subjectBase string
	logger      zerolog.Logger
}

// NewNATSEventPublisher publishes events on <subjectBase>.submissions.<type>. A nil connection yields a no-op publisher.
func NewNATSEventPublisher(conn *nats.Conn, subjectBase string, logger zerolog.Logger) EventPublisher {
	if conn == nil {
		return noopEventPublisher{}
	}
	return newSubjectEventPublisher(conn, subjectBase, logger)
}

func newSubjectEventPublisher(conn subjectPublisher, subjectBase string, logger zerolog.Logger) *natsEventPublisher {
	base := strings.Trim(strings.ReplaceAll(subjectBase, ":", "."), ".")
	if base == "" {
		base = "engelbrain"
	}
	return &natsEventPublisher{
		conn:        conn,
		subjectBase: base,
		logger:      logger.With().Str("component", "submission_events").Logger(),
	}
}

func (p *natsEventPublisher) Publish(_ context.Context, event SubmissionEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode submission event")
		return
	}

	subject := p.subjectBase + ".submissions." + event.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Uint("submission_id", event.SubmissionID).Msg("failed to publish submission event")
	}
}

type noopEventPublisher struct{}

func (noopEventPublisher) Publish(context.Context, SubmissionEvent) {}

func newSubmissionEvent(eventType string, submission models.Submission) SubmissionEvent {
	event := SubmissionEvent{
		Type:         eventType,
		SubmissionID: submission.ID,
		ActivityID:   submission.ActivityID,
		UserID:       submission.UserID,
		Status:       submission.Status,
	}
	if submission.HasRemoteSubmission() {
		event.RemoteSubmissionID = *submission.RemoteSubmissionID
	}
	if submission.IsGraded() {
		event.Grade = submission.Grade
	}
	return event
}
