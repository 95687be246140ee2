package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/engelbrain-go-api/internal/models"
	"github.com/noah-isme/engelbrain-go-api/internal/repository"
	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Activity{}, &models.Submission{}, &models.SubmissionGradeHistory{}))
	return db
}

type fakeGradingClient struct {
	mu sync.Mutex

	validation  klausurenweb.ValidationResult
	validateErr error
	submit      klausurenweb.SubmitResult
	submitErr   error
	feedback    klausurenweb.FeedbackResult
	feedbackErr error

	validateCalls int
	submitCalls   int
	feedbackCalls int

	lastContent  string
	lastStudent  string
	lastMetadata map[string]interface{}
	lastRemoteID string
}

func (f *fakeGradingClient) ValidateCode(ctx context.Context, code string) (klausurenweb.ValidationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateCalls++
	return f.validation, f.validateErr
}

func (f *fakeGradingClient) SubmitWork(ctx context.Context, code, content, studentName string, metadata map[string]interface{}) (klausurenweb.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastContent = content
	f.lastStudent = studentName
	f.lastMetadata = metadata
	return f.submit, f.submitErr
}

func (f *fakeGradingClient) GetFeedback(ctx context.Context, remoteID string) (klausurenweb.FeedbackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackCalls++
	f.lastRemoteID = remoteID
	return f.feedback, f.feedbackErr
}

func (f *fakeGradingClient) httpCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateCalls + f.submitCalls + f.feedbackCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SubmissionEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, event SubmissionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

type lifecycleFixture struct {
	db          *gorm.DB
	activities  repository.ActivityRepository
	submissions repository.SubmissionRepository
	client      *fakeGradingClient
	keys        []string
	events      *recordingPublisher
	gateway     *GradingGateway
	svc         SubmissionService
	activity    models.Activity
}

func newLifecycleFixture(t *testing.T, cfg GradingConfig, activity models.Activity) *lifecycleFixture {
	t.Helper()

	db := setupServiceTestDB(t)
	f := &lifecycleFixture{
		db:          db,
		activities:  repository.NewActivityRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		client:      &fakeGradingClient{validation: klausurenweb.ValidationResult{Valid: true}},
		events:      &recordingPublisher{},
	}

	factory := func(apiKey string) (GradingClient, error) {
		f.keys = append(f.keys, apiKey)
		return f.client, nil
	}
	f.gateway = NewGradingGateway(cfg, factory, nil)
	f.svc = NewSubmissionService(f.submissions, f.activities, f.gateway, f.events, testValidator(), testLogger())

	if activity.CourseName == "" {
		activity.CourseName = "Biology"
	}
	if activity.Name == "" {
		activity.Name = "Essay"
	}
	require.NoError(t, f.activities.Create(context.Background(), &activity))
	f.activity = activity

	return f
}

func (f *lifecycleFixture) stored(t *testing.T, userID uint) models.Submission {
	t.Helper()
	submission, err := f.submissions.GetByActivityAndUser(context.Background(), f.activity.ID, userID)
	require.NoError(t, err)
	return submission
}

func ptrUint(v uint) *uint {
	return &v
}

func ptrInt(v int) *int {
	return &v
}

func ptrFloat(v float64) *float64 {
	return &v
}
