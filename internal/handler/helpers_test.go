package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/engelbrain-go-api/internal/config"
	"github.com/noah-isme/engelbrain-go-api/internal/database"
	"github.com/noah-isme/engelbrain-go-api/internal/handler"
	"github.com/noah-isme/engelbrain-go-api/internal/models"
	"github.com/noah-isme/engelbrain-go-api/internal/repository"
	"github.com/noah-isme/engelbrain-go-api/internal/router"
	"github.com/noah-isme/engelbrain-go-api/internal/service"
	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

type stubGradingClient struct {
	mu sync.Mutex

	validation  klausurenweb.ValidationResult
	submit      klausurenweb.SubmitResult
	submitErr   error
	feedback    klausurenweb.FeedbackResult
	feedbackErr error

	submitCalls   int
	feedbackCalls int
}

func (s *stubGradingClient) ValidateCode(context.Context, string) (klausurenweb.ValidationResult, error) {
	return s.validation, nil
}

func (s *stubGradingClient) SubmitWork(_ context.Context, _, _, _ string, _ map[string]interface{}) (klausurenweb.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	return s.submit, s.submitErr
}

func (s *stubGradingClient) GetFeedback(context.Context, string) (klausurenweb.FeedbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackCalls++
	return s.feedback, s.feedbackErr
}

type testApp struct {
	app      *fiber.App
	db       *gorm.DB
	client   *stubGradingClient
	activity models.Activity
}

// Requests authenticate through X-Test-User and X-Test-Role headers.
func setupTestApp(t *testing.T, cfg service.GradingConfig) *testApp {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)
	client := &stubGradingClient{validation: klausurenweb.ValidationResult{Valid: true}}

	activityRepo := repository.NewActivityRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	gateway := service.NewGradingGateway(cfg, func(string) (service.GradingClient, error) { return client, nil }, nil)

	activityService := service.NewActivityService(activityRepo, gateway, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, activityRepo, gateway, nil, validate, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret", FeedbackRateLimit: 100}, router.Dependencies{
		ActivityHandler:   handler.NewActivityHandler(activityService, validate, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, validate, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if raw := c.Get("X-Test-User"); raw != "" {
				id, err := strconv.ParseUint(raw, 10, 64)
				if err != nil {
					return c.SendStatus(fiber.StatusUnauthorized)
				}
				c.Locals("user_id", uint(id))
				c.Locals("user_name", "User "+raw)
			}
			if role := c.Get("X-Test-Role"); role != "" {
				c.Locals("user_role", role)
			}
			return c.Next()
		},
	})

	activity := models.Activity{CourseName: "Biology", Name: "Essay", Lerncode: "BIO-1"}
	require.NoError(t, activityRepo.Create(context.Background(), &activity))

	return &testApp{app: app, db: db, client: client, activity: activity}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}, userID uint, role string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(t, req, userID, role)
}

func (a *testApp) send(t *testing.T, req *http.Request, userID uint, role string) (*http.Response, []byte) {
	t.Helper()
	if userID != 0 {
		req.Header.Set("X-Test-User", strconv.FormatUint(uint64(userID), 10))
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decodeEnvelope(t *testing.T, raw []byte) envelope {
	t.Helper()
	var payload envelope
	require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	return payload
}
