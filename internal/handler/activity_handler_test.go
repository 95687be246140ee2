package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/engelbrain-go-api/internal/dto"
	"github.com/noah-isme/engelbrain-go-api/internal/service"
	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

func TestActivityHandlerCRUD(t *testing.T) {
	a := setupTestApp(t, service.GradingConfig{SchoolAPIKey: "school"})

	request := map[string]interface{}{
		"course_name":     "Chemistry",
		"name":            "Lab report",
		"lerncode":        "CHEM-2",
		"teacher_api_key": "teacher-secret",
		"due_date":        "2030-01-01T12:00:00Z",
	}

	resp, _ := a.do(t, http.MethodPost, "/api/v1/activities", request, 7, "student")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, raw := a.do(t, http.MethodPost, "/api/v1/activities", request, 1, "teacher")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(raw))
	require.NotContains(t, string(raw), "teacher-secret")

	var created dto.ActivityResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, raw).Data, &created))
	require.True(t, created.HasTeacherAPIKey)
	require.True(t, created.SubmissionsOpen)

	path := fmt.Sprintf("/api/v1/activities/%d", created.ID)
	resp, raw = a.do(t, http.MethodGet, path, nil, 7, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotContains(t, string(raw), "teacher-secret")

	request["name"] = "Lab report (final)"
	resp, raw = a.do(t, http.MethodPut, path, request, 1, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(raw))

	resp, raw = a.do(t, http.MethodGet, "/api/v1/activities", nil, 7, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var list []dto.ActivityResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, raw).Data, &list))
	require.Len(t, list, 2)

	resp, _ = a.do(t, http.MethodDelete, path, nil, 1, "admin")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, path, nil, 1, "teacher")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestActivityHandlerRejectsInvalidLerncode(t *testing.T) {
	a := setupTestApp(t, service.GradingConfig{SchoolAPIKey: "school"})
	a.client.validation = klausurenweb.ValidationResult{Valid: false, Message: "Lerncode expired"}

	resp, raw := a.do(t, http.MethodPost, "/api/v1/activities", map[string]interface{}{
		"course_name": "Chemistry",
		"name":        "Lab report",
		"lerncode":    "OLD",
	}, 1, "teacher")
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode, string(raw))

	payload := decodeEnvelope(t, raw)
	require.Contains(t, payload.Message, "Lerncode expired")
}

func TestActivityHandlerValidation(t *testing.T) {
	a := setupTestApp(t, service.GradingConfig{})

	resp, _ := a.do(t, http.MethodPost, "/api/v1/activities", map[string]interface{}{"name": "No course"}, 1, "teacher")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/api/v1/activities/0", nil, 1, "teacher")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodDelete, "/api/v1/activities/999", nil, 1, "teacher")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	a := setupTestApp(t, service.GradingConfig{})

	resp, raw := a.do(t, http.MethodGet, "/api/v1/health", nil, 0, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "Test", resp.Header.Get("X-Application"))
	require.True(t, decodeEnvelope(t, raw).Success)
}
