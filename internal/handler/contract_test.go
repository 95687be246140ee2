package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/engelbrain-go-api/internal/service"
	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

func compileContract(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "contracts", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + filepath.ToSlash(schemaPath))
	require.NoError(t, err)
	return schema
}

func validateContract(t *testing.T, schema *jsonschema.Schema, raw []byte) {
	t.Helper()
	var payload interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.NoError(t, schema.Validate(payload), string(raw))
}

func TestSubmissionContract(t *testing.T) {
	schema := compileContract(t, "submission.schema.json")

	a := setupTestApp(t, service.GradingConfig{SchoolAPIKey: "school"})
	a.client.submit = klausurenweb.SubmitResult{ID: "abc123"}

	resp, raw := a.do(t, http.MethodPost, submissionsPath(a.activity.ID), map[string]string{"content": "Hello"}, 7, "student")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	validateContract(t, schema, raw)

	resp, raw = a.do(t, http.MethodGet, submissionsPath(a.activity.ID)+"/me", nil, 7, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	validateContract(t, schema, raw)

	var envelope struct {
		Data struct {
			ID uint `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))

	resp, raw = a.do(t, http.MethodPut, fmt.Sprintf("/api/v1/submissions/%d/grade", envelope.Data.ID), map[string]interface{}{"grade": 64, "feedback": "ok"}, 1, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	validateContract(t, schema, raw)
}

func TestGradingErrorContract(t *testing.T) {
	schema := compileContract(t, "grading_error.schema.json")

	a := setupTestApp(t, service.GradingConfig{SchoolAPIKey: "school"})
	a.client.submitErr = &klausurenweb.Error{Kind: klausurenweb.KindAPI, Op: "submit_work", StatusCode: 503, Message: "maintenance"}

	resp, raw := a.do(t, http.MethodPost, submissionsPath(a.activity.ID), map[string]string{"content": "Hello"}, 7, "student")
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	validateContract(t, schema, raw)

	missingKey := setupTestApp(t, service.GradingConfig{})
	resp, raw = missingKey.do(t, http.MethodPost, submissionsPath(missingKey.activity.ID), map[string]string{"content": "Hello"}, 7, "student")
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	validateContract(t, schema, raw)
}
