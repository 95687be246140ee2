package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesFeedbackOutcomes(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	FeedbackOutcomes().WithLabelValues("pending").Inc()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `engelbrain_feedback_outcomes_total{outcome="pending"}`)
	require.Contains(t, string(body), "promhttp_metric_handler_requests_total")
}
