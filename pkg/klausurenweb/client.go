package klausurenweb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the production endpoint of the grading service.
	DefaultBaseURL = "https://klausurenweb.de/api/v1"
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 20 * time.Second
	// DefaultTimeout bounds the whole request; evaluation can take minutes.
	DefaultTimeout = 300 * time.Second

	apiKeyHeader        = "X-API-Key"
	correlationHeader   = "X-Correlation-ID"
	unknownErrorMessage = "unknown error"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engelbrain",
		Subsystem: "klausurenweb",
		Name:      "request_duration_seconds",
		Help:      "Duration of requests to the klausurenweb API",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"operation"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engelbrain",
		Subsystem: "klausurenweb",
		Name:      "request_failures_total",
		Help:      "Number of failed requests to the klausurenweb API by error kind",
	}, []string{"operation", "kind"})
)

// Config defines how the client reaches the grading service.
type Config struct {
	APIKey         string
	BaseURL        string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         zerolog.Logger
	// CorrelationID, when set, reads the id of the inbound request from ctx.
	// Requests carry it as X-Correlation-ID.
	CorrelationID func(ctx context.Context) string
}

// Client talks to the klausurenweb.de grading API. It never retries.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	logger  zerolog.Logger

	correlationID func(ctx context.Context) string
}

// New builds a client. An empty API key is a configuration error.
func New(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, NewConfigurationError("api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		connectTimeout := cfg.ConnectTimeout
		if connectTimeout <= 0 {
			connectTimeout = DefaultConnectTimeout
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		transport.TLSHandshakeTimeout = connectTimeout

		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    httpClient,
		tracer:  otel.Tracer("github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"),
		logger:  logger.With().Str("component", "klausurenweb_client").Logger(),

		correlationID: cfg.CorrelationID,
	}, nil
}

// BaseURL returns the endpoint the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ValidateCode checks whether the lerncode is known to the service.
func (c *Client) ValidateCode(ctx context.Context, code string) (ValidationResult, error) {
	var result ValidationResult
	path := "/lerncode/" + url.PathEscape(code) + "/validate"
	if err := c.do(ctx, "validate_code", http.MethodGet, path, nil, &result); err != nil {
		return ValidationResult{}, err
	}
	return result, nil
}

// SubmitWork forwards student work and returns the remote correlation id.
func (c *Client) SubmitWork(ctx context.Context, code, content, studentName string, metadata map[string]interface{}) (SubmitResult, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	payload := submitPayload{
		Content:     content,
		StudentName: studentName,
		Metadata:    metadata,
	}

	var raw json.RawMessage
	path := "/submissions/" + url.PathEscape(code)
	if err := c.do(ctx, "submit_work", http.MethodPost, path, payload, &raw); err != nil {
		return SubmitResult{}, err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return SubmitResult{}, c.invalid("submit_work", "submission response is not an object", err)
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return SubmitResult{}, c.invalid("submit_work", "malformed submission response", err)
	}
	id := decoded.resolve()
	if id == "" {
		return SubmitResult{}, c.invalid("submit_work", "response does not contain a submission id", nil)
	}

	return SubmitResult{ID: id, Raw: fields}, nil
}

// GetFeedback polls the evaluation state of a remote submission.
func (c *Client) GetFeedback(ctx context.Context, remoteID string) (FeedbackResult, error) {
	var decoded feedbackResponse
	path := "/submissions/" + url.PathEscape(remoteID) + "/feedback"
	if err := c.do(ctx, "get_feedback", http.MethodGet, path, nil, &decoded); err != nil {
		return FeedbackResult{}, err
	}
	return decoded.result(), nil
}

func (c *Client) do(parent context.Context, op, method, path string, body interface{}, out interface{}) (err error) {
	ctx, span := c.tracer.Start(parent, "klausurenweb."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("klausurenweb.operation", op),
	))
	defer span.End()

	correlationID := ""
	if c.correlationID != nil {
		correlationID = c.correlationID(ctx)
	}
	if correlationID != "" {
		span.SetAttributes(attribute.String("correlation_id", correlationID))
	}

	start := time.Now()
	status := 0
	defer func() {
		duration := time.Since(start)
		requestDuration.WithLabelValues(op).Observe(duration.Seconds())

		event := c.logger.Debug()
		if err != nil {
			kind := "unknown"
			if e, ok := AsError(err); ok {
				kind = string(e.Kind)
			}
			requestFailures.WithLabelValues(op, kind).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			event = c.logger.Warn().Err(err)
		}
		event.Str("operation", op).
			Str("correlation_id", correlationID).
			Str("method", method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration).
			Msg("klausurenweb request finished")
	}()

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("klausurenweb %s: encode request: %w", op, marshalErr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("klausurenweb %s: build request: %w", op, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if correlationID != "" {
		req.Header.Set(correlationHeader, correlationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return connectionError(op, err)
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", status))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return connectionError(op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{
			Kind:       KindAPI,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(data),
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return c.invalid(op, "empty response body", nil)
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return c.invalid(op, "response body is null", nil)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return c.invalid(op, "malformed json response", err)
	}

	return nil
}

func (c *Client) invalid(op, message string, cause error) error {
	return &Error{Kind: KindInvalidResponse, Op: op, Message: message, Err: cause}
}

func connectionError(op string, err error) error {
	return &Error{
		Kind:    KindConnection,
		Op:      op,
		Timeout: isTimeout(err),
		Err:     err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// extractErrorMessage looks for detail, then message, in an error body.
func extractErrorMessage(data []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return unknownErrorMessage
	}

	for _, key := range []string{"detail", "message"} {
		raw, ok := payload[key]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}

		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			if strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
			continue
		}

		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err == nil {
			return compact.String()
		}
	}

	return unknownErrorMessage
}
