package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

// GradingClient is the subset of the klausurenweb client used by the services.
type GradingClient interface {
	ValidateCode(ctx context.Context, code string) (klausurenweb.ValidationResult, error)
	SubmitWork(ctx context.Context, code, content, studentName string, metadata map[string]interface{}) (klausurenweb.SubmitResult, error)
	GetFeedback(ctx context.Context, remoteID string) (klausurenweb.FeedbackResult, error)
}

// ClientFactory builds a grading client for a resolved API key.
type ClientFactory func(apiKey string) (GradingClient, error)

// GradingConfig is the explicit configuration of the grading integration.
type GradingConfig struct {
	SchoolAPIKey     string
	BaseURL          string
	ValidateLerncode bool
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	// CorrelationID extracts the inbound request id that outbound calls forward.
	CorrelationID func(ctx context.Context) string
}

// NewClientFactory returns a factory producing real klausurenweb clients.
func NewClientFactory(cfg GradingConfig, logger zerolog.Logger) ClientFactory {
	return func(apiKey string) (GradingClient, error) {
		client, err := klausurenweb.New(klausurenweb.Config{
			APIKey:         apiKey,
			BaseURL:        cfg.BaseURL,
			ConnectTimeout: cfg.ConnectTimeout,
			Timeout:        cfg.RequestTimeout,
			Logger:         logger,
			CorrelationID:  cfg.CorrelationID,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// GradingGateway resolves credentials and guards remote calls against misconfiguration.
type GradingGateway struct {
	cfg       GradingConfig
	clients   ClientFactory
	lerncodes LerncodeValidator
}

// NewGradingGateway wires the grading configuration with a client factory and lerncode validator.
func NewGradingGateway(cfg GradingConfig, clients ClientFactory, lerncodes LerncodeValidator) *GradingGateway {
	if lerncodes == nil {
		lerncodes = NewLerncodeValidator(nil, 0, zerolog.Nop())
	}
	return &GradingGateway{cfg: cfg, clients: clients, lerncodes: lerncodes}
}

// ResolveAPIKey prefers the activity key and falls back to the school key.
func (g *GradingGateway) ResolveAPIKey(teacherKey string) (string, error) {
	if key := strings.TrimSpace(teacherKey); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(g.cfg.SchoolAPIKey); key != "" {
		return key, nil
	}
	return "", klausurenweb.NewConfigurationError("no api key configured for this activity or school")
}

// Client resolves the key and builds a client without performing any request.
func (g *GradingGateway) Client(teacherKey, lerncode string) (GradingClient, string, error) {
	apiKey, err := g.ResolveAPIKey(teacherKey)
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(lerncode) == "" {
		return nil, "", klausurenweb.NewConfigurationError("no lerncode configured for this activity")
	}
	if g.clients == nil {
		return nil, "", klausurenweb.NewConfigurationError("grading client is not configured")
	}

	client, err := g.clients(apiKey)
	if err != nil {
		return nil, "", err
	}
	return client, apiKey, nil
}

// EnsureLerncode validates the lerncode when validation is enabled.
func (g *GradingGateway) EnsureLerncode(ctx context.Context, client GradingClient, apiKey, lerncode string) error {
	if !g.cfg.ValidateLerncode {
		return nil
	}
	return g.CheckLerncode(ctx, client, apiKey, lerncode)
}

// CheckLerncode always validates the lerncode against the service.
func (g *GradingGateway) CheckLerncode(ctx context.Context, client GradingClient, apiKey, lerncode string) error {
	result, err := g.lerncodes.Validate(ctx, client, apiKey, lerncode)
	if err != nil {
		return err
	}
	if !result.Valid {
		message := fmt.Sprintf("lerncode %q was rejected", lerncode)
		if strings.TrimSpace(result.Message) != "" {
			message += ": " + strings.TrimSpace(result.Message)
		}
		return klausurenweb.NewConfigurationError(message)
	}
	return nil
}
