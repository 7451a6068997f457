// Package notification publishes operational incidents to SNS.
//
// Incidents cover conditions an operator should see even though the
// request path already handled them: every generation provider
// exhausted, or a background refinement task failing after its
// recommendation was served.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/styletide/stylist-engine/internal/platform/aws"
	"github.com/styletide/stylist-engine/internal/platform/observability"
	"go.opentelemetry.io/otel/attribute"
)

// IncidentKind classifies an incident for SNS subscription filtering.
type IncidentKind string

const (
	// IncidentProviderExhausted fires when the whole cascade failed
	IncidentProviderExhausted IncidentKind = "provider_exhausted"
	// IncidentBackgroundFailure fires when a refinement job failed
	IncidentBackgroundFailure IncidentKind = "background_failure"
)

// Incident is the message published to the incident topic.
type Incident struct {
	ID         string       `json:"id"`
	Kind       IncidentKind `json:"kind"`
	UserID     string       `json:"userId,omitempty"`
	Detail     string       `json:"detail"`
	Reasons    []string     `json:"reasons,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// NewIncident builds an incident with a fresh id and timestamp.
func NewIncident(kind IncidentKind, userID, detail string, reasons []string) Incident {
	return Incident{
		ID:         uuid.NewString(),
		Kind:       kind,
		UserID:     userID,
		Detail:     detail,
		Reasons:    reasons,
		OccurredAt: time.Now().UTC(),
	}
}

// IncidentPublisher delivers incidents to an operator-facing sink.
type IncidentPublisher interface {
	PublishIncident(ctx context.Context, incident Incident) error
}

// Publisher publishes incidents to an SNS topic
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
}

// NewPublisher creates a new incident publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// PublishIncident publishes an incident to SNS.
// Implements the IncidentPublisher interface.
func (p *Publisher) PublishIncident(ctx context.Context, incident Incident) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"Publisher.PublishIncident",
		observability.WithAttributes(
			attribute.String("incident_id", incident.ID),
			attribute.String("kind", string(incident.Kind)),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	start := time.Now()

	// Message attributes for SNS subscription filtering
	attributes := map[string]string{
		"kind": string(incident.Kind),
	}
	if incident.UserID != "" {
		attributes["userId"] = incident.UserID
	}

	err := p.snsClient.Publish(ctx, p.topicARN, incident, attributes)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		span.NoticeError(err)
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish incident", err,
				"incident_id", incident.ID,
				"kind", string(incident.Kind),
				"topic_arn", p.topicARN,
			)
		}
	} else if p.logger != nil {
		p.logger.Info("published incident",
			"incident_id", incident.ID,
			"kind", string(incident.Kind),
			"topic_arn", p.topicARN,
		)
	}

	if p.metrics != nil {
		p.metrics.RecordIncidentPublish(ctx, string(incident.Kind), status, duration)
	}

	if err != nil {
		return fmt.Errorf("incident publish failed: %w", err)
	}

	return nil
}

// CircuitBreakerState returns the current circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (p *Publisher) ResetCircuitBreaker() {
	p.snsClient.ResetCircuitBreaker()
	if p.logger != nil {
		p.logger.Info("reset SNS circuit breaker")
	}
}
