package notification

import (
	"context"

	"github.com/styletide/stylist-engine/internal/platform/observability"
)

// NoOpPublisher logs incidents instead of publishing them.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a publisher that only logs incidents.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishIncident logs the incident instead of publishing to SNS.
// Implements the IncidentPublisher interface.
func (p *NoOpPublisher) PublishIncident(ctx context.Context, incident Incident) error {
	if p.logger != nil {
		p.logger.Info("incident recorded (SNS disabled)",
			"incident_id", incident.ID,
			"kind", string(incident.Kind),
			"user_id", incident.UserID,
			"detail", incident.Detail,
			"reasons", incident.Reasons,
		)
	}
	return nil
}

// CircuitBreakerState returns "closed" since there's no circuit breaker.
func (p *NoOpPublisher) CircuitBreakerState() string {
	return "closed"
}

// ResetCircuitBreaker is a no-op since there's no circuit breaker.
func (p *NoOpPublisher) ResetCircuitBreaker() {}
