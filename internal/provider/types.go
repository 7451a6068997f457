package provider

import "time"

// GenerationRequest is the payload sent to a generation provider.
type GenerationRequest struct {
	// UserID identifies the requesting user (propagated for provider-side
	// abuse controls, never used for routing)
	UserID string `json:"userId"`

	// Prompt is the fully rendered generation prompt
	Prompt string `json:"prompt"`

	// StyleTags lists the style archetypes the batch should cover
	StyleTags []string `json:"styleTags,omitempty"`

	// Count is the number of looks requested (typically 3)
	Count int `json:"count"`
}

// GeneratedLook is one outfit suggestion returned by a provider.
type GeneratedLook struct {
	// Title is the provider's short name for the look
	Title string `json:"title"`

	// StyleTag is the style archetype the look was generated for
	StyleTag string `json:"styleTag"`

	// Items lists the garment descriptions making up the look
	Items []string `json:"items"`

	// Colors holds provider-suggested hex colors. Used as the fallback
	// palette when local extraction yields insufficient signal.
	Colors []string `json:"colors,omitempty"`

	// Image is the rendered look image (PNG or JPEG bytes), empty when
	// the provider returned no rendering
	Image []byte `json:"image,omitempty"`
}

// GenerationResult is a successful cascade outcome.
type GenerationResult struct {
	// Provider names the candidate that produced the result
	Provider string `json:"provider"`

	// Looks holds the generated batch in provider order
	Looks []GeneratedLook `json:"looks"`

	// GeneratedAt is when the provider returned the batch
	GeneratedAt time.Time `json:"generatedAt"`
}

// Health reports a remote endpoint's recent call history.
type Health struct {
	Provider            string
	LastSuccess         time.Time
	LastFailure         time.Time
	LastError           string
	LastDuration        time.Duration
	ConsecutiveFailures int
	CircuitState        string
}
