package core

import (
	"encoding/json"
	"time"
)

// ActivationReport records the outcome of one capability activation.
type ActivationReport struct {
	Capability  Capability
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

// Duration returns how long the activation took.
func (r ActivationReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the activation completed without error.
func (r ActivationReport) Succeeded() bool {
	return r.Err == nil && !r.CompletedAt.IsZero()
}

// MarshalJSON renders the report for introspection endpoints and the CLI.
func (r ActivationReport) MarshalJSON() ([]byte, error) {
	out := struct {
		Capability  Capability `json:"capability"`
		StartedAt   time.Time  `json:"started_at"`
		CompletedAt time.Time  `json:"completed_at"`
		DurationMs  float64    `json:"duration_ms"`
		Succeeded   bool       `json:"succeeded"`
		Error       string     `json:"error,omitempty"`
	}{
		Capability:  r.Capability,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  float64(r.Duration().Microseconds()) / 1000,
		Succeeded:   r.Succeeded(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
