package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability names a cross-cutting platform subsystem that is activated once
// at startup and stays active for the lifetime of the process.
type Capability string

const (
	// PersistenceAuditing tags persisted records with creation/modification provenance
	PersistenceAuditing Capability = "PersistenceAuditing"
	// TransactionManagement enables transactional demarcation around state-mutating operations
	TransactionManagement Capability = "TransactionManagement"
	// ResponseCaching enables the cache abstraction for expensive computations
	ResponseCaching Capability = "ResponseCaching"
	// AsyncExecution enables the background task-execution facility
	AsyncExecution Capability = "AsyncExecution"
)

// activationOrder lists every known capability in the order it is activated.
// Persistence and transactions precede anything that might depend on a
// database handle; caching and async follow.
var activationOrder = [...]Capability{
	PersistenceAuditing,
	TransactionManagement,
	ResponseCaching,
	AsyncExecution,
}

// ActivationOrder returns all known capabilities in activation order.
func ActivationOrder() []Capability {
	out := make([]Capability, len(activationOrder))
	copy(out, activationOrder[:])
	return out
}

// Known reports whether c is one of the four platform capabilities.
func (c Capability) Known() bool {
	for _, k := range activationOrder {
		if k == c {
			return true
		}
	}
	return false
}

// Key returns the snake_case configuration key for the capability.
func (c Capability) Key() string {
	var b strings.Builder
	for i, r := range string(c) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseCapability accepts CamelCase, snake_case and kebab-case spellings.
func ParseCapability(s string) (Capability, error) {
	norm := normalizeName(s)
	for _, c := range activationOrder {
		if normalizeName(string(c)) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}

// CapabilitySet is the fixed mapping from capability to enabled state.
// It is built once at process start; there are no mutators, and copies
// share nothing mutable with the original.
type CapabilitySet struct {
	enabled map[Capability]bool
}

// NewCapabilitySet returns a set in which exactly the given capabilities are
// enabled. Unknown capabilities are ignored.
func NewCapabilitySet(enabled ...Capability) CapabilitySet {
	m := make(map[Capability]bool, len(activationOrder))
	for _, c := range enabled {
		if c.Known() {
			m[c] = true
		}
	}
	return CapabilitySet{enabled: m}
}

// CapabilitySetFromMap builds a set from an explicit enabled/disabled mapping.
func CapabilitySetFromMap(states map[Capability]bool) CapabilitySet {
	var enabled []Capability
	for c, on := range states {
		if on {
			enabled = append(enabled, c)
		}
	}
	return NewCapabilitySet(enabled...)
}

// AllCapabilities returns a set with every capability enabled.
func AllCapabilities() CapabilitySet {
	return NewCapabilitySet(activationOrder[:]...)
}

// Enabled reports whether c is enabled in the set.
func (s CapabilitySet) Enabled(c Capability) bool {
	return s.enabled[c]
}

// List returns the enabled capabilities in activation order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s.enabled))
	for _, c := range activationOrder {
		if s.enabled[c] {
			out = append(out, c)
		}
	}
	return out
}

// States returns a copy of the full mapping, including disabled capabilities.
func (s CapabilitySet) States() map[Capability]bool {
	out := make(map[Capability]bool, len(activationOrder))
	for _, c := range activationOrder {
		out[c] = s.enabled[c]
	}
	return out
}

// Len returns the number of enabled capabilities.
func (s CapabilitySet) Len() int {
	return len(s.List())
}

func (s CapabilitySet) String() string {
	parts := make([]string, 0, len(activationOrder))
	for _, c := range activationOrder {
		state := "off"
		if s.enabled[c] {
			state = "on"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", c, state))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// MarshalJSON encodes the set as an object of capability -> enabled.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.States())
}
