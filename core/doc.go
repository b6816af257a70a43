// Package core defines the platform capability model shared by the bootstrap,
// the CLI and the serving runtime: the immutable CapabilitySet, the lifecycle
// StateMachine, activation reports and the StartupError taxonomy.
package core
