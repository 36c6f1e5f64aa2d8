// Package models contains shared data models used across the CodeAgent codebase.
package models

import "context"

// Role selects the persona the completion service answers as.
type Role string

const (
	RoleProducer  Role = "producer"
	RoleValidator Role = "validator"
)

// Completer is the contract every completion service integration implements.
// Never call a specific provider directly; always inject this interface.
type Completer interface {
	// Complete sends input to the model under the given role and returns its text.
	Complete(ctx context.Context, role Role, input string) (string, error)
	// Name returns the provider identifier (e.g. "groq", "openai").
	Name() string
}
