// Package secret resolves ${type:name} references found in configuration
// values. Supported types are env (process environment) and keyring (the OS
// credential store).
package secret

import (
	"context"
	"errors"
)

// Reference types
const (
	TypeEnv     = "env"
	TypeKeyring = "keyring"
)

var (
	// ErrNotFound is returned when a provider has no value for a reference
	ErrNotFound = errors.New("secret not found")
	// ErrUnknownType is returned for references whose type has no provider
	ErrUnknownType = errors.New("unknown secret type")
)

// Ref is a parsed secret reference
type Ref struct {
	Type     string
	Name     string
	Original string
}

// Provider resolves references of one type
type Provider interface {
	Resolve(ctx context.Context, ref Ref) (string, error)
}

// Store is a Provider that can also write secrets
type Store interface {
	Provider
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}
