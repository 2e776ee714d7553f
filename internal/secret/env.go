package secret

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider reads secrets from environment variables
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider reads from the process environment
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// Resolve returns the variable's value. Unset and empty variables are both ErrNotFound.
func (p *EnvProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value, ok := p.lookup(ref.Name)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %s: %w", ref.Name, ErrNotFound)
	}
	return value, nil
}
