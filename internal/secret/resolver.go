package secret

import (
	"context"
	"fmt"
	"strings"
)

// Resolver dispatches references to the provider registered for their type
type Resolver struct {
	providers map[string]Provider
}

// NewResolver registers the env and keyring providers
func NewResolver() *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	r.RegisterProvider(TypeEnv, NewEnvProvider())
	r.RegisterProvider(TypeKeyring, NewKeyringProvider(ServiceName))
	return r
}

// RegisterProvider installs or replaces the provider for secretType
func (r *Resolver) RegisterProvider(secretType string, p Provider) {
	r.providers[secretType] = p
}

// Resolve resolves a single reference
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	p, ok := r.providers[ref.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, ref.Type)
	}
	return p.Resolve(ctx, ref)
}

// Expand replaces every reference in input with its value. Strings without
// references are returned unchanged.
func (r *Resolver) Expand(ctx context.Context, input string) (string, error) {
	refs := FindRefs(input)
	if len(refs) == 0 {
		return input, nil
	}

	out := input
	for _, ref := range refs {
		value, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to resolve secret %s: %w", ref.Original, err)
		}
		out = strings.ReplaceAll(out, ref.Original, value)
	}
	return out, nil
}

// ExpandAll expands each pointed-to string in place, stopping at the first failure
func (r *Resolver) ExpandAll(ctx context.Context, fields ...*string) error {
	for _, f := range fields {
		if f == nil || *f == "" {
			continue
		}
		expanded, err := r.Expand(ctx, *f)
		if err != nil {
			return err
		}
		*f = expanded
	}
	return nil
}
