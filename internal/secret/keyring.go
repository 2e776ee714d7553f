package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ServiceName groups toolproxy entries in the OS keyring
const ServiceName = "toolproxy"

// KeyringProvider stores secrets in the OS keyring (Keychain, Secret Service, WinCred)
type KeyringProvider struct {
	service string
}

// NewKeyringProvider uses ServiceName when service is empty
func NewKeyringProvider(service string) *KeyringProvider {
	if service == "" {
		service = ServiceName
	}
	return &KeyringProvider{service: service}
}

// Resolve reads ref.Name from the keyring
func (p *KeyringProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value, err := keyring.Get(p.service, ref.Name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring entry %s: %w", ref.Name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keyring entry %s: %w", ref.Name, err)
	}
	return value, nil
}

// Set writes or replaces name
func (p *KeyringProvider) Set(_ context.Context, name, value string) error {
	if err := keyring.Set(p.service, name, value); err != nil {
		return fmt.Errorf("failed to store keyring entry %s: %w", name, err)
	}
	return nil
}

// Delete removes name
func (p *KeyringProvider) Delete(_ context.Context, name string) error {
	err := keyring.Delete(p.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring entry %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete keyring entry %s: %w", name, err)
	}
	return nil
}
