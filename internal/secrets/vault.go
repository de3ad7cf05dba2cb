// Package secrets keeps connector credentials encrypted at rest and
// resolves ${{secrets.KEY}} references when connectors are launched.
// Plaintext exists in memory only.
package secrets

import (
	"context"
	"regexp"
)

// Vault stores and resolves secrets. Values are encrypted before they
// reach the store.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the minimal persistence surface needed by the vault.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

var secretRef = regexp.MustCompile(`^\$\{\{\s*secrets\.([A-Za-z0-9_.-]+)\s*\}\}$`)

// ResolveRef resolves a value that may be a ${{secrets.KEY}} reference.
// Plain values pass through untouched, so connector env lists can mix
// literals and vault references.
func ResolveRef(ctx context.Context, v Vault, value string) (string, error) {
	m := secretRef.FindStringSubmatch(value)
	if m == nil {
		return value, nil
	}
	plain, err := v.Resolve(ctx, m[1])
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
