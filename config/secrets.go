package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
)

const (
	vaultRefPrefix = "vault:"
	envRefPrefix   = "env:"
)

// SecretResolver expands secret references found in config values.
//
//	vault:<path>#<key>   read <key> from the Vault secret at <path> (KV v1 or v2)
//	env:<NAME>           read environment variable NAME
//
// Any other value is returned unchanged.
type SecretResolver struct {
	cfg SecretsConfig

	once     sync.Once
	client   *api.Client
	clientEr error
}

// NewSecretResolver returns a resolver. The Vault client is created on the
// first vault reference, so env-only deployments never touch Vault.
func NewSecretResolver(cfg SecretsConfig) *SecretResolver {
	return &SecretResolver{cfg: cfg}
}

// IsSecretRef reports whether value is a secret reference.
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, vaultRefPrefix) || strings.HasPrefix(value, envRefPrefix)
}

// Resolve returns the plain value for a possibly-referenced secret.
func (r *SecretResolver) Resolve(ctx context.Context, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envRefPrefix):
		name := strings.TrimPrefix(value, envRefPrefix)
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("environment variable %s not set", name)
		}
		return v, nil
	case strings.HasPrefix(value, vaultRefPrefix):
		return r.resolveVault(ctx, strings.TrimPrefix(value, vaultRefPrefix))
	default:
		return value, nil
	}
}

func (r *SecretResolver) vaultClient() (*api.Client, error) {
	r.once.Do(func() {
		if r.cfg.Provider != "vault" {
			r.clientEr = fmt.Errorf("vault secret reference used but secrets.provider is %q", r.cfg.Provider)
			return
		}
		timeout := r.cfg.Vault.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client, err := api.NewClient(&api.Config{
			Address: r.cfg.Vault.Address,
			Timeout: timeout,
		})
		if err != nil {
			r.clientEr = fmt.Errorf("failed to create Vault client: %w", err)
			return
		}
		if r.cfg.Vault.Token != "" {
			client.SetToken(r.cfg.Vault.Token)
		}
		r.client = client
	})
	return r.client, r.clientEr
}

func (r *SecretResolver) resolveVault(ctx context.Context, ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("invalid vault reference %q: expected vault:<path>#<key>", vaultRefPrefix+ref)
	}

	client, err := r.vaultClient()
	if err != nil {
		return "", err
	}

	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", path)
	}

	data := secret.Data
	// KV v2 nests the payload under "data"
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret %s", key, path)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}
