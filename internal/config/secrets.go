package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// SecretsClient wraps a HashiCorp Vault client for exchange credential lookup
type SecretsClient struct {
	client *vault.Client
	config VaultConfig
}

// NewSecretsClient creates a Vault client from configuration.
// Token authentication only; the token comes from config or VAULT_TOKEN.
func NewSecretsClient(cfg VaultConfig) (*SecretsClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for vault authentication")
	}
	client.SetToken(token)

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &SecretsClient{client: client, config: cfg}, nil
}

// GetSecret retrieves a secret from Vault. path is relative to the
// configured SecretPath. KV v2 nests the payload under "data".
func (sc *SecretsClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", sc.config.MountPath, sc.config.SecretPath, path)

	secret, err := sc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// GetSecretString retrieves a single string value from Vault
func (sc *SecretsClient) GetSecretString(ctx context.Context, path, key string) (string, error) {
	data, err := sc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("key %q not found or not a string at path %s", key, path)
	}
	return value, nil
}

// LoadExchangeCredentials fills in exchange API credentials from Vault when
// they are not already present in the configuration.
func LoadExchangeCredentials(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		return nil
	}
	if cfg.Exchange.APIKey != "" && cfg.Exchange.SecretKey != "" {
		return nil
	}

	sc, err := NewSecretsClient(cfg.Vault)
	if err != nil {
		return err
	}

	apiKey, err := sc.GetSecretString(ctx, "exchange", "api_key")
	if err != nil {
		return fmt.Errorf("failed to load exchange api_key: %w", err)
	}
	secretKey, err := sc.GetSecretString(ctx, "exchange", "secret_key")
	if err != nil {
		return fmt.Errorf("failed to load exchange secret_key: %w", err)
	}

	cfg.Exchange.APIKey = apiKey
	cfg.Exchange.SecretKey = secretKey

	log.Info().Msg("Exchange credentials loaded from Vault")
	return nil
}
