package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/exchange"
)

// ErrCredentialsNotFound is returned when no credentials are stored
var ErrCredentialsNotFound = errors.New("exchange credentials not found")

// Client reads exchange credentials from a KV v2 mount. When Vault is
// disabled it serves whatever was stored in memory.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *exchange.Credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Enabled reports whether a Vault server backs this client
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// GetExchangeCredentials returns the exchange API credentials, reading
// Vault once and caching the result
func (c *Client) GetExchangeCredentials(ctx context.Context) (exchange.Credentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		creds := *c.cached
		c.mu.RUnlock()
		return creds, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return exchange.Credentials{}, ErrCredentialsNotFound
	}

	secret, err := c.client.KVv2(c.config.MountPath).Get(ctx, c.config.SecretPath)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return exchange.Credentials{}, ErrCredentialsNotFound
		}
		return exchange.Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return exchange.Credentials{}, ErrCredentialsNotFound
	}

	creds := exchange.Credentials{
		APIKey:     getString(secret.Data, "api_key"),
		SecretKey:  getString(secret.Data, "secret_key"),
		Passphrase: getString(secret.Data, "passphrase"),
	}
	if !creds.Valid() {
		return exchange.Credentials{}, fmt.Errorf("vault secret %s is incomplete", c.config.SecretPath)
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return creds, nil
}

// StoreExchangeCredentials writes credentials to Vault (or memory when
// Vault is disabled)
func (c *Client) StoreExchangeCredentials(ctx context.Context, creds exchange.Credentials) error {
	if !creds.Valid() {
		return errors.New("api_key, secret_key and passphrase are required")
	}
	if c.config.Enabled {
		_, err := c.client.KVv2(c.config.MountPath).Put(ctx, c.config.SecretPath, map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"passphrase": creds.Passphrase,
		})
		if err != nil {
			return fmt.Errorf("failed to store credentials in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return nil
}

// ResolveCredentials prefers Vault and falls back to the environment values
// carried in cfg
func ResolveCredentials(ctx context.Context, c *Client, cfg config.ExchangeConfig) (exchange.Credentials, string) {
	if c != nil && c.Enabled() {
		if creds, err := c.GetExchangeCredentials(ctx); err == nil {
			return creds, "vault"
		}
	}
	return exchange.Credentials{APIKey: cfg.APIKey, SecretKey: cfg.SecretKey, Passphrase: cfg.Passphrase}, "env"
}

// HealthCheck checks if Vault is accessible
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return errors.New("vault is not initialized or sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
