package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		check   func(*Config) error
		wantErr string
	}{
		{
			name:    "unknown persistence driver",
			mutate:  func(c *Config) { c.Persistence.Driver = "oracle" },
			check:   (*Config).ValidatePersistence,
			wantErr: "persistence.driver must be one of [sqlite postgres]",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Persistence.DSN = "" },
			check:   (*Config).ValidatePersistence,
			wantErr: "persistence.dsn is required",
		},
		{
			name: "idle exceeds open",
			mutate: func(c *Config) {
				c.Persistence.MaxOpenConns = 2
				c.Persistence.MaxIdleConns = 5
			},
			check:   (*Config).ValidatePersistence,
			wantErr: "persistence.max_idle_conns must not exceed MaxOpenConns",
		},
		{
			name:    "bad isolation",
			mutate:  func(c *Config) { c.Transactions.Isolation = "snapshot" },
			check:   (*Config).ValidateTransactions,
			wantErr: "transactions.isolation",
		},
		{
			name: "redis without host port",
			mutate: func(c *Config) {
				c.Cache.Backend = "redis"
				c.Cache.Redis.Addr = "localhost"
			},
			check:   (*Config).ValidateCache,
			wantErr: "cache.redis.addr must be host:port",
		},
		{
			name: "redis block ignored for memory backend",
			mutate: func(c *Config) {
				c.Cache.Backend = "memory"
				c.Cache.Redis.Addr = ""
			},
			check: (*Config).ValidateCache,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Async.Workers = 0 },
			check:   (*Config).ValidateAsync,
			wantErr: "async.workers must be gte 1",
		},
		{
			name:    "vault without address",
			mutate:  func(c *Config) { c.Secrets.Provider = "vault"; c.Secrets.Vault.Address = "" },
			check:   (*Config).Validate,
			wantErr: "secrets.vault.address is required",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRatio = 1.5 },
			check:   (*Config).Validate,
			wantErr: "tracing.sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := tt.check(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
