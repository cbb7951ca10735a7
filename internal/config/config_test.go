package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "search_cache", cfg.Database.Database)
				assert.Equal(t, "search_events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "https://api.scraper.example.com", cfg.Provider.BaseURL)
				assert.Equal(t, "%s online course tutorial", cfg.Provider.SearchTemplate)
				assert.Equal(t, 8, cfg.Cache.Capacity)
				assert.Equal(t, 24*time.Hour, cfg.Cache.EntryTTL)
				assert.Equal(t, 64, cfg.Dispatch.QueueSize)
				assert.Equal(t, "hook-secret", cfg.Security.WebhookToken)
				assert.Equal(t, "search-cache-service", cfg.App.Name)
			}
		})
	}
}

// validConfig returns a configuration that passes Validate. Cases mutate a
// copy rather than restating every block.
func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080},
		Storage: StorageConfig{Backend: BackendPostgres},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "search_cache",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		RabbitMQ: RabbitMQConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    5672,
			Exchange: ExchangeConfig{
				Name: "search_events",
			},
			Queue: QueueConfig{
				Name: "search_events_audit",
			},
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.scraper.example.com",
			WebhookURL: "https://search.example.com/api/v1/webhooks/provider",
		},
		Cache: CacheConfig{
			Capacity:       8,
			EntryTTL:       24 * time.Hour,
			PendingTimeout: 10 * time.Minute,
		},
		Dispatch: DispatchConfig{
			QueueSize:   64,
			Concurrency: 4,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "unknown storage backend",
			mutate:    func(c *Config) { c.Storage.Backend = "etcd" },
			wantErr:   true,
			errString: "unknown storage backend",
		},
		{
			name:      "postgres backend requires a host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "postgres backend requires a database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "memory backend skips database checks",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendMemory
				c.Database = DatabaseConfig{}
			},
			wantErr: false,
		},
		{
			name: "redis backend requires an address",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendRedis
				c.Redis = RedisConfig{}
			},
			wantErr:   true,
			errString: "redis url or host is required",
		},
		{
			name: "redis url alone is enough",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendRedis
				c.Redis = RedisConfig{URL: "redis://localhost:6379/0"}
			},
			wantErr: false,
		},
		{
			name:      "enabled rabbitmq requires a host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "enabled rabbitmq requires an exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "disabled rabbitmq skips broker checks",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: false}
			},
			wantErr: false,
		},
		{
			name:      "missing provider base url",
			mutate:    func(c *Config) { c.Provider.BaseURL = "" },
			wantErr:   true,
			errString: "provider base_url is required",
		},
		{
			name:      "missing provider webhook url",
			mutate:    func(c *Config) { c.Provider.WebhookURL = "" },
			wantErr:   true,
			errString: "provider webhook_url is required",
		},
		{
			name:      "zero cache capacity",
			mutate:    func(c *Config) { c.Cache.Capacity = 0 },
			wantErr:   true,
			errString: "cache capacity must be greater than 0",
		},
		{
			name:      "zero entry ttl",
			mutate:    func(c *Config) { c.Cache.EntryTTL = 0 },
			wantErr:   true,
			errString: "cache entry_ttl must be greater than 0",
		},
		{
			name:      "zero pending timeout",
			mutate:    func(c *Config) { c.Cache.PendingTimeout = 0 },
			wantErr:   true,
			errString: "cache pending_timeout must be greater than 0",
		},
		{
			name:      "zero dispatch queue size",
			mutate:    func(c *Config) { c.Dispatch.QueueSize = 0 },
			wantErr:   true,
			errString: "dispatch queue_size must be greater than 0",
		},
		{
			name:      "zero dispatch concurrency",
			mutate:    func(c *Config) { c.Dispatch.Concurrency = 0 },
			wantErr:   true,
			errString: "dispatch concurrency must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_PROVIDER_TOKEN", "tok-from-env")

	cfg, err := Load("testdata/env_config.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "tok-from-env", cfg.Provider.Token)
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("valid port range", func(t *testing.T) {
		validPorts := []int{1, 80, 443, 8080, 65535}
		for _, port := range validPorts {
			assert.GreaterOrEqual(t, port, MinPort)
			assert.LessOrEqual(t, port, MaxPort)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
