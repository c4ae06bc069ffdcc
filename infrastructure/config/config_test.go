package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("QUERY_CACHE_TTL", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 30*time.Second, cfg.QueryCacheTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory in development", Config{StoreBackend: BackendMemory, Environment: "development"}, false},
		{"unknown backend", Config{StoreBackend: "redis"}, true},
		{"dynamodb without table", Config{StoreBackend: BackendDynamoDB}, true},
		{"sqlite without path", Config{StoreBackend: BackendSQLite}, true},
		{"production without secret", Config{StoreBackend: BackendSQLite, SQLitePath: "x.db", Environment: "production"}, true},
		{"production on memory", Config{StoreBackend: BackendMemory, Environment: "production", JWTSecret: "s"}, true},
		{"production on sqlite", Config{StoreBackend: BackendSQLite, SQLitePath: "x.db", Environment: "production", JWTSecret: "s"}, false},
		{"websocket without connections table", Config{StoreBackend: BackendDynamoDB, DynamoDBTable: "t", WebSocketEndpoint: "https://x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
