package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends
const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string
	StoreBackend  string

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	IndexName     string // GSI1 - inbound links, connections by session
	GSI2IndexName string // GSI2 - outbound links, records by kind
	EventBusName  string
	EventSource   string

	// SQLite configuration
	SQLitePath string

	// Rule files; empty means the embedded defaults
	KindRulesFile  string
	AuditRulesFile string
	WatchRules     bool

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string
	ColdStartTimeout   int // milliseconds

	// WebSocket configuration
	WebSocketEndpoint string
	ConnectionsTable  string

	// Logging
	LogLevel string

	// Authentication
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// Link-manager sessions
	SessionSweepInterval time.Duration
	QueryCacheTTL        time.Duration

	// Feature flags
	EnableMetrics         bool
	EnableCloudWatch      bool
	MetricsNamespace      string
	EnableTracing         bool
	EnableCORS            bool
	CircuitBreakerEnabled bool
	RateLimitPerMinute    int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		StoreBackend:  getEnv("STORE_BACKEND", BackendMemory),

		AWSRegion:     getEnv("AWS_REGION", "eu-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "evidence-engine")),
		IndexName:     getEnv("GSI1_INDEX_NAME", "InboundIndex"),
		GSI2IndexName: getEnv("GSI2_INDEX_NAME", "KindIndex"),
		EventBusName:  getEnv("EVENT_BUS_NAME", ""),
		EventSource:   getEnv("EVENT_SOURCE", "evidence-engine.links"),

		SQLitePath: getEnv("SQLITE_PATH", "evidence-engine.db"),

		KindRulesFile:  getEnv("KIND_RULES_FILE", ""),
		AuditRulesFile: getEnv("AUDIT_RULES_FILE", ""),
		WatchRules:     getEnvBool("WATCH_RULES", false),

		// Lambda configuration
		IsLambda:           getEnvBool("IS_LAMBDA", os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),
		ColdStartTimeout:   getEnvInt("COLD_START_TIMEOUT", 3000),

		// WebSocket configuration
		WebSocketEndpoint: getEnv("WEBSOCKET_ENDPOINT", ""),
		ConnectionsTable:  getEnv("CONNECTIONS_TABLE", ""),

		// Authentication
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "evidence-engine"),
		JWTAudience: getEnv("JWT_AUDIENCE", ""),

		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		QueryCacheTTL:        getEnvDuration("QUERY_CACHE_TTL", time.Minute),

		// Logging and features
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		EnableMetrics:         getEnvBool("ENABLE_METRICS", true),
		EnableCloudWatch:      getEnvBool("ENABLE_CLOUDWATCH", false),
		MetricsNamespace:      getEnv("METRICS_NAMESPACE", "EvidenceEngine"),
		EnableTracing:         getEnvBool("ENABLE_TRACING", false),
		EnableCORS:            getEnvBool("ENABLE_CORS", true),
		CircuitBreakerEnabled: getEnvBool("CIRCUIT_BREAKER_ENABLED", false),
		RateLimitPerMinute:    getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("TABLE_NAME is required for the dynamodb backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StoreBackend == BackendMemory {
			return fmt.Errorf("the memory backend cannot be used in production")
		}
	}
	if c.WebSocketEndpoint != "" && c.ConnectionsTable == "" && c.StoreBackend == BackendDynamoDB {
		return fmt.Errorf("CONNECTIONS_TABLE is required when WEBSOCKET_ENDPOINT is set")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
