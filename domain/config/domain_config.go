package config

import (
	"fmt"
	"time"
)

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Link constraints
	MaxLocationsLength int
	MaxLinksPerRecord  int

	// Query limits
	DefaultPageSize  int
	MaxLinksPerQuery int

	// Link-manager sessions
	SessionTimeout  time.Duration
	MutationTimeout time.Duration

	// Audit behaviour
	DefaultLinkGroupMode string
	BlockPublishOnAudit  bool

	// Feature flags
	EnableRealTimeSync bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxLocationsLength: 500,
		MaxLinksPerRecord:  1000,

		DefaultPageSize:  50,
		MaxLinksPerQuery: 5000,

		SessionTimeout:  8 * time.Hour,
		MutationTimeout: 15 * time.Second,

		DefaultLinkGroupMode: "sum",
		BlockPublishOnAudit:  true,

		EnableRealTimeSync: true,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.MaxLinksPerQuery = 2000
	config.SessionTimeout = 2 * time.Hour
	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.MaxLocationsLength = 4000
	config.SessionTimeout = 24 * time.Hour
	config.MutationTimeout = time.Minute
	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MaxLocationsLength <= 0 {
		return fmt.Errorf("max locations length must be positive, got %d", c.MaxLocationsLength)
	}
	if c.DefaultPageSize <= 0 || c.DefaultPageSize > c.MaxLinksPerQuery {
		return fmt.Errorf("default page size %d out of range (1..%d)", c.DefaultPageSize, c.MaxLinksPerQuery)
	}
	switch c.DefaultLinkGroupMode {
	case "sum", "any":
	default:
		return fmt.Errorf("unknown link group mode %q", c.DefaultLinkGroupMode)
	}
	return nil
}
