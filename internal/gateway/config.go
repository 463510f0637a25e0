package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string        `yaml:"bind" json:"bind"`
	AuthToken       string        `yaml:"authToken" json:"authToken"`
	ReadTimeout     time.Duration `yaml:"readTimeout" json:"readTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8731"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// authConfigured reports whether the admin endpoints should be mounted.
func (c Config) authConfigured() bool {
	return c.AuthToken != ""
}
