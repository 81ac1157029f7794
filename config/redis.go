package config

import "strings"

// RedisConfig controls the optional job change publisher.
type RedisConfig struct {
	Enabled  bool   `env:"ENABLED"  envDefault:"false"`
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
	Channel  string `env:"CHANNEL"  envDefault:"docflow:jobs"`
}

// Sanitize disables the publisher when it has nowhere to publish.
func (r *RedisConfig) Sanitize() {
	r.Addr = strings.TrimSpace(r.Addr)
	r.Channel = strings.TrimSpace(r.Channel)
	if r.Channel == "" {
		r.Channel = "docflow:jobs"
	}
	if r.Addr == "" {
		r.Enabled = false
	}
	if r.DB < 0 {
		r.DB = 0
	}
}
