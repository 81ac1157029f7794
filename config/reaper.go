package config

import "time"

// ReaperConfig controls removal of finished jobs from the job store.
// A max age of zero keeps jobs of that status until removed by hand.
type ReaperConfig struct {
	Interval        time.Duration `env:"INTERVAL"          envDefault:"1m"`
	CompletedMaxAge time.Duration `env:"COMPLETED_MAX_AGE" envDefault:"0"`
	FailedMaxAge    time.Duration `env:"FAILED_MAX_AGE"    envDefault:"0"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Second {
		r.Interval = time.Second
	}
	if r.CompletedMaxAge < 0 {
		r.CompletedMaxAge = 0
	}
	if r.FailedMaxAge < 0 {
		r.FailedMaxAge = 0
	}
}

// Enabled reports whether any status has a retention limit.
func (r ReaperConfig) Enabled() bool {
	return r.CompletedMaxAge > 0 || r.FailedMaxAge > 0
}
