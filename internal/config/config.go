// Package config loads the tunables collaborators need around the PngBin
// core that spec.md leaves as constructor defaults: the range fetcher's
// HTTP timeout, its retry budget, and its User-Agent string.
package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultRangeFetchAttempts = 3
	defaultUserAgent          = "pngbin/1.0"
)

// Config holds the range fetcher's runtime tunables.
type Config struct {
	HTTPTimeout        time.Duration
	RangeFetchAttempts uint
	UserAgent          string
}

// Load reads PNGBIN_* environment variables and an optional pngbin.yaml in
// the working directory, falling back to the defaults spec.md section 5
// and 4.7 name (30s timeout, 3 attempts).
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PNGBIN")
	v.AutomaticEnv()
	v.SetDefault("http_timeout", defaultHTTPTimeout)
	v.SetDefault("range_fetch_attempts", defaultRangeFetchAttempts)
	v.SetDefault("user_agent", defaultUserAgent)

	v.SetConfigName("pngbin")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return Config{
		HTTPTimeout:        v.GetDuration("http_timeout"),
		RangeFetchAttempts: uint(v.GetInt("range_fetch_attempts")),
		UserAgent:          v.GetString("user_agent"),
	}, nil
}
