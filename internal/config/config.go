// Package config provides configuration for the assayist CLI and server.
package config

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/lslebodn/assayist/traverse"
)

// Config holds runtime configuration.
type Config struct {
	// DB is the path of the SQLite graph database.
	DB string
	// Listen is the address the HTTP server listens on (e.g., ":7450").
	Listen string
	// MaxHops bounds variable-length walks over SUPERSEDES, UPSTREAM and EMBEDS.
	MaxHops int
	// EmbedsExpansion follows source-level EMBEDS in impact queries.
	EmbedsExpansion bool
	// QueryTimeout bounds a single query.
	QueryTimeout time.Duration
	// CacheSize is the node cache size of the SQLite store. Negative disables.
	CacheSize int
	// Debug enables debug logging.
	Debug bool
	// Version is the reported version string.
	Version string
	// Invalid names the variables that were set but did not parse.
	Invalid []string
}

// FromEnv creates a Config from ASSAYIST_* environment variables. A .env
// file in the working directory is loaded first; variables already set win.
// Values that do not parse keep their default and are listed in Invalid.
func FromEnv() *Config {
	_ = godotenv.Load()

	var e env
	cfg := &Config{
		DB:              e.str("ASSAYIST_DB", "./assayist.db"),
		Listen:          e.str("ASSAYIST_LISTEN", ":7450"),
		MaxHops:         lookup(&e, "ASSAYIST_MAX_HOPS", traverse.DefaultMaxHops, strconv.Atoi),
		EmbedsExpansion: lookup(&e, "ASSAYIST_EMBEDS_EXPANSION", false, strconv.ParseBool),
		QueryTimeout:    lookup(&e, "ASSAYIST_QUERY_TIMEOUT", 30*time.Second, time.ParseDuration),
		CacheSize:       lookup(&e, "ASSAYIST_CACHE_SIZE", 4096, strconv.Atoi),
		Debug:           lookup(&e, "ASSAYIST_DEBUG", false, strconv.ParseBool),
		Version:         e.str("ASSAYIST_VERSION", "0.1.0"),
	}
	cfg.Invalid = e.invalid
	return cfg
}

// FromArgs creates a Config from explicit values, with env fallbacks.
func FromArgs(db, listen string) *Config {
	cfg := FromEnv()
	if db != "" {
		cfg.DB = db
	}
	if listen != "" {
		cfg.Listen = listen
	}
	return cfg
}

// Logger returns a logger at the configured level. It warns once about
// every invalid variable.
func (c *Config) Logger() *logrus.Logger {
	return c.loggerTo(os.Stderr)
}

func (c *Config) loggerTo(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	if c.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	for _, key := range c.Invalid {
		log.WithField("var", key).Warn("ignoring unparseable value, using default")
	}
	return log
}

// env reads variables and remembers the ones that failed to parse.
type env struct {
	invalid []string
}

func (e *env) str(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func lookup[T any](e *env, key string, def T, parse func(string) (T, error)) T {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	v, err := parse(val)
	if err != nil {
		e.invalid = append(e.invalid, key)
		return def
	}
	return v
}
