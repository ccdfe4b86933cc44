package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"ASSAYIST_DB", "ASSAYIST_LISTEN", "ASSAYIST_MAX_HOPS", "ASSAYIST_EMBEDS_EXPANSION",
		"ASSAYIST_QUERY_TIMEOUT", "ASSAYIST_CACHE_SIZE", "ASSAYIST_DEBUG", "ASSAYIST_VERSION",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())

	cfg := FromEnv()
	assert.Equal(t, "./assayist.db", cfg.DB)
	assert.Equal(t, ":7450", cfg.Listen)
	assert.Equal(t, 256, cfg.MaxHops)
	assert.False(t, cfg.EmbedsExpansion)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 4096, cfg.CacheSize)
	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.Invalid)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ASSAYIST_DB", "/tmp/graph.db")
	t.Setenv("ASSAYIST_MAX_HOPS", "12")
	t.Setenv("ASSAYIST_EMBEDS_EXPANSION", "true")
	t.Setenv("ASSAYIST_QUERY_TIMEOUT", "2s")
	t.Setenv("ASSAYIST_CACHE_SIZE", "-1")
	t.Setenv("ASSAYIST_DEBUG", "1")

	cfg := FromEnv()
	assert.Equal(t, "/tmp/graph.db", cfg.DB)
	assert.Equal(t, 12, cfg.MaxHops)
	assert.True(t, cfg.EmbedsExpansion)
	assert.Equal(t, 2*time.Second, cfg.QueryTimeout)
	assert.Equal(t, -1, cfg.CacheSize)
	assert.Equal(t, logrus.DebugLevel, cfg.Logger().GetLevel())
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("ASSAYIST_MAX_HOPS", "many")
	t.Setenv("ASSAYIST_DEBUG", "sure")
	t.Setenv("ASSAYIST_QUERY_TIMEOUT", "soon")

	cfg := FromEnv()
	assert.Equal(t, 256, cfg.MaxHops)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, []string{"ASSAYIST_MAX_HOPS", "ASSAYIST_QUERY_TIMEOUT", "ASSAYIST_DEBUG"}, cfg.Invalid)
}

func TestLogger_WarnsAboutInvalid(t *testing.T) {
	var buf bytes.Buffer
	log := (&Config{Invalid: []string{"ASSAYIST_MAX_HOPS"}}).loggerTo(&buf)

	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "level=warning")
	assert.Contains(t, buf.String(), "var=ASSAYIST_MAX_HOPS")

	buf.Reset()
	(&Config{Debug: true}).loggerTo(&buf)
	assert.Empty(t, buf.String())
}

func TestFromArgs(t *testing.T) {
	t.Setenv("ASSAYIST_DB", "/env.db")
	t.Setenv("ASSAYIST_LISTEN", ":1")

	cfg := FromArgs("/flag.db", "")
	assert.Equal(t, "/flag.db", cfg.DB)
	assert.Equal(t, ":1", cfg.Listen)
}
