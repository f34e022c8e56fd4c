package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.SweepGrace)
	assert.Equal(t, 24*time.Hour, cfg.SweepRetention)
	assert.Equal(t, 5.0, cfg.PricePerKm)
	assert.Equal(t, 10, cfg.ChatbotRateLimit)
	assert.Contains(t, cfg.Database.DSN(), "dbname=campusride")
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/campus")
	t.Setenv("UNIVERSITY_DOMAIN", "@uni.ac.ke; college.edu")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "postgres://u:p@db/campus", cfg.Database.DSN())
	assert.Equal(t, []string{"uni.ac.ke", "college.edu"}, cfg.UniversityDomains)
}

func TestFromEnvCollectsErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SWEEP_GRACE", "soon")
	t.Setenv("PRICE_PER_KM", "-1")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), "invalid SWEEP_GRACE")
	assert.Contains(t, err.Error(), "PRICE_PER_KM must be > 0")
}

func TestEmailAllowed(t *testing.T) {
	cfg := Config{UniversityDomains: []string{"uni.ac.ke"}}

	assert.True(t, cfg.EmailAllowed("jane@uni.ac.ke"))
	assert.True(t, cfg.EmailAllowed("jane@students.uni.ac.ke"))
	assert.False(t, cfg.EmailAllowed("jane@gmail.com"))
	assert.False(t, cfg.EmailAllowed("no-at-sign"))
	assert.True(t, Config{}.EmailAllowed("anyone@anywhere.com"))
}
