package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SMTP_HOST", "mail.internal")
	t.Setenv("REPORT_RECIPIENTS", "owner@example.com, ,ops@example.com")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "mail.internal", cfg.SMTPHost)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 24, cfg.IdempotencyTTLHours)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"owner@example.com", "ops@example.com"}, cfg.Recipients())
}
