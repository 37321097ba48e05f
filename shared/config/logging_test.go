package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	entry := NewLogger("auth-service")

	assert.IsType(t, &logrus.JSONFormatter{}, entry.Logger.Formatter)
	assert.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())
	assert.Equal(t, "auth-service", entry.Data["service"])
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_LEVEL", "chatty")

	entry := NewLogger("gateway")

	assert.IsType(t, &logrus.TextFormatter{}, entry.Logger.Formatter)
	assert.Equal(t, logrus.InfoLevel, entry.Logger.GetLevel())
}
