package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug level in development")
	}
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug disabled in production")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info level in production")
	}
}
