package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/drugbot/internal/config"
)

func TestRun_StartupFailuresReturnExitCode(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"broken config", "retrieval: ["},
		{"unknown backend", "index:\n  backend: s3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "drugbot.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			t.Setenv(config.EnvConfigPath, path)

			assert.Equal(t, 1, run())
		})
	}
}
