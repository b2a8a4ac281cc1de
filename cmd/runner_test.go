package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hvdberg/spotlink/internal/shared"
)

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}

			runner := NewRunner(RunnerOpts{
				Config: config,
				Logger: logger,
				Output: output,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})
	})

	t.Run("loadConfig", func(t *testing.T) {
		t.Run("prefers explicit file", func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.toml")

			custom := `[database]
path = "/from/file.db"
`
			if err := os.WriteFile(configPath, []byte(custom), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			runner := NewRunner(RunnerOpts{})
			config := runner.loadConfig(configPath)

			if config.Database.Path != "/from/file.db" {
				t.Errorf("expected path from file, got %s", config.Database.Path)
			}
		})

		t.Run("falls back to runner config", func(t *testing.T) {
			base := shared.DefaultConfig()
			base.Database.Path = "/from/runner.db"

			runner := NewRunner(RunnerOpts{Config: base})
			config := runner.loadConfig("/nonexistent/config.toml")

			if config.Database.Path != "/from/runner.db" {
				t.Errorf("expected runner config, got %s", config.Database.Path)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		if err := runner.writeJSON(map[string]string{"status": "ok"}, false); err != nil {
			t.Fatalf("writeJSON failed: %v", err)
		}

		if !strings.Contains(output.String(), `"status":"ok"`) {
			t.Errorf("unexpected output: %s", output.String())
		}
	})

	t.Run("writePlain", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		if err := runner.writePlain("done: %s\n", "setup"); err != nil {
			t.Fatalf("writePlain failed: %v", err)
		}

		if output.String() != "done: setup\n" {
			t.Errorf("unexpected output: %q", output.String())
		}
	})
}
