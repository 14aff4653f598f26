package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func resetGlobals(t *testing.T) {
	t.Helper()
	origCfg, origLevel, origFormat := cfgFile, logLevel, logFormat
	t.Cleanup(func() {
		cfgFile, logLevel, logFormat = origCfg, origLevel, origFormat
	})
	cfgFile, logLevel, logFormat = "", "info", "text"
	// Keep a developer's real default config file out of the tests.
	t.Setenv("HOME", t.TempDir())
}

func TestSetupLoggerLevels(t *testing.T) {
	resetGlobals(t)
	tests := []struct {
		level   string
		enabled slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logLevel = tt.level
			logger := setupLogger()
			if !logger.Enabled(context.Background(), tt.enabled) {
				t.Errorf("level %q: %v not enabled", tt.level, tt.enabled)
			}
			if tt.enabled > slog.LevelDebug && logger.Enabled(context.Background(), tt.enabled-4) {
				t.Errorf("level %q: %v unexpectedly enabled", tt.level, tt.enabled-4)
			}
		})
	}
}

func TestLoadConfigPositionalOverlay(t *testing.T) {
	resetGlobals(t)
	logger := setupLogger()

	args := []string{"https://github.com/course/material.git", "term-2024", "/srv/course"}
	cfg, err := loadConfig(logger, args)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Repo.URL != args[0] || cfg.Repo.Branch != args[1] || cfg.Repo.Dir != args[2] {
		t.Errorf("repo = %+v", cfg.Repo)
	}
}

func TestLoadConfigDefaultsBranchAndDir(t *testing.T) {
	resetGlobals(t)
	cfg, err := loadConfig(setupLogger(), []string{"https://github.com/course/material.git"})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Repo.Branch != "main" || cfg.Repo.Dir != "." {
		t.Errorf("repo = %+v", cfg.Repo)
	}
}

func TestLoadConfigArgsOverrideFile(t *testing.T) {
	resetGlobals(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "repo:\n  url: https://github.com/old/repo.git\n  branch: old\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfgFile = path

	cfg, err := loadConfig(setupLogger(), []string{"https://github.com/new/repo.git", "new"})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Repo.URL != "https://github.com/new/repo.git" || cfg.Repo.Branch != "new" {
		t.Errorf("repo = %+v", cfg.Repo)
	}
}

func TestLoadConfigRequiresURL(t *testing.T) {
	resetGlobals(t)
	if _, err := loadConfig(setupLogger(), nil); err == nil {
		t.Error("loadConfig succeeded without a repository URL")
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	resetGlobals(t)
	cfgFile = filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := loadConfig(setupLogger(), []string{"https://github.com/x/y.git"}); err == nil {
		t.Error("loadConfig succeeded with a missing config file")
	}
}
