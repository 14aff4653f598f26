package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
repo:
  url: git@github.com:course/material.git
  branch: term-2024
  dir: /srv/course
sync:
  committer_name: course-bot
  committer_email: bot@example.edu
  timeout: 5m
auth:
  ssh_key_file: /etc/nbsyncd/id_ed25519
serve:
  enabled: true
  listen_addr: :8080
  github_webhook_secret_file: /etc/nbsyncd/secret
  allowed_event_types: [push]
  resync_interval: 1h
  metrics: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Repo.Branch != "term-2024" || cfg.Repo.Dir != "/srv/course" {
		t.Errorf("repo = %+v", cfg.Repo)
	}
	if cfg.Sync.Timeout.Std() != 5*time.Minute {
		t.Errorf("timeout = %v, want 5m", cfg.Sync.Timeout.Std())
	}
	if cfg.Serve.ResyncInterval.Std() != time.Hour {
		t.Errorf("resync_interval = %v, want 1h", cfg.Serve.ResyncInterval.Std())
	}
	if !cfg.Serve.Metrics {
		t.Error("metrics not parsed")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
repo:
  url: https://github.com/course/material.git
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Repo.Branch != "main" {
		t.Errorf("branch = %q, want main", cfg.Repo.Branch)
	}
	if cfg.Repo.Dir != "." {
		t.Errorf("dir = %q, want .", cfg.Repo.Dir)
	}
	if cfg.Sync.CommitterName != "nbsyncd" || cfg.Sync.CommitterEmail != "nbsyncd@localhost" {
		t.Errorf("committer = %q <%q>", cfg.Sync.CommitterName, cfg.Sync.CommitterEmail)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("COURSE_DIR", "/srv/course")
	path := writeConfig(t, `
repo:
  url: https://github.com/course/material.git
  dir: ${COURSE_DIR}/week1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Repo.Dir != "/srv/course/week1" {
		t.Errorf("dir = %q", cfg.Repo.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded for a missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "repo: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("Load succeeded for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Repo.URL = "" },
			wantErr: "repo.url",
		},
		{
			name: "both auth methods",
			mutate: func(c *Config) {
				c.Auth.SSHKeyFile = "/k"
				c.Auth.HTTPSTokenFile = "/t"
			},
			wantErr: "only one of",
		},
		{
			name: "ssh key with https url",
			mutate: func(c *Config) {
				c.Repo.URL = "https://github.com/course/material.git"
				c.Auth.SSHKeyFile = "/k"
			},
			wantErr: "SSH scheme",
		},
		{
			name: "token with ssh url",
			mutate: func(c *Config) {
				c.Repo.URL = "git@github.com:course/material.git"
				c.Auth.HTTPSTokenFile = "/t"
			},
			wantErr: "HTTPS scheme",
		},
		{
			name: "serve without listen addr",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.GitHubWebhookSecretFile = "/s"
			},
			wantErr: "listen_addr",
		},
		{
			name: "serve without secret",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.ListenAddr = ":8080"
			},
			wantErr: "github_webhook_secret_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Repo.URL = "https://github.com/course/material.git"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSchemeHelpers(t *testing.T) {
	cfg := Default()

	cfg.Repo.URL = "https://github.com/x/y.git"
	if !cfg.IsHTTPS() || cfg.IsSSH() {
		t.Error("https URL misclassified")
	}
	cfg.Repo.URL = "git@github.com:x/y.git"
	if !cfg.IsSSH() || cfg.IsHTTPS() {
		t.Error("scp-style URL misclassified")
	}
	cfg.Repo.URL = "ssh://git@github.com/x/y.git"
	if !cfg.IsSSH() {
		t.Error("ssh:// URL misclassified")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	path := writeConfig(t, `
repo:
  url: https://github.com/x/y.git
sync:
  timeout: 90s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.Timeout.Std() != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Sync.Timeout.Std())
	}

	path = writeConfig(t, `
repo:
  url: https://github.com/x/y.git
sync:
  timeout: shortly
`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted an unparseable duration")
	}
}
