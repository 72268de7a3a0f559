// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mmrofs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Image.Path == "" || config.Mount.MaxFiles <= 0 {
		t.Errorf("defaults incomplete: %+v", config)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
image:
  path: /var/lib/device/partition.img
  size: 2097152
mount:
  mountpoint: /srv/files
  max_files: 32
  allow_other: true
log:
  level: debug
`)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Image.Path != "/var/lib/device/partition.img" {
		t.Errorf("Image.Path = %q", config.Image.Path)
	}
	if config.Image.Size != 2097152 {
		t.Errorf("Image.Size = %d", config.Image.Size)
	}
	if !config.Mount.AllowOther || config.Mount.MaxFiles != 32 {
		t.Errorf("Mount = %+v", config.Mount)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", config.Log.Level)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "image:\n  path: only.img\n")
	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Image.Path != "only.img" {
		t.Errorf("Image.Path = %q", config.Image.Path)
	}
	if config.Mount.MaxFiles != Default().Mount.MaxFiles {
		t.Errorf("MaxFiles = %d, want default", config.Mount.MaxFiles)
	}
}

func TestLoadEnvVar(t *testing.T) {
	path := writeConfig(t, "image:\n  path: from-env.img\n")
	t.Setenv(EnvVar, path)
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Image.Path != "from-env.img" {
		t.Errorf("Image.Path = %q", config.Image.Path)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unaligned size", "image:\n  path: x.img\n  size: 69633\n", "erase block"},
		{"tiny size", "image:\n  path: x.img\n  size: 4096\n", "minimum"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"negative fds", "mount:\n  max_files: -1\n", "max_files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/mmrofs.yaml"); err == nil {
		t.Error("missing file should fail")
	}
}
