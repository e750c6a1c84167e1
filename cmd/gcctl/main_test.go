package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/gclink/internal/testutil/testlog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitThenTableValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "reference.toml")
	if _, err := execute(t, "config", "init", "--kind", "table", "-o", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	out, err := execute(t, "table", "validate", path)
	if err != nil {
		t.Fatalf("table validate: %v", err)
	}
	if !strings.Contains(out, "app=730") || !strings.Contains(out, "kinds=20") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := execute(t, "config", "init", "--kind", "table", "-o", path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}

func TestRunRejectsMissingConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error")
	}
	if _, err := execute(t, "table", "validate"); err == nil {
		t.Fatalf("expected argument error")
	}
}
