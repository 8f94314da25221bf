package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errBuf bytes.Buffer
	err = run(context.Background(), &out, &errBuf, args)
	return out.String(), errBuf.String(), err
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	stdout, _, err := runCmd(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Errorf("stdout = %q, want usage text", stdout)
	}
}

func TestRun_Help(t *testing.T) {
	for _, flag := range []string{"-h", "-help", "--help"} {
		stdout, _, err := runCmd(t, flag)
		if err != nil {
			t.Fatalf("run(%s): %v", flag, err)
		}
		if !strings.Contains(stdout, "Usage:") {
			t.Errorf("run(%s) stdout = %q, want usage text", flag, stdout)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	_, _, err := runCmd(t, "frobnicate")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	_, _, err := runCmd(t, "-frobnicate")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRun_Version(t *testing.T) {
	stdout, _, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout, "Wren") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRun_VersionJSON(t *testing.T) {
	stdout, _, err := runCmd(t, "-o", "json", "version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var info map[string]any
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, stdout)
	}
	if _, ok := info["version"]; !ok {
		t.Errorf("json output missing version field: %v", info)
	}
}

func TestRun_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	stdout, _, err := runCmd(t, "init", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout, path) {
		t.Errorf("stdout = %q, want created path echoed", stdout)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}

	// A second init must refuse to clobber the file.
	if _, _, err := runCmd(t, "init", path); err == nil {
		t.Fatal("expected error on existing config")
	}
}

func TestRun_AskRequiresQuestion(t *testing.T) {
	_, _, err := runCmd(t, "ask")
	if err == nil {
		t.Fatal("expected usage error, got nil")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_ToolsMissingConfig(t *testing.T) {
	_, _, err := runCmd(t, "-config", "/no/such/wren.yaml", "tools")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_FlagEqualsForms(t *testing.T) {
	// -config=path must parse the same as -config path.
	_, _, err := runCmd(t, "-config=/no/such/wren.yaml", "tools")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want config-not-found", err)
	}
}
