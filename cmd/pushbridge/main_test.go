package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/pushbridge/internal/config"
	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	configYAML := `
service:
  log_level: error
provider:
  kind: local
  local:
    path: bridge.db
` + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05+10:00")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("runCLI(version) code = %d, stderr: %s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, stdout)
	}
	if info.Version != "1.2.3" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.Commit != "0123456789ab" {
		t.Fatalf("commit = %q, want shortened", info.Commit)
	}
	if info.BuildTime != "2026-01-01T17:04:05Z" {
		t.Fatalf("build_time = %q, want UTC", info.BuildTime)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestNounActionHelp(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"system", "start", "--help"}, "Usage: pushbridge system start"},
		{[]string{"config", "check", "--help"}, "Usage: pushbridge config check"},
		{[]string{"config", "lock", "-h"}, "Usage: pushbridge config lock"},
		{[]string{"script", "run", "--help"}, "Usage: pushbridge script run"},
		{[]string{"exec", "--help"}, "Usage: pushbridge exec"},
		{[]string{"system", "help"}, "Usage: pushbridge system"},
	}
	for _, tc := range cases {
		code, stdout, stderr := captureOutputWithExitCode(t, func() int {
			return runCLI(tc.args)
		})
		if code != 0 {
			t.Fatalf("%v: code = %d, stderr: %s", tc.args, code, stderr)
		}
		if !strings.Contains(stdout, tc.want) {
			t.Fatalf("%v: stdout missing %q: %s", tc.args, tc.want, stdout)
		}
	}
}

func TestConfigCheckAndLock(t *testing.T) {
	configPath := writeTestConfig(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("config check code = %d, stderr: %s", code, stderr)
	}
	var result configCheckResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("check output is not JSON: %v", err)
	}
	if !result.Valid || result.Locked || result.Provider != "local" {
		t.Fatalf("unexpected check result: %+v", result)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"lock", "--config", configPath, "-v"})
	})
	if code != 0 {
		t.Fatalf("config lock code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "config.yaml") || !strings.Contains(stdout, "Locked 1 file(s)") {
		t.Fatalf("unexpected lock output: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), ".checksums")); err != nil {
		t.Fatalf("expected .checksums to be written: %v", err)
	}

	// Editing a locked config fails verification until it is re-locked.
	if err := os.WriteFile(configPath, []byte("service:\n  log_level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("check of tampered config code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Configuration invalid") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestConfigCheckInvalid(t *testing.T) {
	configPath := writeTestConfig(t, "api:\n  enabled: true\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "api.enabled requires") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestConfigCheckStrictFailsOnWarnings(t *testing.T) {
	configPath := writeTestConfig(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("non-strict check code = %d", code)
	}
	if !strings.Contains(stdout, "WARN  [provider]") {
		t.Fatalf("expected credentials warning: %s", stdout)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", configPath, "--strict"})
	})
	if code != 1 {
		t.Fatalf("strict check code = %d, want 1", code)
	}
}

func TestExecRunsCommandInProcess(t *testing.T) {
	configPath := writeTestConfig(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"exec", "getInstallationId", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("exec code = %d, stderr: %s", code, stderr)
	}
	var resp protocol.Response
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("exec output is not JSON: %v\n%s", err, stdout)
	}
	if !resp.OK() || resp.Value == nil || *resp.Value == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestExecInitializesFromConfig(t *testing.T) {
	configPath := writeTestConfig(t, "  app_id: app\n  client_key: key\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"exec", "subscribe", `["news"]`, "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("exec subscribe code = %d, stdout: %s, stderr: %s", code, stdout, stderr)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"exec", "getSubscriptions", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("exec getSubscriptions code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"value": "[news]"`) {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestExecErrorResponseExitsNonZero(t *testing.T) {
	configPath := writeTestConfig(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"exec", "shareLocation", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stdout, string(protocol.CodeInvalidAction)) {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestExecRejectsNonArrayArguments(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"exec", "subscribe", `{"channel":"news"}`})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Invalid arguments") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRuntimePluginsShareInitialization(t *testing.T) {
	configPath := writeTestConfig(t, "  app_id: app\n  client_key: key\n")
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		t.Fatalf("openRuntime: %v", err)
	}
	defer rt.Close()

	first := rt.newPlugin(logDeliverer(log.WithComponent("test")))
	if err := rt.initialize(ctx, first); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// A plugin created later, e.g. for a new socket, sees the provider as
	// initialized and does not initialize it again.
	second := rt.newPlugin(logDeliverer(log.WithComponent("test")))
	if !second.Dispatcher.Initialized() {
		t.Fatal("second plugin does not share the initialization latch")
	}
	cmd, err := protocol.NewCommand("initialize", "other-app", "other-key")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := second.Call(ctx, cmd)
	if err != nil || !resp.OK() {
		t.Fatalf("repeated initialize = %+v, %v", resp, err)
	}
}

func TestScriptRun(t *testing.T) {
	configPath := writeTestConfig(t, "  app_id: app\n  client_key: key\n")
	scriptPath := filepath.Join(filepath.Dir(configPath), "main.js")
	src := `
bridge.exec("initialize", ["app", "key"], function () {
  bridge.exec("trackEvent", ["opened", {"source": "cli"}], function () {
    bridge.log("tracked");
  }, function (msg) { throw new Error(msg); });
}, function (msg) { throw new Error(msg); });
`
	if err := os.WriteFile(scriptPath, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"script", "run", scriptPath, "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("script run code = %d, stderr: %s", code, stderr)
	}
}

func TestScriptRunSyntaxError(t *testing.T) {
	configPath := writeTestConfig(t, "")
	scriptPath := filepath.Join(filepath.Dir(configPath), "broken.js")
	if err := os.WriteFile(scriptPath, []byte("bridge.exec(("), 0644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"script", "run", scriptPath, "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Script failed") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestWatchRequiresAPIKey(t *testing.T) {
	t.Setenv("PUSHBRIDGE_API_KEY", "")
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runWatch(nil)
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "API key required") {
		t.Fatalf("stderr = %s", stderr)
	}
}
