package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, _, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Extraction mode: fixture")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t, false)
	env.cfg.Paths.APIToken = "s3cret-token"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "s3cret-token") {
		t.Fatalf("token leaked in output:\n%s", out)
	}
	requireContains(t, out, redacted)
	requireContains(t, out, "[finalize]")
}

func TestDoctorWithFixtureConfig(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, _, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "[OK]")
}

func TestLogsFiltersByJob(t *testing.T) {
	env := setupCLITestEnv(t, false)
	content := `{"level":"INFO","msg":"job created","job_id":"job-a"}
{"level":"INFO","msg":"job created","job_id":"job-b"}
`
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "qcflow.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := env.run(t, "logs", "--job", "job-b")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "job-a") {
		t.Fatalf("unexpected job-a line:\n%s", out)
	}
	requireContains(t, out, "job-b")
}
