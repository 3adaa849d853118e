package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"qcflow/internal/config"
	"qcflow/internal/daemon"
	"qcflow/internal/logging"
	"qcflow/internal/testsupport"
)

const (
	policyDoc      = `{"fields":{"named_insured":"Acme Holdings LLC","policy_number":"PL-1001"},"coverages":[{"key":"Each Occurrence","value":"$1,000,000"}]}`
	certificateDoc = `{"fields":{"named_insured":"Acme Holdings, LLC","policy_number":"PL-1002"},"coverages":[{"key":"Each Occurrence","value":"1000000"}]}`
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	apiAddress string
}

// setupCLITestEnv writes a config file for a fresh test config. With
// startDaemon the daemon is started and its API address recorded.
func setupCLITestEnv(t *testing.T, startDaemon bool) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{cfg: cfg, configPath: configPath}
	if !startDaemon {
		return env
	}

	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(context.Background(), cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	env.daemon = d
	env.apiAddress = d.APIAddress()
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	flags := []string{"--config", e.configPath}
	if e.apiAddress != "" {
		flags = append(flags, "--api", e.apiAddress)
	}
	return runCLI(t, append(flags, args...))
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeDocs(t *testing.T) (policy, certificate string) {
	t.Helper()
	dir := t.TempDir()
	policy = filepath.Join(dir, "policy.json")
	certificate = filepath.Join(dir, "certificate.json")
	testsupport.WriteFile(t, policy, []byte(policyDoc))
	testsupport.WriteFile(t, certificate, []byte(certificateDoc))
	return policy, certificate
}

// jobIDFrom extracts the id from a "Job <id> created" line.
func jobIDFrom(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "Job" && fields[2] == "created" {
			return fields[1]
		}
	}
	t.Fatalf("no job id in output %q", output)
	return ""
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
