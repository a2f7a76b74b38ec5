package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/sentinelhq/sentinel/internal/policy"
)

const testConfig = `configVersion: 1
servers:
  - name: edge
    address: 10.0.0.5
    user: deploy
    keyFile: id_ed25519
    insecureIgnoreHostKey: true
secrets:
  keyFile: secret.key
state:
  path: state.json
applications:
  - uuid: 3f1c2a9e-8b7d-4c2e-9f10-6a5b4c3d2e1f
    name: shop
    server: edge
    firewall:
      enabled: true
      rules:
        - id: admin
          enabled: true
          conditions:
            - field: request_path
              operator: starts_with
              value: /admin
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"id_ed25519", "secret.key"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	path := filepath.Join(dir, "sentinel.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "-c", writeConfig(t))
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "config ok") {
		t.Fatalf("expected config ok, got %q", out)
	}
}

func TestCompileCommandStagesAndDiffs(t *testing.T) {
	cfgPath := writeConfig(t)
	outDir := filepath.Join(t.TempDir(), "bundle")
	app := "3f1c2a9e-8b7d-4c2e-9f10-6a5b4c3d2e1f"

	out, err := execute(t, "compile", "-c", cfgPath, "--app", app, "--out", outDir)
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, out)
	}
	if !strings.Contains(out, "wrote ") {
		t.Fatalf("expected staged files, got %q", out)
	}

	var staged []string
	_ = filepath.WalkDir(outDir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			staged = append(staged, p)
		}
		return nil
	})
	if len(staged) == 0 {
		t.Fatalf("expected files under %s", outDir)
	}

	out, err = execute(t, "compile", "-c", cfgPath, "--app", app, "--out", outDir, "--diff")
	if err != nil {
		t.Fatalf("compile --diff: %v\n%s", err, out)
	}
	if !strings.Contains(out, "no changes") {
		t.Fatalf("expected no changes on recompile, got %q", out)
	}
}

func TestCompileUnknownApplication(t *testing.T) {
	_, err := execute(t, "compile", "-c", writeConfig(t), "--app", "8a3e7c1d-0000-4000-8000-000000000001")
	if err == nil || !strings.Contains(err.Error(), "unknown application") {
		t.Fatalf("expected unknown application error, got %v", err)
	}
}

func TestKeygenWritesKeyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "secret.key")

	if _, err := execute(t, "keygen", "--out", path); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if len(strings.TrimSpace(string(data))) != 64 {
		t.Fatalf("expected 64 hex characters, got %q", data)
	}

	if _, err := execute(t, "keygen", "--out", path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}

func TestTemplatesCommand(t *testing.T) {
	out, err := execute(t, "templates")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	for _, key := range []string{"api-rate-limit", "block-scrapers", "geo-allow-business"} {
		if !strings.Contains(out, key) {
			t.Fatalf("expected %s in listing:\n%s", key, out)
		}
	}

	out, err = execute(t, "templates", "show", "login-brute-force", "--id", "login")
	if err != nil {
		t.Fatalf("templates show: %v", err)
	}
	var rules []policy.FirewallRule
	if err := yaml.Unmarshal([]byte(out), &rules); err != nil {
		t.Fatalf("output is not a rule list: %v\n%s", err, out)
	}
	if len(rules) != 1 || rules[0].ID != "login" || !rules[0].Enabled || len(rules[0].Conditions) != 2 {
		t.Fatalf("unexpected rule %+v", rules)
	}

	if _, err := execute(t, "templates", "show", "nope"); err == nil {
		t.Fatalf("expected unknown template error")
	}
}

func TestTemplatesGeoCommand(t *testing.T) {
	out, err := execute(t, "templates", "geo", "--countries", "fr,de", "--allow-only")
	if err != nil {
		t.Fatalf("templates geo: %v", err)
	}
	var rules []policy.FirewallRule
	if err := yaml.Unmarshal([]byte(out), &rules); err != nil {
		t.Fatalf("output is not a rule list: %v\n%s", err, out)
	}
	cond := rules[0].Conditions[0]
	if cond.Operator != policy.OpNotIn || cond.Value != "FR,DE" {
		t.Fatalf("unexpected condition %+v", cond)
	}
}
