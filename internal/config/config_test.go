package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "AIWeb3-Agents/internal/errors"
)

const sampleYAML = `
server:
  address: ":9000"
chain:
  rpc_url: http://127.0.0.1:8545
  confirm_timeout: 45s
signer:
  private_key: "0xabc"
policies:
  spend:
    max_value: "1000"
    allowlist:
      - "0x00000000000000000000000000000000000000Aa"
    denylist:
      - "0xBAD0000000000000000000000000000000000001"
records:
  driver: file
  path: records/calls.jsonl
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := LoadWithEnv(path, map[string]string{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := filepath.Dir(path)

	if cfg.Server.Address != ":9000" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Chain.ConfirmTimeout != 45*time.Second {
		t.Fatalf("unexpected confirm timeout: %s", cfg.Chain.ConfirmTimeout)
	}
	if cfg.Chain.MinGas != 21000 || cfg.Chain.PollInterval != time.Second {
		t.Fatalf("chain defaults not applied: %+v", cfg.Chain)
	}
	if cfg.Records.Path != filepath.Join(dir, "records/calls.jsonl") {
		t.Fatalf("record path not resolved relative to config: %s", cfg.Records.Path)
	}
	if cfg.Runtime.RunsDir != filepath.Join(dir, "runs") {
		t.Fatalf("unexpected runs dir: %s", cfg.Runtime.RunsDir)
	}
	if cfg.Lock.Driver != "local" || cfg.Events.Driver != "none" {
		t.Fatalf("unexpected drivers: lock=%s events=%s", cfg.Lock.Driver, cfg.Events.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p, err := cfg.SpendPolicy()
	if err != nil {
		t.Fatalf("SpendPolicy: %v", err)
	}
	if p.MaxValue().Uint64() != 1000 {
		t.Fatalf("unexpected max value: %s", p.MaxValue().Dec())
	}
	if got := p.Allowlist(); len(got) != 1 || got[0] != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("allowlist not normalized: %v", got)
	}
}

func TestEnvironmentOverridesReplaceFields(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := LoadWithEnv(path, map[string]string{
		"EVM_RPC_URL":       "http://node:8545",
		"PRIVATE_KEY":       "0xdef",
		"POLICY_MAX_VALUE":  "0x10",
		"POLICY_DENYLIST":   "0x0000000000000000000000000000000000000001,0x0000000000000000000000000000000000000002",
		"AGENT_LOG_LEVEL":   "debug",
		"AGENT_SERVER_ADDR": ":7000",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain.RPCURL != "http://node:8545" || cfg.Signer.PrivateKey != "0xdef" {
		t.Fatalf("chain overrides not applied: %+v %+v", cfg.Chain, cfg.Signer)
	}
	if cfg.Server.Address != ":7000" || cfg.Logging.Level != "debug" {
		t.Fatalf("server/log overrides not applied")
	}
	if len(cfg.Policies.Spend.Denylist) != 2 {
		t.Fatalf("denylist override should replace, got %v", cfg.Policies.Spend.Denylist)
	}
	if len(cfg.Policies.Spend.Allowlist) != 1 {
		t.Fatalf("allowlist without override should keep file value")
	}
	p, err := cfg.SpendPolicy()
	if err != nil {
		t.Fatalf("SpendPolicy: %v", err)
	}
	if p.MaxValue().Uint64() != 16 {
		t.Fatalf("unexpected max value: %s", p.MaxValue().Dec())
	}
}

func TestMissingFileIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo-agent.yaml")
	cfg, err := LoadWithEnv(path, map[string]string{
		"EVM_RPC_URL": "http://node:8545",
		"PRIVATE_KEY": "0xdef",
	})
	if err == nil {
		t.Fatalf("expected error for missing config file, got %+v", cfg)
	}
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("expected CONFIGURATION_ERROR, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := map[string]string{
		"missing rpc":       "signer:\n  private_key: x\n",
		"missing key":       "chain:\n  rpc_url: http://x\n",
		"negative max":      "chain:\n  rpc_url: http://x\nsigner:\n  private_key: x\npolicies:\n  spend:\n    max_value: \"-1\"\n",
		"bad denylist":      "chain:\n  rpc_url: http://x\nsigner:\n  private_key: x\npolicies:\n  spend:\n    denylist: [\"0x123\"]\n",
		"mysql without dsn": "chain:\n  rpc_url: http://x\nsigner:\n  private_key: x\nrecords:\n  driver: mysql\n",
		"unknown lock":      "chain:\n  rpc_url: http://x\nsigner:\n  private_key: x\nlock:\n  driver: etcd\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadWithEnv(writeConfig(t, content), map[string]string{})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
				t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := LoadWithEnv(writeConfig(t, "server: [oops"), map[string]string{})
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(PathEnv, "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("unexpected default: %s", got)
	}
	t.Setenv(PathEnv, "/etc/agent.yaml")
	if got := ResolvePath(""); got != "/etc/agent.yaml" {
		t.Fatalf("env path ignored: %s", got)
	}
	if got := ResolvePath("local.yaml"); got != "local.yaml" {
		t.Fatalf("explicit path ignored: %s", got)
	}
}

func TestShippedConfigIsValid(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "agent.yaml")
	cfg, err := LoadWithEnv(path, map[string]string{
		"PRIVATE_KEY": "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
	})
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("shipped config should validate with PRIVATE_KEY set: %v", err)
	}
	if want := filepath.Join("..", "..", "runs"); cfg.Runtime.RunsDir != want {
		t.Fatalf("runs dir should resolve next to configs/, got %s", cfg.Runtime.RunsDir)
	}
	if !cfg.MCP.Enabled || cfg.Logging.Audit.Path != filepath.Join("..", "..", "data", "audit.log") {
		t.Fatalf("unexpected mcp/audit settings: %+v %+v", cfg.MCP, cfg.Logging.Audit)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "AIWEB3_TEST_DOTENV_NEW=from-file\nAIWEB3_TEST_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("AIWEB3_TEST_DOTENV_SET", "from-process")
	t.Setenv("AIWEB3_TEST_DOTENV_NEW", "")
	os.Unsetenv("AIWEB3_TEST_DOTENV_NEW")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("AIWEB3_TEST_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("AIWEB3_TEST_DOTENV_SET"); got != "from-process" {
		t.Fatalf("process environment must win, got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
