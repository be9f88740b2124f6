package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/sdk/go/toolsclient"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, exitOK},
		{"policy", xerrors.New(xerrors.CodePolicyViolation, "denied"), exitPolicy},
		{"unknown tool", xerrors.New(xerrors.CodeUnknownTool, "missing"), exitUnknownTool},
		{"config", xerrors.New(xerrors.CodeConfiguration, "bad"), exitConfig},
		{"simulation", xerrors.New(xerrors.CodeSimulationFailed, "revert"), exitFailure},
		{"plain", errors.New("boom"), exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Fatalf("exitCode = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestParseArgsJSON(t *testing.T) {
	args, err := parseArgsJSON(`{"to":"0xabc","value":1000000000000000000000}`)
	if err != nil {
		t.Fatalf("parseArgsJSON: %v", err)
	}
	if n, ok := args["value"].(json.Number); !ok || n.String() != "1000000000000000000000" {
		t.Fatalf("large numbers must keep precision, got %#v", args["value"])
	}
	if args, err := parseArgsJSON(""); err != nil || len(args) != 0 {
		t.Fatalf("empty input should give empty args, got %v %v", args, err)
	}
	if _, err := parseArgsJSON(`[1,2]`); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestFromAPIErrorKeepsCode(t *testing.T) {
	err := fromAPIError(&toolsclient.APIError{StatusCode: 403, Code: "POLICY_VIOLATION", Message: "denied", Reason: "denylisted"})
	if exitCode(err) != exitPolicy {
		t.Fatalf("expected policy exit code, got %d", exitCode(err))
	}
	if xerrors.MetadataOf(err, "reason") != "denylisted" {
		t.Fatal("expected reason metadata")
	}
}

func TestCheckLabs(t *testing.T) {
	env := map[string]string{"EVM_RPC_URL": "http://localhost:8545", "PRIVATE_KEY": "key"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	var out strings.Builder
	err := checkLabs(&out, lookup)
	if err == nil {
		t.Fatal("expected missing vars")
	}
	for _, want := range []string{"COUNTER_ADDRESS", "ERC721_ADDRESS", "TOKEN_URI"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %s in output %q", want, out.String())
		}
	}

	env["COUNTER_ADDRESS"], env["ERC721_ADDRESS"], env["TOKEN_URI"] = "0x1", "0x2", "ipfs://x"
	out.Reset()
	if err := checkLabs(&out, lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlaybookRunAgainstServer(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if r.URL.Path == "/tools/chain.missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"UNKNOWN_TOOL","message":"unknown tool: chain.missing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"address":"0x00000000000000000000000000000000000000aa","balance":"1"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	pbPath := filepath.Join(dir, "pb.yaml")
	pb := "name: demo\nsteps:\n  - tool: chain.get_balance\n    args:\n      address: \"0x00000000000000000000000000000000000000aa\"\n  - tool: chain.missing\n  - tool: chain.get_balance\n"
	if err := os.WriteFile(pbPath, []byte(pb), 0o644); err != nil {
		t.Fatalf("write playbook: %v", err)
	}

	err := newApp().RunContext(context.Background(), []string{
		"toolctl", "--config", cfgPath, "--server", srv.URL, "playbook", "run", "--lab", "day-001", pbPath,
	})
	if exitCode(err) != exitUnknownTool {
		t.Fatalf("expected unknown tool exit code, got %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("run must stop at first failure, got calls %v", calls)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "labs", "day-001", "runs"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one saved report, got %v (%v)", entries, err)
	}
}

func TestRemoteHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/records" || r.URL.Query().Get("limit") != "3" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"UNKNOWN_TOOL","message":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"records":[
			{"id":"2","tool":"chain.send_transfer","error_code":"POLICY_VIOLATION","started_at":"2026-01-02T03:04:05Z","finished_at":"2026-01-02T03:04:05.250Z"},
			{"id":"1","tool":"chain.get_balance","started_at":"2026-01-02T03:04:00Z","finished_at":"2026-01-02T03:04:01Z"}
		]}`))
	}))
	defer srv.Close()

	client, err := toolsclient.NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	b := &remoteBackend{client: client}
	recs, err := b.History(context.Background(), 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "2" || recs[0].ErrorCode != "POLICY_VIOLATION" {
		t.Fatalf("unexpected records %+v", recs)
	}

	var buf bytes.Buffer
	if err := writeHistory(&buf, recs); err != nil {
		t.Fatalf("writeHistory: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "chain.send_transfer") || !strings.Contains(lines[0], "POLICY_VIOLATION") || !strings.Contains(lines[0], "250ms") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "ok") || !strings.Contains(lines[1], "2026-01-02T03:04:00Z") {
		t.Fatalf("unexpected second line %q", lines[1])
	}

	if _, err := b.History(context.Background(), 9); exitCode(err) != exitUnknownTool {
		t.Fatalf("expected server error code to map to exit code, got %v", err)
	}
}
