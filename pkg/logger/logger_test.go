package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	audit, err := buildAuditLogger(AuditConfig{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("buildAuditLogger: %v", err)
	}
	audit.Info("transfer_confirmed", slog.String("tx_hash", "0xabc"))
	if err := Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("audit line is not JSON: %v (%s)", err, content)
	}
	if entry["msg"] != "transfer_confirmed" || entry["tx_hash"] != "0xabc" {
		t.Fatalf("unexpected audit entry %v", entry)
	}
}

func TestAuditLoggerRequiresPath(t *testing.T) {
	if _, err := buildAuditLogger(AuditConfig{Enabled: true}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestBuildHandlerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	handler, err := buildHandler("text", []string{path}, &slog.HandlerOptions{Level: slog.LevelInfo})
	if err != nil {
		t.Fatalf("buildHandler: %v", err)
	}
	slog.New(handler).With(slog.String("component", "test")).Info("hello")
	if err := Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "msg=hello") || !strings.Contains(string(content), "component=test") {
		t.Fatalf("unexpected log output %q", content)
	}
}
