package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xerrors "AIWeb3-Agents/internal/errors"
)

type recordingDispatcher struct {
	calls []string
	args  []map[string]any
	fail  map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, name string, args map[string]any) (any, error) {
	d.calls = append(d.calls, name)
	d.args = append(d.args, args)
	if err := d.fail[name]; err != nil {
		return nil, err
	}
	return map[string]any{"tool": name}, nil
}

func lookupFrom(vars map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

const samplePlaybook = `
name: balance-and-transfer
steps:
  - tool: chain.get_balance
    args:
      address: ${ADDR}
  - tool: chain.simulate_transfer
    args:
      to: ${ADDR}
      value: 1000
      memo: "pay ${ADDR} now"
      tags: ["${TAG}", plain]
      nested:
        inner: ${TAG}
  - tool: chain.send_transfer
    args:
      to: ${ADDR}
      value: "1000"
`

func TestResolveRecursive(t *testing.T) {
	in := map[string]any{
		"a": "${X}",
		"b": []any{"x-${X}", 1, map[string]any{"c": "${Y}"}},
		"d": true,
	}
	out, err := Resolve(in, lookupFrom(map[string]string{"X": "1", "Y": "2"}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	m := out.(map[string]any)
	if m["a"] != "1" || m["d"] != true {
		t.Fatalf("unexpected top-level values %v", m)
	}
	list := m["b"].([]any)
	if list[0] != "x-1" || list[1] != 1 || list[2].(map[string]any)["c"] != "2" {
		t.Fatalf("unexpected nested values %v", list)
	}
	if out, _ := Resolve("${lower}", lookupFrom(nil)); out != "${lower}" {
		t.Fatalf("lowercase names are not variables, got %v", out)
	}
}

func TestRunResolvesAndDispatchesInOrder(t *testing.T) {
	pb, err := Parse([]byte(samplePlaybook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := &recordingDispatcher{}
	r := NewRunner(d, WithLookup(lookupFrom(map[string]string{
		"ADDR": "0x00000000000000000000000000000000000000aa",
		"TAG":  "demo",
	})))

	report, err := r.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(d.calls, ",") != "chain.get_balance,chain.simulate_transfer,chain.send_transfer" {
		t.Fatalf("unexpected call order %v", d.calls)
	}
	sim := d.args[1]
	if sim["to"] != "0x00000000000000000000000000000000000000aa" || sim["value"] != 1000 {
		t.Fatalf("unexpected args %v", sim)
	}
	if sim["memo"] != "pay 0x00000000000000000000000000000000000000aa now" {
		t.Fatalf("inline variable not substituted: %v", sim["memo"])
	}
	if sim["tags"].([]any)[0] != "demo" || sim["nested"].(map[string]any)["inner"] != "demo" {
		t.Fatalf("nested variables not substituted: %v", sim)
	}
	if d.args[2]["value"] != "1000" {
		t.Fatalf("numeric strings must be left to the handlers, got %T", d.args[2]["value"])
	}
	if len(report.Steps) != 3 || report.Name != "balance-and-transfer" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunMissingVariableFailsBeforeAnyStep(t *testing.T) {
	pb, err := Parse([]byte(samplePlaybook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := &recordingDispatcher{}
	r := NewRunner(d, WithLookup(lookupFrom(map[string]string{"ADDR": "0x00000000000000000000000000000000000000aa"})))

	_, err = r.Run(context.Background(), pb)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if !strings.Contains(err.Error(), "TAG") {
		t.Fatalf("error should name the missing variable: %v", err)
	}
	if len(d.calls) != 0 {
		t.Fatalf("no step may run when a variable is missing, ran %v", d.calls)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	pb, err := Parse([]byte(samplePlaybook))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	boom := xerrors.New(xerrors.CodeSimulationFailed, "insufficient funds")
	d := &recordingDispatcher{fail: map[string]error{"chain.simulate_transfer": boom}}
	r := NewRunner(d, WithLookup(lookupFrom(map[string]string{"ADDR": "0x00000000000000000000000000000000000000aa", "TAG": "t"})))

	report, err := r.Run(context.Background(), pb)
	if !errors.Is(err, boom) {
		t.Fatalf("expected step error, got %v", err)
	}
	if len(d.calls) != 2 {
		t.Fatalf("execution should stop after the failing step, calls=%v", d.calls)
	}
	if len(report.Steps) != 2 || report.Steps[0].Output == nil || report.Steps[1].Code != "SIMULATION_FAILED" {
		t.Fatalf("partial outputs not returned: %+v", report.Steps)
	}
}

func TestSaveWritesTimestampedFile(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	r := NewRunner(&recordingDispatcher{},
		WithRunsDir(filepath.Join(dir, "runs")),
		WithLabsDir(filepath.Join(dir, "labs")),
		WithClock(func() time.Time { return fixed }),
	)
	report, err := r.Run(context.Background(), &Playbook{Steps: nil})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	path, err := r.Save(report, "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != filepath.Join(dir, "runs", "playbook-20260304T050607.000Z.json") {
		t.Fatalf("unexpected path %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}

	labPath, err := r.Save(report, "lab1")
	if err != nil {
		t.Fatalf("Save lab: %v", err)
	}
	if filepath.Dir(labPath) != filepath.Join(dir, "labs", "lab1", "runs") {
		t.Fatalf("unexpected lab path %s", labPath)
	}

	again, err := r.Save(report, "")
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if again != filepath.Join(dir, "runs", "playbook-20260304T050607.000Z-1.json") {
		t.Fatalf("second run in the same instant must not overwrite, got %s", again)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("first report missing: %v", err)
	}
}

func TestSaveRejectsLabOutsideLabsDir(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(&recordingDispatcher{},
		WithRunsDir(filepath.Join(dir, "runs")),
		WithLabsDir(filepath.Join(dir, "labs")),
	)
	report := &Report{StartedAt: time.Now()}
	for _, lab := range []string{"..", "../..", "a/b", `a\b`, "."} {
		if _, err := r.Save(report, lab); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("lab %q: expected INVALID_ARGUMENT, got %v", lab, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("nothing should be written for rejected labs, got %v", entries)
	}
}

func TestParseRejectsStepWithoutTool(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - args: {a: 1}\n"))
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestShippedPlaybooksParse(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "configs", "playbooks", "*.yaml"))
	if err != nil || len(files) == 0 {
		t.Fatalf("expected shipped playbooks, got %v (%v)", files, err)
	}
	for _, file := range files {
		pb, err := Load(file)
		if err != nil {
			t.Fatalf("load %s: %v", file, err)
		}
		if len(pb.Steps) == 0 {
			t.Fatalf("%s has no steps", file)
		}
	}
}
