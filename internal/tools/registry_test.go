package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/records"
)

type echoArgs struct {
	Value *uint256.Int
}

func echoTool(calls *int) Handler {
	return Typed(func(a Args) (echoArgs, error) {
		v, err := a.Amount("value", "value_wei")
		if err != nil {
			return echoArgs{}, err
		}
		return echoArgs{Value: v}, nil
	}, func(_ context.Context, in echoArgs) (any, error) {
		*calls++
		return map[string]string{"value": in.Value.Dec()}, nil
	})
}

func TestDispatchUnknownToolHasNoSideEffects(t *testing.T) {
	store := records.NewMemoryStore()
	calls := 0
	r := NewRegistry(WithRecorder(store))
	r.Register("test.echo", echoTool(&calls))

	_, err := r.Dispatch(context.Background(), "test.missing", map[string]any{"value": 1})
	if xerrors.CodeOf(err) != xerrors.CodeUnknownTool {
		t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
	}
	if calls != 0 {
		t.Fatal("handler must not run for unknown tool")
	}
	recorded, _ := store.ListLatest(context.Background(), 0)
	if len(recorded) != 0 {
		t.Fatalf("unknown tool must not be recorded, got %d records", len(recorded))
	}
}

func TestDispatchRecordsCalls(t *testing.T) {
	store := records.NewMemoryStore()
	calls := 0
	r := NewRegistry(WithRecorder(store), WithObserver(MetricsObserver{}))
	r.Register("test.echo", echoTool(&calls), WithDescription("echo"))

	out, err := r.Dispatch(context.Background(), "test.echo", map[string]any{"value": "0x10", "private_key": "secret"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.(map[string]string)["value"] != "16" {
		t.Fatalf("unexpected output %+v", out)
	}

	_, err = r.Dispatch(context.Background(), "test.echo", map[string]any{"value": -1})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler should only run for valid args, ran %d times", calls)
	}

	recorded, _ := store.ListLatest(context.Background(), 0)
	if len(recorded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recorded))
	}
	if recorded[0].ErrorCode != string(xerrors.CodeInvalidArgument) {
		t.Fatalf("unexpected failure record %+v", recorded[0])
	}
	var args map[string]any
	if err := json.Unmarshal(recorded[1].Args, &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args["private_key"] != "[REDACTED]" {
		t.Fatalf("private key not redacted in record: %v", args)
	}
	if string(recorded[1].Output) != `{"value":"16"}` {
		t.Fatalf("unexpected recorded output %s", recorded[1].Output)
	}
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("test.echo", echoTool(&calls))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("test.echo", echoTool(&calls))
}

func TestRegisterPanicsOnEmptyName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on empty name")
		}
	}()
	NewRegistry().Register("", HandlerFunc(func(context.Context, Args) (any, error) { return nil, nil }))
}

func TestAliasSharesHandler(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("chain.echo", echoTool(&calls), WithDescription("echo"))
	r.Alias("evm.echo", "chain.echo")

	if _, err := r.Dispatch(context.Background(), "evm.echo", map[string]any{"value_wei": 5}); err != nil {
		t.Fatalf("Dispatch alias: %v", err)
	}
	if calls != 1 {
		t.Fatal("alias did not reach the target handler")
	}
	desc, ok := r.Describe("evm.echo")
	if !ok || desc.AliasOf != "chain.echo" || desc.Description != "echo" {
		t.Fatalf("unexpected alias descriptor %+v", desc)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "chain.echo" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	sentinel := errors.New("boom")
	r := NewRegistry()
	r.Register("test.fail", HandlerFunc(func(context.Context, Args) (any, error) { return "ignored", sentinel }))

	out, err := r.Dispatch(context.Background(), "test.fail", nil)
	if !errors.Is(err, sentinel) || out != nil {
		t.Fatalf("unexpected result %v %v", out, err)
	}
}
