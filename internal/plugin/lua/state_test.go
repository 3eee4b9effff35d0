package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeUnit(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unit.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestNewState(t *testing.T) {
	state := NewState()
	defer state.Close()

	if state.IsClosed() {
		t.Error("NewState() returned closed state")
	}
	if state.Sandbox() == nil {
		t.Error("NewState() Sandbox() is nil")
	}
}

func TestStateExecReturnsValues(t *testing.T) {
	state := NewState()
	defer state.Close()

	path := writeUnit(t, `return 1, "two", {three = 3}`)
	results, err := state.Exec(context.Background(), path)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Exec() returned %d values, want 3", len(results))
	}
	if results[1].String() != "two" {
		t.Errorf("results[1] = %v, want two", results[1])
	}
	if _, ok := results[2].(*glua.LTable); !ok {
		t.Errorf("results[2] = %T, want table", results[2])
	}
}

func TestStateExecSyntaxError(t *testing.T) {
	state := NewState()
	defer state.Close()

	path := writeUnit(t, `return {`)
	_, err := state.Exec(context.Background(), path)
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("Exec() error = %v, want *SyntaxError", err)
	}
}

func TestStateExecRuntimeError(t *testing.T) {
	state := NewState()
	defer state.Close()

	path := writeUnit(t, `error("boom")`)
	if _, err := state.Exec(context.Background(), path); err == nil {
		t.Fatal("Exec() should fail when the chunk raises")
	}
}

func TestStateCallMethod(t *testing.T) {
	state := NewState()
	defer state.Close()

	path := writeUnit(t, `
local Base = {}
function Base:greet(name) return "hello " .. name .. " from " .. self.id end
local obj = setmetatable({id = "obj"}, {__index = Base})
return obj
`)
	results, err := state.Exec(context.Background(), path)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	obj := results[0].(*glua.LTable)

	out, err := state.CallMethod(context.Background(), obj, "greet", glua.LString("bob"))
	if err != nil {
		t.Fatalf("CallMethod() error = %v", err)
	}
	if len(out) != 1 || out[0].String() != "hello bob from obj" {
		t.Errorf("CallMethod() = %v", out)
	}

	if _, err := state.CallMethod(context.Background(), obj, "missing"); !errors.Is(err, ErrNotFunction) {
		t.Errorf("CallMethod(missing) error = %v, want ErrNotFunction", err)
	}
}

func TestStateCallFunctionNoResults(t *testing.T) {
	state := NewState()
	defer state.Close()

	path := writeUnit(t, `return function() end`)
	results, err := state.Exec(context.Background(), path)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	out, err := state.CallFunction(context.Background(), results[0])
	if err != nil {
		t.Fatalf("CallFunction() error = %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("CallFunction() = %v, want empty slice", out)
	}

	if _, err := state.CallFunction(context.Background(), glua.LString("x")); !errors.Is(err, ErrNotFunction) {
		t.Errorf("CallFunction(string) error = %v, want ErrNotFunction", err)
	}
}

func TestStateContextTimeout(t *testing.T) {
	state := NewState()
	defer state.Close()

	path := writeUnit(t, `return function() while true do end end`)
	results, err := state.Exec(context.Background(), path)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = state.CallFunction(ctx, results[0])
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("CallFunction() error = %v, want deadline exceeded", err)
	}
}

func TestStateCancelledContext(t *testing.T) {
	state := NewState()
	defer state.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := state.Exec(ctx, writeUnit(t, `return 1`)); !errors.Is(err, context.Canceled) {
		t.Errorf("Exec() error = %v, want context.Canceled", err)
	}
}

func TestStatePrintGoesToLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	state := NewState(WithLogger(zap.New(core)))
	defer state.Close()

	if _, err := state.Exec(context.Background(), writeUnit(t, `print("hello", 42)`)); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Message != "hello\t42" {
		t.Errorf("logged %v, want one entry \"hello\\t42\"", entries)
	}
}

func TestStateClose(t *testing.T) {
	state := NewState()
	state.Close()
	state.Close()

	if !state.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}
	if _, err := state.Exec(context.Background(), "x.lua"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Exec() after Close() error = %v, want ErrStateClosed", err)
	}
}

func TestStateGlobalNames(t *testing.T) {
	state := NewState()
	defer state.Close()

	before := state.GlobalNames()
	if !before["string"] || !before["print"] {
		t.Errorf("GlobalNames() missing base names: %v", before)
	}
	if before["io"] || before["os"] || before["debug"] {
		t.Errorf("GlobalNames() exposes closed libraries: %v", before)
	}

	if _, err := state.Exec(context.Background(), writeUnit(t, `Exported = {}`)); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !state.GlobalNames()["Exported"] {
		t.Error("GlobalNames() does not include new global")
	}
}
