package lua

import (
	"reflect"
	"testing"

	glua "github.com/yuin/gopher-lua"
)

func TestToGoValue(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	arr := L.NewTable()
	arr.Append(glua.LString("a"))
	arr.Append(glua.LNumber(2))

	m := L.NewTable()
	m.RawSetString("ok", glua.LTrue)
	m.RawSetString("ratio", glua.LNumber(0.5))

	tests := []struct {
		name string
		in   glua.LValue
		want any
	}{
		{"nil", glua.LNil, nil},
		{"bool", glua.LFalse, false},
		{"int", glua.LNumber(42), int64(42)},
		{"float", glua.LNumber(1.5), 1.5},
		{"string", glua.LString("x"), "x"},
		{"array", arr, []any{"a", int64(2)}},
		{"map", m, map[string]any{"ok": true, "ratio": 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToGoValue(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToGoValue() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestToGoValueCycle(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	got, ok := ToGoValue(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue() = %T, want map", got)
	}
	if got["self"] != nil {
		t.Errorf("cycle not broken: %v", got["self"])
	}
}

func TestToLuaValueRoundTrip(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	in := map[string]any{
		"name":  "calc",
		"count": 3,
		"tags":  []string{"a", "b"},
	}
	got := ToGoValue(ToLuaValue(L, in))
	want := map[string]any{
		"name":  "calc",
		"count": int64(3),
		"tags":  []any{"a", "b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %#v, want %#v", got, want)
	}
}

func TestStringListAndFunctionFields(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	list := L.NewTable()
	list.Append(glua.LString("x"))
	list.Append(glua.LNumber(1))
	list.Append(glua.LString("y"))
	if got := StringList(list); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("StringList() = %v", got)
	}
	if got := StringList(glua.LString("x")); got != nil {
		t.Errorf("StringList(string) = %v, want nil", got)
	}

	cmds := L.NewTable()
	noop := L.NewFunction(func(*glua.LState) int { return 0 })
	cmds.RawSetString("time", noop)
	cmds.RawSetString("hello", noop)
	cmds.RawSetString("label", glua.LString("not a function"))
	names, fns := FunctionFields(cmds)
	if !reflect.DeepEqual(names, []string{"hello", "time"}) {
		t.Errorf("FunctionFields() names = %v", names)
	}
	if len(fns) != 2 {
		t.Errorf("FunctionFields() returned %d functions, want 2", len(fns))
	}

	if s, ok := TableString(cmds, "label"); !ok || s != "not a function" {
		t.Errorf("TableString() = %q, %v", s, ok)
	}
}
