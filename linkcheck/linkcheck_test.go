package linkcheck

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-tuner/abi"
	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/scan"
)

type testFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

func uleb(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func section(id byte, body []byte) []byte {
	return append(append([]byte{id}, uleb(len(body))...), body...)
}

// buildWasm assembles a module exporting one function per entry. Bodies
// are a single unreachable so any signature validates.
func buildWasm(funcs []testFunc) []byte {
	types := uleb(len(funcs))
	fns := uleb(len(funcs))
	exports := uleb(len(funcs))
	code := uleb(len(funcs))
	for i, f := range funcs {
		types = append(types, 0x60)
		types = append(types, uleb(len(f.params))...)
		types = append(types, f.params...)
		types = append(types, uleb(len(f.results))...)
		types = append(types, f.results...)

		fns = append(fns, uleb(i)...)

		exports = append(exports, uleb(len(f.name))...)
		exports = append(exports, f.name...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb(i)...)

		code = append(code, 0x03, 0x00, 0x00, 0x0b) // size, no locals, unreachable, end
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(3, fns)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	return out
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f32 = api.ValueTypeF32
	f64 = api.ValueTypeF64
)

func newChecker(t *testing.T) *Checker {
	t.Helper()
	ctx := context.Background()
	c := New(ctx)
	t.Cleanup(func() { _ = c.Close(ctx) })

	native := buildWasm([]testFunc{
		{"SystemNative_Write", []api.ValueType{i32, i32}, []api.ValueType{i32}},
		{"SystemNative_GetTimestamp", nil, []api.ValueType{i64}},
		{"sk_canvas_draw", []api.ValueType{f32}, nil},
	})
	if err := c.Load(ctx, "libSystem.Native.wasm", native); err != nil {
		t.Fatalf("Load: %v", err)
	}
	extra := buildWasm([]testFunc{
		{"SystemNative_Write", []api.ValueType{f64}, nil},
		{"pow", []api.ValueType{f64, f64}, []api.ValueType{f64}},
	})
	if err := c.Load(ctx, "libm.wasm", extra); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func site(module, symbol string, ret abi.Category, params ...abi.Category) scan.CallSite {
	return scan.CallSite{NativeModule: module, Symbol: symbol, Shape: abi.NewShape(ret, params...)}
}

func TestCheck_AllSatisfied(t *testing.T) {
	c := newChecker(t)
	r := c.Check([]scan.CallSite{
		site("libSystem.Native", "SystemNative_Write", abi.Int, abi.Int, abi.Int),
		site("libSystem.Native", "SystemNative_GetTimestamp", abi.UInt64),
		site("libSkiaSharp", "sk_canvas_draw", abi.Void, abi.Float),
		site("libm", "pow", abi.Double, abi.Double, abi.Double),
	})
	if !r.OK() {
		t.Fatalf("unexpected findings: %v", r.Err())
	}
	if r.Err() != nil {
		t.Error("Err() must be nil when OK")
	}
	if got := strings.Join(c.Libraries(), ","); got != "libSystem.Native.wasm,libm.wasm" {
		t.Errorf("Libraries() = %s", got)
	}
}

func TestCheck_Missing(t *testing.T) {
	c := newChecker(t)
	r := c.Check([]scan.CallSite{
		site("libSystem.Native", "SystemNative_Open", abi.Int, abi.Int),
		site("libSystem.Native", "SystemNative_Open", abi.Int, abi.Int),
		site("libz", "deflate", abi.Int, abi.Int, abi.Int),
	})
	if len(r.Missing) != 2 {
		t.Fatalf("Missing = %v", r.Missing)
	}

	err := r.Err()
	var mie *errors.MissingImportsError
	if !stderrors.As(err, &mie) {
		t.Fatalf("expected MissingImportsError, got %v", err)
	}
	if mie.Imports[0].Module != "libSystem.Native" || mie.Imports[0].Symbol != "SystemNative_Open" {
		t.Errorf("first missing = %+v", mie.Imports[0])
	}
	if !strings.Contains(err.Error(), "libz:") {
		t.Errorf("error does not group by module: %v", err)
	}
}

func TestCheck_Mismatch(t *testing.T) {
	c := newChecker(t)
	r := c.Check([]scan.CallSite{
		site("libSystem.Native", "SystemNative_Write", abi.Int64, abi.Int, abi.Int),
	})
	if len(r.Mismatches) != 1 {
		t.Fatalf("Mismatches = %v", r.Mismatches)
	}
	m := r.Mismatches[0]
	if m.Kind != errors.KindTypeMismatch || m.Symbol != "SystemNative_Write" {
		t.Errorf("mismatch = %v", m)
	}
	// The first library exporting a name wins.
	if m.File != "libSystem.Native.wasm" {
		t.Errorf("mismatch attributed to %q", m.File)
	}
	if !strings.Contains(m.Error(), "expected (i32,i32)->(i64), found (i32,i32)->(i32)") {
		t.Errorf("message = %s", m.Error())
	}
	if !stderrors.Is(r.Err(), &errors.Error{Phase: errors.PhaseLinking, Kind: errors.KindTypeMismatch}) {
		t.Error("Err() does not carry the mismatch")
	}
}

func TestLoad_Invalid(t *testing.T) {
	ctx := context.Background()
	c := New(ctx)
	defer c.Close(ctx)

	err := c.Load(ctx, "bad.wasm", []byte("not wasm"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLinking, Kind: errors.KindInvalidData}) {
		t.Errorf("expected linking/invalid_data, got %v", err)
	}
	if err := c.LoadFile(ctx, filepath.Join(t.TempDir(), "missing.wasm")); !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestWasmSignature(t *testing.T) {
	tests := []struct {
		shape abi.Shape
		want  string
	}{
		{abi.NewShape(abi.Void), "()->()"},
		{abi.NewShape(abi.Int, abi.Int, abi.Int), "(i32,i32)->(i32)"},
		{abi.NewShape(abi.UInt64, abi.Int64, abi.Float, abi.Double), "(i64,f32,f64)->(i64)"},
	}
	for _, tt := range tests {
		if got := WasmSignature(tt.shape).String(); got != tt.want {
			t.Errorf("WasmSignature(%s) = %s, want %s", tt.shape.Key(), got, tt.want)
		}
	}
}
