package linkcheck

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/abi"
	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/scan"
)

// Signature is a wasm function type.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteString(")->(")
	for i, r := range s.Results {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(api.ValueTypeName(r))
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports whether both types are identical.
func (s Signature) Equal(o Signature) bool {
	return string(s.Params) == string(o.Params) && string(s.Results) == string(o.Results)
}

// Checker holds the exported functions of the native libraries.
type Checker struct {
	rt      wazero.Runtime
	log     *zap.Logger
	exports map[string]Signature
	origin  map[string]string
	libs    []string
}

// New creates a Checker backed by a wazero interpreter runtime.
func New(ctx context.Context) *Checker {
	return &Checker{
		rt:      wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter()),
		log:     Logger(),
		exports: make(map[string]Signature),
		origin:  make(map[string]string),
	}
}

// Close releases the runtime.
func (c *Checker) Close(ctx context.Context) error {
	return c.rt.Close(ctx)
}

// Libraries returns the loaded library names in load order.
func (c *Checker) Libraries() []string {
	return append([]string(nil), c.libs...)
}

// LoadFile adds the exports of the wasm module at path.
func (c *Checker) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Load(path, err)
	}
	return c.Load(ctx, path, data)
}

// Load adds the exports of a wasm module. The first library to export a
// name wins.
func (c *Checker) Load(ctx context.Context, name string, wasm []byte) error {
	compiled, err := c.rt.CompileModule(ctx, wasm)
	if err != nil {
		return errors.New(errors.PhaseLinking, errors.KindInvalidData).
			File(name).
			Detail("compile native library").
			Cause(err).
			Build()
	}
	defer compiled.Close(ctx)

	added := 0
	for export, def := range compiled.ExportedFunctions() {
		if _, dup := c.exports[export]; dup {
			c.log.Debug("symbol already exported",
				zap.String("symbol", export),
				zap.String("library", name),
				zap.String("first", c.origin[export]))
			continue
		}
		c.exports[export] = Signature{Params: def.ParamTypes(), Results: def.ResultTypes()}
		c.origin[export] = name
		added++
	}
	c.libs = append(c.libs, name)
	c.log.Debug("loaded native library", zap.String("library", name), zap.Int("exports", added))
	return nil
}

// Report is the outcome of a check.
type Report struct {
	Missing    []string // "module#symbol"
	Mismatches []*errors.Error
}

// OK reports whether every import was satisfied.
func (r Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatches) == 0
}

// Err combines the findings into one error, nil when OK.
func (r Report) Err() error {
	var errs []error
	if len(r.Missing) > 0 {
		errs = append(errs, errors.NewMissingImportsError(r.Missing))
	}
	for _, m := range r.Mismatches {
		errs = append(errs, m)
	}
	return stderrors.Join(errs...)
}

// Check compares import call sites against the loaded exports. Each
// symbol is reported at most once.
func (c *Checker) Check(sites []scan.CallSite) Report {
	var r Report
	seen := make(map[string]bool, len(sites))
	for _, s := range sites {
		if seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true

		got, ok := c.exports[s.Symbol]
		if !ok {
			r.Missing = append(r.Missing, s.NativeModule+"#"+s.Symbol)
			continue
		}
		want := WasmSignature(s.Shape)
		if !want.Equal(got) {
			e := errors.TypeMismatch(errors.PhaseLinking, s.Symbol, want.String(), got.String())
			e.File = c.origin[s.Symbol]
			r.Mismatches = append(r.Mismatches, e)
		}
	}
	return r
}

// WasmSignature maps a shape to the wasm function type a native
// implementation compiled for wasm32 exposes.
func WasmSignature(s abi.Shape) Signature {
	sig := Signature{Params: make([]api.ValueType, len(s.Params))}
	for i, p := range s.Params {
		sig.Params[i] = valueType(p)
	}
	if s.Ret != abi.Void {
		sig.Results = []api.ValueType{valueType(s.Ret)}
	}
	return sig
}

func valueType(c abi.Category) api.ValueType {
	switch {
	case c.Is64():
		return api.ValueTypeI64
	case c == abi.Float:
		return api.ValueTypeF32
	case c == abi.Double:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}
