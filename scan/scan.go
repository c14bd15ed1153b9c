package scan

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/abi"
	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/metadata"
)

// Mode selects which call sites a scan extracts.
type Mode int

const (
	ModeImport Mode = iota
	ModeInternalCall
)

func (m Mode) String() string {
	if m == ModeInternalCall {
		return "icall"
	}
	return "pinvoke"
}

// CallSite is one discovered native interop point.
type CallSite struct {
	Module       string // path of the managed module
	Assembly     string
	Type         string // "Namespace.Type", nested types as "Outer/Inner"
	Method       string
	NativeModule string // declared native library, imports only
	Symbol       string // C symbol the call binds to
	Shape        abi.Shape
	Token        uint32 // MethodDef row, internal calls only
	Handles      bool   // internal call takes a trailing handle argument
}

// Name returns "Type::Method".
func (c CallSite) Name() string {
	return c.Type + "::" + c.Method
}

// Cookie is a call site's position within its generated table.
type Cookie struct {
	Site CallSite
	ID   int
}

// NewCookies numbers sites from 0 in the order given.
func NewCookies(sites []CallSite) []Cookie {
	out := make([]Cookie, len(sites))
	for i, s := range sites {
		out[i] = Cookie{ID: i, Site: s}
	}
	return out
}

// Entry is an internal call index hit.
type Entry struct {
	Func    string
	Handles bool
}

// Resolver looks up internal calls by declaring type and method key. The
// key is the bare method name or its overload form "Method(int,string)".
type Resolver interface {
	Resolve(typeName, method string) (Entry, bool)
}

// Scanner walks modules and collects call sites.
type Scanner struct {
	log *zap.Logger
}

// New creates a Scanner using the package logger.
func New() *Scanner {
	return &Scanner{log: Logger()}
}

// Scan extracts call sites in the given mode. index is required for
// ModeInternalCall and ignored otherwise.
func (s *Scanner) Scan(mode Mode, modules []*metadata.Image, index Resolver) ([]CallSite, error) {
	if mode == ModeInternalCall {
		return s.InternalCalls(modules, index)
	}
	return s.Imports(modules)
}

// Imports returns every P/Invoke method with an import mapping.
func (s *Scanner) Imports(modules []*metadata.Image) ([]CallSite, error) {
	var sites []CallSite
	err := s.walk(modules, func(img *metadata.Image, asm string, m *metadata.Method) {
		if !m.IsPInvoke() || m.PInvoke == nil {
			return
		}
		sym := m.PInvoke.EntryPoint
		if sym == "" {
			sym = m.Name
		}
		sites = append(sites, CallSite{
			Module:       img.Path(),
			Assembly:     asm,
			Type:         m.Type.FullName(),
			Method:       m.Name,
			NativeModule: m.PInvoke.Module,
			Symbol:       sym,
			Shape:        ShapeOf(m.Sig),
		})
	})
	return sites, err
}

// InternalCalls returns every internal call present in index. Methods the
// index does not know are unreachable from the runtime build and dropped.
func (s *Scanner) InternalCalls(modules []*metadata.Image, index Resolver) ([]CallSite, error) {
	if index == nil {
		return nil, errors.New(errors.PhaseScan, errors.KindInvalidInput).
			Detail("internal call scan requires an index").
			Build()
	}
	var sites []CallSite
	err := s.walk(modules, func(img *metadata.Image, asm string, m *metadata.Method) {
		if !m.IsInternalCall() {
			return
		}
		typeName := m.Type.FullName()
		e, ok := index.Resolve(typeName, m.Name)
		if !ok {
			overload := OverloadName(m.Name, m.Sig)
			if e, ok = index.Resolve(typeName, overload); !ok {
				s.log.Debug("internal call not in index",
					zap.String("type", typeName),
					zap.String("method", m.Name),
					zap.String("overload", overload))
				return
			}
		}

		shape := ShapeOf(m.Sig)
		if !m.IsStatic() {
			shape = shape.WithLeading(abi.Int)
		}
		if e.Handles {
			shape = shape.WithTrailing(abi.Int)
		}
		sites = append(sites, CallSite{
			Module:   img.Path(),
			Assembly: asm,
			Type:     typeName,
			Method:   m.Name,
			Symbol:   e.Func,
			Shape:    shape,
			Token:    m.Token & 0x00FFFFFF,
			Handles:  e.Handles,
		})
	})
	return sites, err
}

func (s *Scanner) walk(modules []*metadata.Image, visit func(*metadata.Image, string, *metadata.Method)) error {
	for _, img := range modules {
		asm, err := img.AssemblyName()
		if err != nil {
			return scanError(img, err)
		}
		methods, err := img.Methods()
		if err != nil {
			return scanError(img, err)
		}
		s.log.Debug("scanning module", zap.String("module", img.Path()), zap.Int("methods", len(methods)))
		for _, m := range methods {
			visit(img, asm, m)
		}
	}
	return nil
}

func scanError(img *metadata.Image, err error) error {
	return errors.New(errors.PhaseParse, errors.KindInvalidData).
		File(img.Path()).
		Cause(err).
		Build()
}

// ShapeOf classifies a method signature. The implicit this argument is not
// included.
func ShapeOf(sig *metadata.MethodSig) abi.Shape {
	params := make([]abi.Category, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = abi.Classify(p.Name())
	}
	return abi.Shape{Ret: abi.Classify(sig.Ret.Name()), Params: params}
}
