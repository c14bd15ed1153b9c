package trampoline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/abi"
	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/icall"
	"github.com/wippyai/wasm-tuner/internal/emit"
	"github.com/wippyai/wasm-tuner/pinvoke"
	"github.com/wippyai/wasm-tuner/scan"
)

// DefaultHeader is the file name the runtime includes.
const DefaultHeader = "wasm_m2n_invoke.g.h"

// Input is the concatenated cookie stream: imports first, then internal
// calls. It can only be built by NewInput, which fixes that order.
type Input struct {
	imports pinvoke.Cookies
	icalls  icall.Cookies
}

// NewInput pairs the two cookie lists in runtime order.
func NewInput(imports pinvoke.Cookies, icalls icall.Cookies) Input {
	return Input{imports: imports, icalls: icalls}
}

// Len returns the total number of cookies.
func (in Input) Len() int {
	return len(in.imports) + len(in.icalls)
}

// Stream returns imports followed by internal calls with IDs rewritten to
// absolute positions.
func (in Input) Stream() []scan.Cookie {
	out := make([]scan.Cookie, 0, in.Len())
	for _, c := range in.imports {
		out = append(out, scan.Cookie{ID: len(out), Site: c.Site})
	}
	for _, c := range in.icalls {
		out = append(out, scan.Cookie{ID: len(out), Site: c.Site})
	}
	return out
}

// Result summarizes a generation run.
type Result struct {
	Cookies     int
	Trampolines int
}

type argView struct {
	CType string
	Expr  string
}

type trampolineView struct {
	Key      string
	Name     string
	RetCType string
	Void     bool
	Args     []argView
}

type cookieView struct {
	Comment string
	ID      int
	Index   int
}

type fileView struct {
	Header      string
	Trampolines []trampolineView
	Cookies     []cookieView
}

var fileTemplate = template.Must(template.New("m2n").Parse(`{{.Header}}

{{range .Trampolines -}}
static void
{{.Name}} (void *target_func, InterpMethodArguments *margs)
{
	typedef {{.RetCType}} (*T)({{range $i, $a := .Args}}{{if $i}}, {{end}}{{$a.CType}} arg_{{$i}}{{end}});
	T func = (T)target_func;
	{{if not .Void}}{{.RetCType}} res = {{end}}func ({{range $i, $a := .Args}}{{if $i}}, {{end}}{{$a.Expr}}{{end}});
{{- if not .Void}}
	*({{.RetCType}}*)margs->retval = res;
{{- end}}
}

{{end -}}
static const char* interp_to_native_signatures [] = {
{{range .Trampolines}}"{{.Key}}",
{{end -}}
};
static void* interp_to_native_invokes [] = {
{{range .Trampolines}}{{.Name}},
{{end -}}
};
static const int interp_to_native_cookie_invokes [] = {
{{range .Cookies}}{{.Index}}, // cookie {{.ID}}: {{.Comment}}
{{end -}}
};
`))

// GenerateFile writes the trampoline header to path.
func GenerateFile(in Input, path string) (Result, error) {
	var res Result
	err := emit.File(path, func(w io.Writer) error {
		var err error
		res, err = Generate(in, w)
		return err
	})
	return res, err
}

// Generate emits one trampoline per distinct shape in the stream, sorted by
// shape key, and the cookie to trampoline index table.
func Generate(in Input, w io.Writer) (Result, error) {
	stream := in.Stream()

	shapes := make(map[string]abi.Shape)
	for _, c := range stream {
		shapes[c.Site.Shape.Key()] = c.Site.Shape
	}
	keys := make([]string, 0, len(shapes))
	for k := range shapes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	view := fileView{Header: emit.Header}
	index := make(map[string]int, len(keys))
	for i, k := range keys {
		index[k] = i
		view.Trampolines = append(view.Trampolines, newTrampolineView(shapes[k]))
	}
	for _, c := range stream {
		view.Cookies = append(view.Cookies, cookieView{
			ID:      c.ID,
			Index:   index[c.Site.Shape.Key()],
			Comment: c.Site.Symbol + " " + c.Site.Shape.Key(),
		})
	}

	if err := fileTemplate.Execute(w, view); err != nil {
		return Result{}, errors.Wrap(errors.PhaseEmit, errors.KindIO, err, "render trampolines")
	}
	Logger().Debug("generated trampolines", zap.Int("trampolines", len(keys)), zap.Int("cookies", len(stream)))
	return Result{Cookies: len(stream), Trampolines: len(keys)}, nil
}

// FuncName returns the C function name of the trampoline for shape.
func FuncName(s abi.Shape) string {
	return "wasm_invoke_" + strings.ToLower(s.Key())
}

func newTrampolineView(s abi.Shape) trampolineView {
	v := trampolineView{
		Key:      s.Key(),
		Name:     FuncName(s),
		RetCType: s.Ret.CType(),
		Void:     s.Ret == abi.Void,
	}
	var iarg, farg int
	for _, p := range s.Params {
		a := argView{CType: p.CType()}
		switch {
		case p.Is64():
			a.Expr = fmt.Sprintf("(%s)get_long_arg (margs, %d)", p.CType(), iarg)
			iarg += 2
		case p.IsFloat():
			if p == abi.Float {
				a.Expr = fmt.Sprintf("*(float*)&margs->fargs [FIDX (%d)]", farg)
			} else {
				a.Expr = fmt.Sprintf("margs->fargs [FIDX (%d)]", farg)
			}
			farg++
		default:
			a.Expr = fmt.Sprintf("(int)(gssize)margs->iargs [%d]", iarg)
			iarg++
		}
		v.Args = append(v.Args, a)
	}
	return v
}
