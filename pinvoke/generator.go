package pinvoke

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/abi"
	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/internal/emit"
	"github.com/wippyai/wasm-tuner/metadata"
	"github.com/wippyai/wasm-tuner/scan"
)

// Cookies is the ordered cookie list of the import table. Its IDs start at
// 0 in first-seen scan order and cover accepted call sites only.
type Cookies []scan.Cookie

// Generator produces the P/Invoke import table.
type Generator struct {
	log    *zap.Logger
	Policy Policy
}

// NewGenerator creates a Generator for the given allow-list.
func NewGenerator(policy Policy) *Generator {
	return &Generator{Policy: policy, log: Logger()}
}

// GenerateFile writes the table to path.
func (g *Generator) GenerateFile(modules []*metadata.Image, path string) (Cookies, error) {
	var cookies Cookies
	err := emit.File(path, func(w io.Writer) error {
		var err error
		cookies, err = g.Generate(modules, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// Generate scans modules for imports from allowed native modules and
// writes the table to w.
func (g *Generator) Generate(modules []*metadata.Image, w io.Writer) (Cookies, error) {
	sites, err := scan.New().Imports(modules)
	if err != nil {
		return nil, err
	}

	accepted := make([]scan.CallSite, 0, len(sites))
	for _, s := range sites {
		if !g.Policy.Allows(s.NativeModule) {
			g.log.Debug("import not in allow-list",
				zap.String("module", s.NativeModule),
				zap.String("symbol", s.Symbol),
				zap.String("method", s.Name()))
			continue
		}
		accepted = append(accepted, s)
	}
	cookies := Cookies(scan.NewCookies(accepted))
	g.log.Debug("imports accepted", zap.Int("accepted", len(accepted)), zap.Int("scanned", len(sites)))

	bw := bufio.NewWriter(w)
	g.writeTable(bw, cookies)
	if err := bw.Flush(); err != nil {
		return nil, errors.Wrap(errors.PhaseEmit, errors.KindIO, err, "write pinvoke table")
	}
	return cookies, nil
}

// ModuleID returns the C identifier for a native module name.
func ModuleID(module string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(module)
}

// entry is one PinvokeImport row: a symbol and the cookies bound to it.
type entry struct {
	symbol     string
	cookies    []int
	assemblies []string
}

func (g *Generator) writeTable(w *bufio.Writer, cookies Cookies) {
	w.WriteString(emit.Header)
	w.WriteString("\n\n")

	declared := make(map[string]abi.Shape)
	for _, c := range cookies {
		s := c.Site
		prev, ok := declared[s.Symbol]
		if ok {
			if !prev.Equal(s.Shape) {
				g.log.Warn("conflicting declarations for native symbol, keeping the first",
					zap.String("symbol", s.Symbol),
					zap.String("first", prev.Decl(s.Symbol)),
					zap.String("other", s.Shape.Decl(s.Symbol)),
					zap.String("method", s.Name()))
			}
			continue
		}
		declared[s.Symbol] = s.Shape
		w.WriteString(s.Shape.Decl(s.Symbol))
		w.WriteByte('\n')
	}

	modules := g.Policy.Modules()
	for _, mod := range modules {
		fmt.Fprintf(w, "static PinvokeImport %s_imports [] = {\n", ModuleID(mod))
		for _, e := range moduleEntries(cookies, mod) {
			ids := make([]string, len(e.cookies))
			for i, id := range e.cookies {
				ids[i] = strconv.Itoa(id)
			}
			fmt.Fprintf(w, "{\"%s\", %s}, // cookie %s: %s\n",
				e.symbol, e.symbol, strings.Join(ids, ", "), strings.Join(e.assemblies, ", "))
		}
		w.WriteString("{NULL, NULL}\n};\n")
	}

	w.WriteString("static void *pinvoke_tables[] = { ")
	for _, mod := range modules {
		fmt.Fprintf(w, "%s_imports,", ModuleID(mod))
	}
	w.WriteString("};\n")

	w.WriteString("static char *pinvoke_names[] = { ")
	for _, mod := range modules {
		fmt.Fprintf(w, "\"%s\",", mod)
	}
	w.WriteString("};\n")
}

// moduleEntries collects the rows of one module's table, one per distinct
// symbol, sorted by symbol.
func moduleEntries(cookies Cookies, module string) []*entry {
	bySymbol := make(map[string]*entry)
	var entries []*entry
	for _, c := range cookies {
		if c.Site.NativeModule != module {
			continue
		}
		e, ok := bySymbol[c.Site.Symbol]
		if !ok {
			e = &entry{symbol: c.Site.Symbol}
			bySymbol[c.Site.Symbol] = e
			entries = append(entries, e)
		}
		e.cookies = append(e.cookies, c.ID)
		if !slices.Contains(e.assemblies, c.Site.Assembly) {
			e.assemblies = append(e.assemblies, c.Site.Assembly)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].symbol < entries[j].symbol
	})
	return entries
}
