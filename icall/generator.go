package icall

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/internal/emit"
	"github.com/wippyai/wasm-tuner/metadata"
	"github.com/wippyai/wasm-tuner/scan"
)

// Cookies is the ordered cookie list of the internal call table. Its IDs
// start at 0 in first-seen scan order.
type Cookies []scan.Cookie

// Generator produces the linked internal call table.
type Generator struct {
	log *zap.Logger
}

// NewGenerator creates a Generator using the package logger.
func NewGenerator() *Generator {
	return &Generator{log: Logger()}
}

// GenerateFile writes the table to path.
func (g *Generator) GenerateFile(modules []*metadata.Image, index *Index, path string) (Cookies, error) {
	var cookies Cookies
	err := emit.File(path, func(w io.Writer) error {
		var err error
		cookies, err = g.Generate(modules, index, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// Generate scans modules for internal calls present in index and writes
// the table to w.
func (g *Generator) Generate(modules []*metadata.Image, index *Index, w io.Writer) (Cookies, error) {
	if !Supported {
		return nil, errors.Unsupported(errors.PhaseGenerate, "internal call table generation is not available in this build")
	}
	if index == nil {
		return nil, errors.New(errors.PhaseGenerate, errors.KindInvalidInput).Detail("no icall index").Build()
	}

	sites, err := scan.New().InternalCalls(modules, index)
	if err != nil {
		return nil, err
	}
	g.log.Debug("internal calls matched", zap.Int("count", len(sites)), zap.Int("index", index.Len()))

	bw := bufio.NewWriter(w)
	writeTable(bw, sites)
	if err := bw.Flush(); err != nil {
		return nil, errors.Wrap(errors.PhaseEmit, errors.KindIO, err, "write icall table")
	}
	return Cookies(scan.NewCookies(sites)), nil
}

type group struct {
	name  string
	sites []scan.CallSite
}

// groupByAssembly keeps assemblies in first-seen order and sorts each
// group by token.
func groupByAssembly(sites []scan.CallSite) []*group {
	var groups []*group
	byName := make(map[string]*group)
	for _, s := range sites {
		name := TableName(s.Assembly)
		gr, ok := byName[name]
		if !ok {
			gr = &group{name: name}
			byName[name] = gr
			groups = append(groups, gr)
		}
		gr.sites = append(gr.sites, s)
	}
	for _, gr := range groups {
		sort.SliceStable(gr.sites, func(i, j int) bool {
			return gr.sites[i].Token < gr.sites[j].Token
		})
	}
	return groups
}

// TableName returns the C identifier prefix for an assembly's table.
func TableName(assembly string) string {
	if assembly == "System.Private.CoreLib" {
		return "corlib"
	}
	return strings.ReplaceAll(assembly, ".", "_")
}

func writeTable(w *bufio.Writer, sites []scan.CallSite) {
	for _, gr := range groupByAssembly(sites) {
		fmt.Fprintf(w, "#define ICALL_TABLE_%s 1\n\n", gr.name)

		fmt.Fprintf(w, "static int %s_icall_indexes [] = {\n", gr.name)
		for _, s := range gr.sites {
			fmt.Fprintf(w, "%d,\n", s.Token)
		}
		w.WriteString("};\n")

		declared := make(map[string]bool, len(gr.sites))
		for _, s := range gr.sites {
			if declared[s.Symbol] {
				continue
			}
			declared[s.Symbol] = true
			w.WriteString(s.Shape.Decl(s.Symbol))
			w.WriteByte('\n')
		}

		fmt.Fprintf(w, "static void *%s_icall_funcs [] = {\n", gr.name)
		for _, s := range gr.sites {
			fmt.Fprintf(w, "// token %d,\n", s.Token)
			fmt.Fprintf(w, "%s,\n", s.Symbol)
		}
		w.WriteString("};\n")

		fmt.Fprintf(w, "static uint8_t %s_icall_handles [] = {\n", gr.name)
		for _, s := range gr.sites {
			if s.Handles {
				w.WriteString("1,\n")
			} else {
				w.WriteString("0,\n")
			}
		}
		w.WriteString("};\n")
	}
}
