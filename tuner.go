package wasmtuner

import (
	"context"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/config"
	"github.com/wippyai/wasm-tuner/emptymod"
	"github.com/wippyai/wasm-tuner/icall"
	"github.com/wippyai/wasm-tuner/linkcheck"
	"github.com/wippyai/wasm-tuner/metadata"
	"github.com/wippyai/wasm-tuner/pinvoke"
	"github.com/wippyai/wasm-tuner/scan"
	"github.com/wippyai/wasm-tuner/trampoline"
)

// Tuner runs the generation pipelines with one set of settings.
type Tuner struct {
	log *zap.Logger
	cfg config.Config
}

// New creates a Tuner using the package logger.
func New(cfg config.Config) *Tuner {
	return &Tuner{log: Logger(), cfg: cfg}
}

// Config returns the settings the Tuner was built with.
func (t *Tuner) Config() config.Config {
	return t.cfg
}

// LoadModules parses every assembly in order. The first unreadable or
// malformed file aborts the load.
func LoadModules(paths []string) ([]*metadata.Image, error) {
	modules := make([]*metadata.Image, 0, len(paths))
	for _, p := range paths {
		img, err := metadata.Open(p)
		if err != nil {
			return nil, err
		}
		modules = append(modules, img)
	}
	return modules, nil
}

// GenIcallTable writes the internal call table for assemblies to output.
func (t *Tuner) GenIcallTable(output, indexPath string, assemblies []string) (icall.Cookies, error) {
	modules, err := LoadModules(assemblies)
	if err != nil {
		return nil, err
	}
	index, err := icall.LoadIndex(indexPath)
	if err != nil {
		return nil, err
	}
	cookies, err := icall.NewGenerator().GenerateFile(modules, index, output)
	if err != nil {
		return nil, err
	}
	t.log.Info("wrote icall table", zap.String("path", output), zap.Int("icalls", len(cookies)))
	return cookies, nil
}

// PinvokeRequest describes one import table run.
type PinvokeRequest struct {
	Output     string
	Modules    []string // native modules that may be linked statically
	IcallIndex string
	Assemblies []string

	// IcallOutput receives the internal call table when set. The table is
	// always generated since its cookies feed the trampolines.
	IcallOutput string

	NativeLibs []string // wasm libraries to verify imports against
	StrictLink bool     // fail on link check findings instead of warning
}

// PinvokeResult summarizes an import table run.
type PinvokeResult struct {
	Imports     pinvoke.Cookies
	Icalls      icall.Cookies
	Header      string // path of the trampoline header
	Trampolines trampoline.Result
	Link        *linkcheck.Report // nil when no native library was given
}

// GenPinvokeTable writes the import table, the trampoline header next to
// it, and optionally the internal call table. Native libraries from the
// request and the settings are then checked against the accepted imports.
func (t *Tuner) GenPinvokeTable(ctx context.Context, req PinvokeRequest) (*PinvokeResult, error) {
	modules, err := LoadModules(req.Assemblies)
	if err != nil {
		return nil, err
	}
	index, err := icall.LoadIndex(req.IcallIndex)
	if err != nil {
		return nil, err
	}

	policy := pinvoke.NewPolicy(req.Modules...).With(t.cfg.Pinvoke.Modules...)
	res := &PinvokeResult{}
	res.Imports, err = pinvoke.NewGenerator(policy).GenerateFile(modules, req.Output)
	if err != nil {
		return nil, err
	}
	t.log.Info("wrote pinvoke table",
		zap.String("path", req.Output),
		zap.Int("imports", len(res.Imports)),
		zap.Strings("modules", policy.Modules()))

	gen := icall.NewGenerator()
	if req.IcallOutput != "" {
		res.Icalls, err = gen.GenerateFile(modules, index, req.IcallOutput)
	} else {
		res.Icalls, err = gen.Generate(modules, index, io.Discard)
	}
	if err != nil {
		return nil, err
	}

	res.Header = filepath.Join(filepath.Dir(req.Output), t.cfg.Pinvoke.TrampolineHeader)
	res.Trampolines, err = trampoline.GenerateFile(trampoline.NewInput(res.Imports, res.Icalls), res.Header)
	if err != nil {
		return nil, err
	}
	t.log.Info("wrote trampolines",
		zap.String("path", res.Header),
		zap.Int("cookies", res.Trampolines.Cookies),
		zap.Int("trampolines", res.Trampolines.Trampolines))

	libs := append(append([]string(nil), t.cfg.Linkcheck.Libraries...), req.NativeLibs...)
	if len(libs) == 0 {
		return res, nil
	}
	report, err := t.checkLinks(ctx, libs, res.Imports)
	if err != nil {
		return nil, err
	}
	res.Link = &report
	if !report.OK() {
		if req.StrictLink || t.cfg.Linkcheck.Strict {
			return res, report.Err()
		}
		t.log.Warn("native libraries do not satisfy the import table",
			zap.Int("missing", len(report.Missing)),
			zap.Int("mismatched", len(report.Mismatches)),
			zap.Error(report.Err()))
	}
	return res, nil
}

func (t *Tuner) checkLinks(ctx context.Context, libs []string, imports pinvoke.Cookies) (linkcheck.Report, error) {
	checker := linkcheck.New(ctx)
	defer checker.Close(ctx)

	for _, lib := range libs {
		if err := checker.LoadFile(ctx, lib); err != nil {
			return linkcheck.Report{}, err
		}
	}
	sites := make([]scan.CallSite, len(imports))
	for i, c := range imports {
		sites[i] = c.Site
	}
	report := checker.Check(sites)
	t.log.Debug("link check finished",
		zap.Strings("libraries", checker.Libraries()),
		zap.Bool("ok", report.OK()))
	return report, nil
}

// GenEmptyAssemblies writes placeholder assemblies for the names that do
// not exist yet and returns the paths written.
func (t *Tuner) GenEmptyAssemblies(names []string) ([]string, error) {
	s := emptymod.New()
	s.Extension = t.cfg.Empty.Extension
	s.Strip = t.cfg.Empty.Strip
	s.Sentinels = t.cfg.Empty.Sentinels

	written, err := s.Synthesize(names)
	if err != nil {
		return written, err
	}
	t.log.Info("wrote empty assemblies", zap.Int("written", len(written)), zap.Int("requested", len(names)))
	return written, nil
}
