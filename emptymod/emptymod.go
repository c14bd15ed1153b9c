package emptymod

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/metadata"
)

// mvidNamespace seeds the deterministic module version ids.
var mvidNamespace = uuid.MustParse("5b0f9e9c-7d1e-4f6b-9a51-8f6c2f3e4a10")

// Synthesizer writes empty assemblies for missing module files.
type Synthesizer struct {
	log       *zap.Logger
	Extension string   // only names with this extension are synthesized
	Strip     []string // removed from the file name to form the assembly name
	Sentinels []string // extensions of the zero-length companion files
}

// New returns a Synthesizer with the standard settings.
func New() *Synthesizer {
	return &Synthesizer{
		log:       Logger(),
		Extension: ".dll",
		Strip:     []string{".exe", ".dll"},
		Sentinels: []string{".aot-only", ".pdb"},
	}
}

// Synthesize processes names in order and returns the module paths it
// wrote. Existing files and names with another extension are skipped.
func (s *Synthesizer) Synthesize(names []string) ([]string, error) {
	var written []string
	for _, name := range names {
		if !strings.EqualFold(filepath.Ext(name), s.Extension) {
			s.log.Debug("skipping non-module name", zap.String("name", name))
			continue
		}
		if _, err := os.Stat(name); err == nil {
			s.log.Debug("module exists", zap.String("path", name))
			continue
		}

		if err := s.write(name); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}

// AssemblyName derives the assembly name from a module path.
func (s *Synthesizer) AssemblyName(path string) string {
	base := filepath.Base(path)
	for _, ext := range s.Strip {
		base = strings.ReplaceAll(base, ext, "")
	}
	return base
}

func (s *Synthesizer) write(path string) error {
	name := s.AssemblyName(path)
	if name == "" {
		return errors.New(errors.PhaseGenerate, errors.KindInvalidInput).
			File(path).
			Detail("empty assembly name").
			Build()
	}

	mvid := uuid.NewSHA1(mvidNamespace, []byte(name))
	b := metadata.NewAssemblyBuilder(name).SetVersion(0, 0, 0, 0).SetMVID([16]byte(mvid))
	if err := b.WriteFile(path); err != nil {
		return err
	}

	for _, ext := range s.Sentinels {
		sentinel := ChangeExtension(path, ext)
		if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
			return errors.Emit(sentinel, err)
		}
	}
	s.log.Debug("synthesized empty module", zap.String("path", path), zap.String("assembly", name))
	return nil
}

// ChangeExtension replaces the extension of path's last element with ext,
// appending it when there is none.
func ChangeExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
