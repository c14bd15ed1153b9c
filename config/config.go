// Package config loads the optional wasm-tuner.toml settings file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-tuner/errors"
)

// FileName is looked up in the working directory when no path is given.
const FileName = "wasm-tuner.toml"

// Config holds every tunable setting.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Pinvoke   PinvokeConfig   `toml:"pinvoke"`
	Empty     EmptyConfig     `toml:"empty"`
	Linkcheck LinkcheckConfig `toml:"linkcheck"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type PinvokeConfig struct {
	// Modules are appended to the allow-list given on the command line.
	Modules          []string `toml:"modules"`
	TrampolineHeader string   `toml:"trampoline_header"`
}

type EmptyConfig struct {
	Extension string   `toml:"extension"`
	Strip     []string `toml:"strip"`
	Sentinels []string `toml:"sentinels"`
}

type LinkcheckConfig struct {
	Libraries []string `toml:"libraries"`
	Strict    bool     `toml:"strict"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Pinvoke: PinvokeConfig{
			TrampolineHeader: "wasm_m2n_invoke.g.h",
		},
		Empty: EmptyConfig{
			Extension: ".dll",
			Strip:     []string{".exe", ".dll"},
			Sentinels: []string{".aot-only", ".pdb"},
		},
	}
}

// Load decodes path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return Config{}, errors.Load(path, err)
		}
		return Config{}, configError(path, err, "failed to parse TOML")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, configError(path, nil, fmt.Sprintf("unknown keys: %s", strings.Join(keys, ", ")))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, configError(path, err, "invalid settings")
	}
	return cfg, nil
}

// Resolve loads path when set, otherwise FileName in dir if present,
// otherwise the defaults.
func Resolve(path, dir string) (Config, error) {
	if path != "" {
		return Load(path)
	}
	candidate := FileName
	if dir != "" {
		candidate = dir + string(os.PathSeparator) + FileName
	}
	if _, err := os.Stat(candidate); err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, errors.Load(candidate, err)
	}
	return Load(candidate)
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Pinvoke.TrampolineHeader == "" {
		return fmt.Errorf("[pinvoke].trampoline_header must not be empty")
	}
	if strings.ContainsAny(c.Pinvoke.TrampolineHeader, `/\`) {
		return fmt.Errorf("[pinvoke].trampoline_header must be a file name, got %q", c.Pinvoke.TrampolineHeader)
	}
	if !strings.HasPrefix(c.Empty.Extension, ".") {
		return fmt.Errorf("[empty].extension must start with '.', got %q", c.Empty.Extension)
	}
	for _, s := range c.Empty.Sentinels {
		if !strings.HasPrefix(s, ".") {
			return fmt.Errorf("[empty].sentinels entry must start with '.', got %q", s)
		}
	}
	return nil
}

// LogLevel parses [log].level.
func (c Config) LogLevel() (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return lvl, fmt.Errorf("[log].level: %w", err)
	}
	return lvl, nil
}

func configError(path string, cause error, detail string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		File(path).
		Detail("%s", detail).
		Cause(cause).
		Build()
}
