package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	wasmtuner "github.com/wippyai/wasm-tuner"
	"github.com/wippyai/wasm-tuner/emptymod"
	"github.com/wippyai/wasm-tuner/icall"
	"github.com/wippyai/wasm-tuner/linkcheck"
	"github.com/wippyai/wasm-tuner/pinvoke"
	"github.com/wippyai/wasm-tuner/scan"
	"github.com/wippyai/wasm-tuner/trampoline"
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newLogger builds a console logger on stderr.
func newLogger(level zapcore.Level, color bool) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	if color {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// installLogger routes every package logger to l.
func installLogger(l *zap.Logger) {
	wasmtuner.SetLogger(l)
	scan.SetLogger(l.Named("scan"))
	pinvoke.SetLogger(l.Named("pinvoke"))
	icall.SetLogger(l.Named("icall"))
	trampoline.SetLogger(l.Named("trampoline"))
	emptymod.SetLogger(l.Named("emptymod"))
	linkcheck.SetLogger(l.Named("linkcheck"))
}
