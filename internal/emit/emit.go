// Package emit writes generated files.
package emit

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/wippyai/wasm-tuner/errors"
)

// Header opens every generated C file.
const Header = "// GENERATED FILE, DO NOT MODIFY"

// File renders into memory and replaces path with the result. The content
// goes to a temporary sibling first and is renamed over path, so readers
// never observe a partial file. Nothing is written when render fails.
func File(path string, render func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Emit(path, err)
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Emit(path, err)
	}
	tmp := f.Name()
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Emit(path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Emit(path, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return errors.Emit(path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Emit(path, err)
	}
	return nil
}
