package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseParse,
				Kind:   KindInvalidData,
				File:   "Foo.dll",
				Path:   []string{"#~", "MethodDef", "3"},
				Symbol: "Foo.Bar::Baz",
				Detail: "bad signature",
			},
			contains: []string{"[parse]", "invalid_data", "Foo.dll", "#~.MethodDef.3", "Foo.Bar::Baz", "bad signature"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseScan,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[scan]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseEmit,
				Kind:   KindIO,
				Detail: "write output",
				Cause:  errors.New("disk full"),
			},
			contains: []string{"[emit]", "io", "write output", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindIO,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause in chain")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseGenerate,
		Kind:  KindUnsupported,
		File:  "icall.h",
	}

	if !err.Is(&Error{Phase: PhaseGenerate, Kind: KindUnsupported}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseParse, Kind: KindUnsupported}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseGenerate, Kind: KindIO}) {
		t.Error("Is should not match different kind")
	}

	wrapped := Wrap(PhaseEmit, KindIO, err, "outer")
	if !errors.Is(wrapped, &Error{Phase: PhaseGenerate, Kind: KindUnsupported}) {
		t.Error("errors.Is should find inner structured error")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseParse, KindInvalidData).
		File("a.dll").
		Path("#Blob", "0x20").
		Symbol("sym").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "blob", "eof").
		Build()

	if err.Phase != PhaseParse {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseParse)
	}
	if err.Kind != KindInvalidData {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidData)
	}
	if err.File != "a.dll" {
		t.Errorf("File = %q, want a.dll", err.File)
	}
	if len(err.Path) != 2 || err.Path[0] != "#Blob" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected blob, got eof" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Usage", func(t *testing.T) {
		err := Usage("missing %s", "output")
		if err.Phase != PhaseUsage || err.Kind != KindInvalidInput {
			t.Errorf("got %s/%s", err.Phase, err.Kind)
		}
		if err.Detail != "missing output" {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseGenerate, "icalls")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseParse, []string{"#Strings"}, 10, 5)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseEmit, []string{"rows"}, 70000, "uint16")
		if err.Kind != KindOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
		}
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		err := TypeMismatch(PhaseLinking, "add", "(i32,i32)->i32", "(i64)->i32")
		if err.Symbol != "add" || !strings.Contains(err.Error(), "(i64)->i32") {
			t.Errorf("unexpected error %q", err.Error())
		}
	})

	t.Run("ParseFailed", func(t *testing.T) {
		err := ParseFailed("x.dll", errors.New("no CLI header"))
		if !errors.Is(err, &Error{Phase: PhaseParse, Kind: KindInvalidData}) {
			t.Error("ParseFailed should be a parse/invalid_data error")
		}
	})

	t.Run("Load and Emit", func(t *testing.T) {
		if Load("in", nil).Phase != PhaseLoad {
			t.Error("Load phase")
		}
		if Emit("out", nil).Phase != PhaseEmit {
			t.Error("Emit phase")
		}
	})
}

func TestMissingImportsError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := NewMissingImportsError([]string{"libfoo#foo_add"})
		if len(err.Imports) != 1 {
			t.Fatalf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Module != "libfoo" || err.Imports[0].Symbol != "foo_add" {
			t.Errorf("got %+v", err.Imports[0])
		}
	})

	t.Run("grouped by module", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"libfoo#a",
			"libbar#b",
			"libfoo#c",
		})
		msg := err.Error()
		if !strings.Contains(msg, "missing 3") {
			t.Errorf("error should contain count: %s", msg)
		}
		if !strings.Contains(msg, "libfoo:") || !strings.Contains(msg, "libbar:") {
			t.Errorf("error should group by module: %s", msg)
		}
		if strings.Index(msg, "libfoo:") > strings.Index(msg, "libbar:") {
			t.Errorf("modules should keep first-seen order: %s", msg)
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		err := NewMissingImportsError(nil)
		if !strings.Contains(err.Error(), "no imports specified") {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewMissingImportsError([]string{"m#s"})
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
	})
}
