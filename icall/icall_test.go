//go:build !tuner_noicall

package icall

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wasm-tuner/errors"
	"github.com/wippyai/wasm-tuner/metadata"
)

const testIndex = `[
  {"klass": "System.Math", "icalls": [
    {"name": "Abs(double)", "func": "ves_icall_System_Math_Abs_double"},
    {"name": "Sqrt", "func": "ves_icall_System_Math_Sqrt"}
  ]},
  {"klass": "System.Object", "icalls": [
    {"name": "GetHashCode", "func": "ves_icall_System_Object_GetHashCode", "handles": true}
  ]},
  {"klass": "Uno.Foundation.Runtime", "icalls": [
    {"name": "InvokeJS", "func": "ves_icall_Uno_InvokeJS"}
  ]}
]`

func r8() *metadata.TypeSig { return metadata.Primitive(metadata.ElementR8) }

func buildModules(t *testing.T) []*metadata.Image {
	t.Helper()

	corlib := metadata.NewAssemblyBuilder("System.Private.CoreLib")
	obj := corlib.AddType("System", "Object")
	corlib.AddInternalCall(obj, "GetHashCode", false, &metadata.MethodSig{Ret: metadata.Primitive(metadata.ElementI4)})
	math := corlib.AddType("System", "Math")
	corlib.AddInternalCall(math, "Sqrt", true, &metadata.MethodSig{Ret: r8(), Params: []*metadata.TypeSig{r8()}})
	corlib.AddInternalCall(math, "Abs", true, &metadata.MethodSig{Ret: r8(), Params: []*metadata.TypeSig{r8()}})
	corlib.AddInternalCall(math, "Unlisted", true, nil)

	uno := metadata.NewAssemblyBuilder("Uno.Foundation")
	rt := uno.AddType("Uno.Foundation", "Runtime")
	uno.AddInternalCall(rt, "InvokeJS", true, &metadata.MethodSig{
		Ret:    metadata.Primitive(metadata.ElementString),
		Params: []*metadata.TypeSig{metadata.Primitive(metadata.ElementString), metadata.ByRef(metadata.Primitive(metadata.ElementI4))},
	})

	var out []*metadata.Image
	for _, b := range []*metadata.AssemblyBuilder{uno, corlib} {
		data, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		img, err := metadata.Read("test.dll", data)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, img)
	}
	return out
}

func TestParseJSON(t *testing.T) {
	ix, err := ParseJSON([]byte(testIndex))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if ix.Len() != 4 {
		t.Errorf("Len() = %d, want 4", ix.Len())
	}
	e, ok := ix.Resolve("System.Object", "GetHashCode")
	if !ok || e.Func != "ves_icall_System_Object_GetHashCode" || !e.Handles {
		t.Errorf("Resolve = %+v, %v", e, ok)
	}
	if _, ok := ix.Resolve("System.Math", "Abs"); ok {
		t.Error("bare name should not match overload entry")
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", `[{"klass": `},
		{"empty klass", `[{"klass": "", "icalls": []}]`},
		{"missing func", `[{"klass": "A", "icalls": [{"name": "M"}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Phase != errors.PhaseLoad {
				t.Errorf("expected load phase error, got %v", err)
			}
		})
	}
}

func TestLoadIndex_Msgpack(t *testing.T) {
	ix, err := ParseJSON([]byte(testIndex))
	if err != nil {
		t.Fatal(err)
	}
	data, err := ix.Msgpack()
	if err != nil {
		t.Fatalf("Msgpack: %v", err)
	}
	path := filepath.Join(t.TempDir(), "icall-table.msgpack")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadIndex(path)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if loaded.Len() != ix.Len() {
		t.Errorf("Len() = %d, want %d", loaded.Len(), ix.Len())
	}
	if e, ok := loaded.Resolve("System.Math", "Abs(double)"); !ok || e.Func != "ves_icall_System_Math_Abs_double" {
		t.Errorf("Resolve = %+v, %v", e, ok)
	}
}

func TestLoadIndex_Missing(t *testing.T) {
	_, err := LoadIndex(filepath.Join(t.TempDir(), "nope.json"))
	if !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	ix, err := ParseJSON([]byte(testIndex))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	cookies, err := NewGenerator().Generate(buildModules(t), ix, &buf)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Scan order: Uno.Foundation first, then corlib in token order.
	wantSymbols := []string{
		"ves_icall_Uno_InvokeJS",
		"ves_icall_System_Object_GetHashCode",
		"ves_icall_System_Math_Sqrt",
		"ves_icall_System_Math_Abs_double",
	}
	if len(cookies) != len(wantSymbols) {
		t.Fatalf("got %d cookies, want %d", len(cookies), len(wantSymbols))
	}
	for i, want := range wantSymbols {
		if cookies[i].ID != i || cookies[i].Site.Symbol != want {
			t.Errorf("cookie %d = %d %s, want %s", i, cookies[i].ID, cookies[i].Site.Symbol, want)
		}
	}

	out := buf.String()
	for _, want := range []string{
		"#define ICALL_TABLE_Uno_Foundation 1\n",
		"#define ICALL_TABLE_corlib 1\n",
		"static int corlib_icall_indexes [] = {\n1,\n2,\n3,\n};\n",
		"int ves_icall_System_Object_GetHashCode (int,int);\n",
		"double ves_icall_System_Math_Sqrt (double);\n",
		"int ves_icall_Uno_InvokeJS (int,int);\n",
		"static void *corlib_icall_funcs [] = {\n// token 1,\nves_icall_System_Object_GetHashCode,\n",
		"static uint8_t corlib_icall_handles [] = {\n1,\n0,\n0,\n};\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "Unlisted") {
		t.Error("method absent from the index was emitted")
	}
	if strings.Index(out, "ICALL_TABLE_Uno_Foundation") > strings.Index(out, "ICALL_TABLE_corlib") {
		t.Error("assembly groups not in first-seen order")
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	ix, err := ParseJSON([]byte(testIndex))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	var outputs [2][]byte
	for i := range outputs {
		path := filepath.Join(dir, "icall-table.h")
		if _, err := NewGenerator().GenerateFile(buildModules(t), ix, path); err != nil {
			t.Fatal(err)
		}
		if outputs[i], err = os.ReadFile(path); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("output differs between identical runs")
	}
}

func TestTableName(t *testing.T) {
	tests := map[string]string{
		"System.Private.CoreLib": "corlib",
		"System.Runtime":         "System_Runtime",
		"Uno":                    "Uno",
	}
	for in, want := range tests {
		if got := TableName(in); got != want {
			t.Errorf("TableName(%q) = %q, want %q", in, got, want)
		}
	}
}
