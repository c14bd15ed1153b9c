package metadata

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/wasm-tuner/errors"
)

func buildFixture(t *testing.T) *Image {
	t.Helper()

	b := NewAssemblyBuilder("Interop").SetModuleName("Interop.dll").SetVersion(1, 2, 3, 4)
	b.SetMVID([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})

	sys := b.AddType("Interop", "Sys")
	b.AddPInvoke(sys, "Read", "libSystem.Native", "SystemNative_Read", &MethodSig{
		Ret:    Primitive(ElementI4),
		Params: []*TypeSig{Primitive(ElementI), Ptr(Primitive(ElementU1)), Primitive(ElementI4)},
	})
	b.AddPInvoke(sys, "GetTimestamp", "libSystem.Native", "", &MethodSig{
		Ret: Primitive(ElementU8),
	})

	outer := b.AddType("System", "Outer")
	inner := b.AddNestedType(outer, "Inner")
	b.AddInternalCall(inner, "Get", false, &MethodSig{
		Ret: Primitive(ElementR8),
		Params: []*TypeSig{
			ByRef(Primitive(ElementI4)),
			SZArray(Primitive(ElementChar)),
			ClassRef("System.Text", "StringBuilder"),
			ValueTypeRef("System", "Guid"),
			{
				Elem:     ElementCModOpt,
				Modifier: &TypeName{Namespace: "System.Runtime.CompilerServices", Name: "IsLong"},
				Inner:    Primitive(ElementI8),
			},
		},
	})
	b.AddInternalCall(outer, "Count", true, &MethodSig{Ret: Primitive(ElementI4)})

	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	img, err := Read("Interop.dll", data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return img
}

func TestBuilderRoundTrip_Identity(t *testing.T) {
	img := buildFixture(t)

	asm, ok, err := img.Assembly()
	if err != nil || !ok {
		t.Fatalf("Assembly() = %v, %v", ok, err)
	}
	if asm.Name != "Interop" {
		t.Errorf("assembly name = %q, want Interop", asm.Name)
	}
	if got := asm.VersionString(); got != "1.2.3.4" {
		t.Errorf("version = %q, want 1.2.3.4", got)
	}

	mod, err := img.ModuleName()
	if err != nil || mod != "Interop.dll" {
		t.Errorf("ModuleName() = %q, %v", mod, err)
	}

	mvid, err := img.ModuleVersionID()
	if err != nil {
		t.Fatal(err)
	}
	if mvid[0] != 1 || mvid[15] != 16 {
		t.Errorf("mvid = %x", mvid)
	}
	if img.Version != runtimeVersion {
		t.Errorf("runtime version = %q", img.Version)
	}
}

func TestBuilderRoundTrip_Methods(t *testing.T) {
	img := buildFixture(t)

	methods, err := img.Methods()
	if err != nil {
		t.Fatalf("Methods: %v", err)
	}
	if len(methods) != 4 {
		t.Fatalf("got %d methods, want 4", len(methods))
	}

	tests := []struct {
		typeName string
		name     string
		token    uint32
		pinvoke  bool
		icall    bool
		static   bool
	}{
		{"Interop.Sys", "Read", 0x06000001, true, false, true},
		{"Interop.Sys", "GetTimestamp", 0x06000002, true, false, true},
		{"System.Outer", "Count", 0x06000003, false, true, true},
		{"System.Outer/Inner", "Get", 0x06000004, false, true, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := methods[i]
			if m.Type.FullName() != tt.typeName || m.Name != tt.name {
				t.Errorf("method %d = %s::%s, want %s::%s", i, m.Type.FullName(), m.Name, tt.typeName, tt.name)
			}
			if m.Token != tt.token {
				t.Errorf("token = %#x, want %#x", m.Token, tt.token)
			}
			if m.IsPInvoke() != tt.pinvoke || m.IsInternalCall() != tt.icall || m.IsStatic() != tt.static {
				t.Errorf("flags: pinvoke=%v icall=%v static=%v", m.IsPInvoke(), m.IsInternalCall(), m.IsStatic())
			}
			if m.Sig.HasThis() == tt.static {
				t.Errorf("HasThis = %v for static=%v", m.Sig.HasThis(), tt.static)
			}
		})
	}

	read := methods[0]
	if read.PInvoke == nil {
		t.Fatal("Read: missing ImplMap")
	}
	if read.PInvoke.Module != "libSystem.Native" || read.PInvoke.EntryPoint != "SystemNative_Read" {
		t.Errorf("Read import = %+v", read.PInvoke)
	}
	if ts := methods[1].PInvoke; ts == nil || ts.EntryPoint != "GetTimestamp" {
		t.Errorf("GetTimestamp import = %+v", ts)
	}
	if methods[2].PInvoke != nil {
		t.Error("internal call has ImplMap")
	}
}

func TestSignatureNames(t *testing.T) {
	img := buildFixture(t)
	methods, err := img.Methods()
	if err != nil {
		t.Fatal(err)
	}

	read := methods[0].Sig
	wantRead := []string{"IntPtr", "Byte*", "Int32"}
	if read.Ret.Name() != "Int32" {
		t.Errorf("Read ret = %s", read.Ret.Name())
	}
	for i, want := range wantRead {
		if got := read.Params[i].Name(); got != want {
			t.Errorf("Read param %d = %q, want %q", i, got, want)
		}
	}

	get := methods[3].Sig
	wantGet := []string{
		"Int32&",
		"Char[]",
		"StringBuilder",
		"Guid",
		"Int64 modopt(System.Runtime.CompilerServices.IsLong)",
	}
	if get.Ret.Name() != "Double" {
		t.Errorf("Get ret = %s", get.Ret.Name())
	}
	if len(get.Params) != len(wantGet) {
		t.Fatalf("Get has %d params", len(get.Params))
	}
	for i, want := range wantGet {
		if got := get.Params[i].Name(); got != want {
			t.Errorf("Get param %d = %q, want %q", i, got, want)
		}
	}
	if got := get.Params[2].FullName(); got != "System.Text.StringBuilder" {
		t.Errorf("FullName = %q", got)
	}
}

func TestDecodeMethodSig(t *testing.T) {
	img := buildFixture(t)

	tests := []struct {
		name    string
		blob    []byte
		params  []string
		ret     string
		wantErr bool
	}{
		{"static void()", []byte{0x00, 0x00, 0x01}, nil, "Void", false},
		{"instance int(long,float)", []byte{0x20, 0x02, 0x08, 0x0A, 0x0C}, []string{"Int64", "Single"}, "Int32", false},
		{"generic method", []byte{0x10, 0x01, 0x01, 0x01, 0x1E, 0x00}, []string{"!!0"}, "Void", false},
		{"pinned byref", []byte{0x00, 0x01, 0x01, 0x45, 0x10, 0x02}, []string{"Boolean& pinned"}, "Void", false},
		{"rank 2 array", []byte{0x00, 0x01, 0x01, 0x14, 0x0D, 0x02, 0x00, 0x00}, []string{"Double[,]"}, "Void", false},
		{"vararg sentinel", []byte{0x05, 0x02, 0x01, 0x08, 0x41, 0x08}, []string{"Int32", "Int32"}, "Void", false},
		{"truncated", []byte{0x00, 0x02, 0x01, 0x08}, nil, "", true},
		{"bad element", []byte{0x00, 0x00, 0x7F}, nil, "", true},
		{"empty", nil, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := img.DecodeMethodSig(tt.blob)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeMethodSig: %v", err)
			}
			if sig.Ret.Name() != tt.ret {
				t.Errorf("ret = %q, want %q", sig.Ret.Name(), tt.ret)
			}
			if len(sig.Params) != len(tt.params) {
				t.Fatalf("got %d params, want %d", len(sig.Params), len(tt.params))
			}
			for i, want := range tt.params {
				if got := sig.Params[i].Name(); got != want {
					t.Errorf("param %d = %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestReadInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not pe", []byte("definitely not a portable executable")},
		{"dos only", append([]byte("MZ"), make([]byte, 126)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.name, tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindInvalidData}) {
				t.Errorf("expected parse/invalid_data, got %v", err)
			}
		})
	}
}

func TestReadTruncatedMetadata(t *testing.T) {
	data, err := NewAssemblyBuilder("Foo").Build()
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the metadata signature.
	copy(data[fileAlignment+cliHeaderSize:], "XXXX")
	if _, err := Read("Foo.dll", data); err == nil {
		t.Fatal("expected error for bad metadata signature")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Empty.dll")
	if err := NewAssemblyBuilder("Empty").WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.Path() != path {
		t.Errorf("Path() = %q", img.Path())
	}
	name, err := img.AssemblyName()
	if err != nil || name != "Empty" {
		t.Errorf("AssemblyName() = %q, %v", name, err)
	}
	methods, err := img.Methods()
	if err != nil || len(methods) != 0 {
		t.Errorf("Methods() = %d, %v", len(methods), err)
	}
	if img.Rows(TableTypeDef) != 1 {
		t.Errorf("TypeDef rows = %d, want 1", img.Rows(TableTypeDef))
	}

	if _, err := Open(filepath.Join(dir, "missing.dll")); !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) = %v, want ErrNotExist", err)
	}
}

func TestTypeNameFullName(t *testing.T) {
	outer := TypeName{Namespace: "System", Name: "Outer"}
	tests := []struct {
		tn   TypeName
		want string
	}{
		{TypeName{Name: "Global"}, "Global"},
		{TypeName{Namespace: "System", Name: "Math"}, "System.Math"},
		{TypeName{Enclosing: &outer, Name: "Inner"}, "System.Outer/Inner"},
	}
	for _, tt := range tests {
		if got := tt.tn.FullName(); got != tt.want {
			t.Errorf("FullName() = %q, want %q", got, tt.want)
		}
	}
}
