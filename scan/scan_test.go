package scan

import (
	"testing"

	"github.com/wippyai/wasm-tuner/metadata"
)

type mapResolver map[string]Entry

func (r mapResolver) Resolve(typeName, method string) (Entry, bool) {
	e, ok := r[typeName+"::"+method]
	return e, ok
}

func mustImage(t *testing.T, b *metadata.AssemblyBuilder) *metadata.Image {
	t.Helper()
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	img, err := metadata.Read(t.Name()+".dll", data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return img
}

func i4() *metadata.TypeSig { return metadata.Primitive(metadata.ElementI4) }

func importsFixture(t *testing.T) *metadata.Image {
	b := metadata.NewAssemblyBuilder("Native.Interop")
	ty := b.AddType("Interop", "Sys")
	b.AddPInvoke(ty, "Write", "libSystem.Native", "SystemNative_Write", &metadata.MethodSig{
		Ret:    i4(),
		Params: []*metadata.TypeSig{metadata.Primitive(metadata.ElementI), i4()},
	})
	b.AddPInvoke(ty, "Sqrt", "libm", "", &metadata.MethodSig{
		Ret:    metadata.Primitive(metadata.ElementR8),
		Params: []*metadata.TypeSig{metadata.Primitive(metadata.ElementR8)},
	})
	b.AddInternalCall(ty, "NotAnImport", true, nil)
	return mustImage(t, b)
}

func TestScanner_Imports(t *testing.T) {
	img := importsFixture(t)
	sites, err := New().Imports([]*metadata.Image{img})
	if err != nil {
		t.Fatalf("Imports: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("got %d sites, want 2", len(sites))
	}

	tests := []struct {
		native string
		symbol string
		shape  string
	}{
		{"libSystem.Native", "SystemNative_Write", "III"},
		{"libm", "Sqrt", "DD"},
	}
	for i, tt := range tests {
		s := sites[i]
		if s.NativeModule != tt.native || s.Symbol != tt.symbol || s.Shape.Key() != tt.shape {
			t.Errorf("site %d = %s/%s %s, want %s/%s %s", i, s.NativeModule, s.Symbol, s.Shape.Key(), tt.native, tt.symbol, tt.shape)
		}
		if s.Assembly != "Native.Interop" || s.Type != "Interop.Sys" {
			t.Errorf("site %d origin = %s %s", i, s.Assembly, s.Type)
		}
	}
}

func TestScanner_ImportsModuleOrder(t *testing.T) {
	a := metadata.NewAssemblyBuilder("A")
	b := metadata.NewAssemblyBuilder("B")
	b.AddPInvoke(b.AddType("", "B"), "b1", "libb", "", nil)
	a.AddPInvoke(a.AddType("", "A"), "a1", "liba", "", nil)

	imgA, imgB := mustImage(t, a), mustImage(t, b)

	sites, err := New().Scan(ModeImport, []*metadata.Image{imgB, imgA}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 2 || sites[0].Symbol != "b1" || sites[1].Symbol != "a1" {
		t.Errorf("sites not in module order: %+v", sites)
	}
}

func icallFixture(t *testing.T) *metadata.Image {
	b := metadata.NewAssemblyBuilder("System.Private.CoreLib")
	mathT := b.AddType("System", "Math")
	b.AddInternalCall(mathT, "Abs", true, &metadata.MethodSig{
		Ret:    metadata.Primitive(metadata.ElementR8),
		Params: []*metadata.TypeSig{metadata.Primitive(metadata.ElementR8)},
	})
	b.AddInternalCall(mathT, "Dead", true, nil)

	obj := b.AddType("System", "Object")
	b.AddInternalCall(obj, "GetHashCode", false, &metadata.MethodSig{Ret: i4()})

	outer := b.AddType("System", "Runtime")
	inner := b.AddNestedType(outer, "Handles")
	b.AddInternalCall(inner, "Alloc", true, &metadata.MethodSig{
		Ret: metadata.Primitive(metadata.ElementI8),
		Params: []*metadata.TypeSig{
			metadata.ClassRef("System", "Object"),
			metadata.ByRef(i4()),
		},
	})
	return mustImage(t, b)
}

func TestScanner_InternalCalls(t *testing.T) {
	img := icallFixture(t)
	index := mapResolver{
		"System.Math::Abs(double)":                  {Func: "ves_icall_System_Math_Abs"},
		"System.Object::GetHashCode":                {Func: "ves_icall_System_Object_GetHashCode"},
		"System.Runtime/Handles::Alloc(object,int&)": {Func: "ves_icall_Alloc", Handles: true},
	}

	sites, err := New().InternalCalls([]*metadata.Image{img}, index)
	if err != nil {
		t.Fatalf("InternalCalls: %v", err)
	}

	tests := []struct {
		name   string
		symbol string
		shape  string
		token  uint32
	}{
		{"System.Math::Abs", "ves_icall_System_Math_Abs", "DD", 1},
		{"System.Object::GetHashCode", "ves_icall_System_Object_GetHashCode", "II", 3},
		{"System.Runtime/Handles::Alloc", "ves_icall_Alloc", "LIII", 4},
	}
	if len(sites) != len(tests) {
		t.Fatalf("got %d sites, want %d: %+v", len(sites), len(tests), sites)
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sites[i]
			if s.Name() != tt.name {
				t.Errorf("name = %s, want %s", s.Name(), tt.name)
			}
			if s.Symbol != tt.symbol {
				t.Errorf("symbol = %s, want %s", s.Symbol, tt.symbol)
			}
			if s.Shape.Key() != tt.shape {
				t.Errorf("shape = %s, want %s", s.Shape.Key(), tt.shape)
			}
			if s.Token != tt.token {
				t.Errorf("token = %d, want %d", s.Token, tt.token)
			}
		})
	}
}

func TestScanner_InternalCallsNilIndex(t *testing.T) {
	if _, err := New().Scan(ModeInternalCall, nil, nil); err == nil {
		t.Fatal("expected error for nil index")
	}
}

func TestNewCookies(t *testing.T) {
	sites := []CallSite{{Symbol: "a"}, {Symbol: "b"}, {Symbol: "c"}}
	cookies := NewCookies(sites)
	for i, c := range cookies {
		if c.ID != i || c.Site.Symbol != sites[i].Symbol {
			t.Errorf("cookie %d = %+v", i, c)
		}
	}
}

func TestOverloadName(t *testing.T) {
	tests := []struct {
		sig  *metadata.MethodSig
		want string
	}{
		{&metadata.MethodSig{Ret: i4()}, "M()"},
		{&metadata.MethodSig{Ret: i4(), Params: []*metadata.TypeSig{
			metadata.Primitive(metadata.ElementString),
			metadata.Primitive(metadata.ElementU8),
		}}, "M(string,ulong)"},
		{&metadata.MethodSig{Ret: i4(), Params: []*metadata.TypeSig{
			metadata.SZArray(metadata.Primitive(metadata.ElementU1)),
			metadata.Ptr(metadata.Primitive(metadata.ElementChar)),
			metadata.ByRef(metadata.Primitive(metadata.ElementR4)),
		}}, "M(byte[],char*,single&)"},
		{&metadata.MethodSig{Ret: i4(), Params: []*metadata.TypeSig{
			metadata.ValueTypeRef("System", "Guid"),
		}}, "M(System.Guid)"},
	}
	for _, tt := range tests {
		if got := OverloadName("M", tt.sig); got != tt.want {
			t.Errorf("OverloadName = %q, want %q", got, tt.want)
		}
	}
}
