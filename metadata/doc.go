// Package metadata reads and writes ECMA-335 managed modules.
//
// An Image is a parsed PE/COFF file carrying CLI metadata. Only what the
// tuner needs is exposed: the assembly identity, and every MethodDef row
// with its declaring type, flags, decoded signature and P/Invoke mapping.
// Method bodies are never read.
//
// # Reading
//
//	img, err := metadata.Open("System.Native.dll")
//	methods, err := img.Methods()
//	for _, m := range methods {
//		if m.IsPInvoke() {
//			fmt.Println(m.PInvoke.Module, m.PInvoke.EntryPoint)
//		}
//	}
//
// # Writing
//
// AssemblyBuilder produces a minimal PE32 DLL with a Module row, the
// <Module> type, an Assembly row and optional types declaring extern
// methods. It backs empty-assembly synthesis and test fixtures.
//
// # Type names
//
// TypeSig.Name renders the simple name of a signature type with the usual
// decorations: "Int32&" for byrefs, "Byte*" for pointers, "Char[]" for
// arrays and a " modopt(...)" or " modreq(...)" suffix for modified types.
package metadata
