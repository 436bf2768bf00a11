package mfc

import (
	"log"
	"sort"
)

// externalBinding names the DLL and the export name a reserved
// external IR symbol is actually bound to at link time. IR code
// always calls the stable internal name (e.g. "__mf_raise"); only the
// PE writer needs to know which DLL!export backs it.
type externalBinding struct {
	dll    string
	export string
}

// externalBindings is the compiler's fixed linking table (spec.md
// §3's "Binary output" note): __mf_raise lowers to a process exit,
// malloc and printf come straight from msvcrt.
var externalBindings = map[string]externalBinding{
	"__mf_raise": {"kernel32.dll", "ExitProcess"},
	"malloc":     {"msvcrt.dll", "malloc"},
	"printf":     {"msvcrt.dll", "printf"},
}

// Compile runs the full pipeline — lex, parse, analyze, lower to IR,
// optimize, allocate registers, select machine instructions, encode,
// and link into a PE32+ image — per spec.md §7's fail-fast contract:
// the first stage to report an error stops the pipeline.
func Compile(file string, src []byte, config CompilerConfig) ([]byte, *Diagnostics, error) {
	diags := NewDiagnostics()

	if config.Verbose {
		log.Printf("compile %s: run %s", file, diags.RunID)
	}

	lex := NewLexer(file, src, diags)
	tokens := lex.Lex()

	parser := NewParser(file, tokens, diags)
	prog := parser.ParseProgram()
	if len(prog.Decls) == 0 {
		return nil, diags, abort(Diagnostic{Code: "E-PARSE-001", Message: "no entry point"})
	}

	analysis := Analyze(prog, diags)
	if diags.HasErrors() {
		return nil, diags, abort(Diagnostic{Code: "E-SEMA-001", Message: "semantic analysis failed"})
	}

	mod, err := GenerateIR(prog, analysis)
	if err != nil {
		return nil, diags, err
	}

	encoded, err := compileFunctions(mod, config)
	if err != nil {
		return nil, diags, err
	}

	image, err := link(mod, encoded)
	if err != nil {
		return nil, diags, err
	}
	return image, diags, nil
}

// compileFunctions runs optimize/allocate/select/encode over every
// function and prepends a synthetic entry stub that calls "main" —
// the PE entry point is the first byte of .text (spec.md §4.8), and a
// bare `ret` from main would return into whatever garbage address the
// loader left on the stack, so .text's real first bytes are a tiny
// prolog/call-main/epilog/ret stub, the same shape the Windows
// backend's _generate_entry_point builds around every program.
// Config.Optimize of 0 skips optimize.go entirely, matching the
// teacher's CompilerConfig.Optimize knob.
func compileFunctions(mod *Module, config CompilerConfig) ([]*EncodedFunc, error) {
	var hasMain bool
	for _, fn := range mod.Functions {
		if fn.Name == "main" {
			hasMain = true
		}
	}
	if !hasMain {
		return nil, abort(Diagnostic{Code: "E-IR-004", Message: "no entry point"})
	}

	stub, err := EncodeFunction("_start", entryStubInstrs())
	if err != nil {
		return nil, err
	}
	out := []*EncodedFunc{stub}

	for _, fn := range mod.Functions {
		if config.Optimize > 0 {
			Optimize(fn)
		}
		alloc := Allocate(fn)
		instrs, err := Select(mod, fn, alloc)
		if err != nil {
			return nil, err
		}
		enc, err := EncodeFunction(fn.Name, instrs)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// entryStubInstrs is the process's real entry point: set up a frame,
// call main, tear the frame down, return. Grounded in the reference
// Windows backend's _generate_entry_point (prolog, call "main",
// epilog).
func entryStubInstrs() []MInstr {
	return []MInstr{
		MPush{Src: RBP},
		MMovRegReg{Dst: RBP, Src: RSP},
		MCallLabel{Label: "main"},
		MMovRegReg{Dst: RSP, Src: RBP},
		MPop{Dst: RBP},
		MRet{},
	}
}

// link lays every encoded function consecutively into one .text blob,
// resolves inter-function CallFixups now that every function's offset
// is known, lays the string pool and vtables into .data resolving
// DataFixups and the vtable entries' function pointers, builds the
// import table from whichever externals were actually called, and
// hands the assembled pieces to BuildPE.
func link(mod *Module, encoded []*EncodedFunc) ([]byte, error) {
	text, offsets := layoutText(encoded)

	data, dataLabelOffset := layoutData(mod, offsets)

	if err := patchCallFixups(text, encoded, offsets); err != nil {
		return nil, err
	}
	patchDataFixups(text, encoded, dataLabelOffset)

	imports, textFixups, err := buildImports(encoded, offsets)
	if err != nil {
		return nil, err
	}

	return BuildPE(text, data, imports, textFixups)
}

func layoutText(encoded []*EncodedFunc) ([]byte, map[string]int) {
	var text []byte
	offsets := map[string]int{}
	for _, enc := range encoded {
		offsets[enc.Name] = len(text)
		text = append(text, enc.Code...)
	}
	return text, offsets
}

// layoutData places the interned string pool and every vtable into
// one .data blob, each at an offset recorded by label so DataFixups
// (lea-to-label) and vtable function-pointer slots can be patched.
func layoutData(mod *Module, textOffsets map[string]int) ([]byte, map[string]int) {
	var data []byte
	offset := map[string]int{}

	for i, s := range mod.Strings.Order {
		label := mod.Strings.LabelFor(i)
		offset[label] = len(data)
		data = append(data, []byte(s)...)
		data = append(data, 0)
	}
	for len(data)%8 != 0 {
		data = append(data, 0)
	}

	for _, vt := range mod.VTables {
		offset[vt.Label] = len(data)
		for _, slot := range vt.Slots {
			implOff, ok := textOffsets[slot.Impl]
			var va uint64
			if ok {
				va = imageBase + entryRVA + uint64(implOff)
			}
			data = append(data, le64Bytes(va)...)
		}
	}
	return data, offset
}

func le64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func patchCallFixups(text []byte, encoded []*EncodedFunc, offsets map[string]int) error {
	for _, enc := range encoded {
		base := offsets[enc.Name]
		for _, fx := range enc.Calls {
			targetOff, ok := offsets[fx.Target]
			if !ok {
				return abort(Diagnostic{Code: "E-IR-005", Message: "call to undefined function " + fx.Target})
			}
			abs := base + fx.Offset
			ripAfter := base + fx.Offset + 4 // E8 rel32: RIP is the next instruction
			rel := int32(targetOff - ripAfter)
			putLE32(text[abs:abs+4], uint32(rel))
		}
	}
	return nil
}

// patchDataFixups resolves lea-to-label displacements against .text's
// base RVA (0x1000) plus the function's offset within the combined
// blob, and .data's base RVA, computed the same way BuildPE lays
// .data out (immediately after .text, section-aligned).
func patchDataFixups(text []byte, encoded []*EncodedFunc, dataLabelOffset map[string]int) {
	dataRVA := DataSectionRVA(len(text))
	var totalOffset int
	for _, enc := range encoded {
		funcBase := totalOffset
		for _, fx := range enc.Data {
			off, ok := dataLabelOffset[fx.Label]
			if !ok {
				continue
			}
			abs := funcBase + fx.Offset
			ripAfter := entryRVA + funcBase + fx.Offset + 4
			target := int(dataRVA) + off
			rel := int32(target - ripAfter)
			putLE32(text[abs:abs+4], uint32(rel))
		}
		totalOffset += len(enc.Code)
	}
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// buildImports collects every ImportFixup's external symbol across
// every function, binds it to a real DLL!export via externalBindings,
// and produces both the deterministic ImportTable (DLLs sorted, one
// symbol list each) and the flattened per-offset TextImportFixup list
// BuildPE patches into the combined .text.
func buildImports(encoded []*EncodedFunc, offsets map[string]int) (*ImportTable, []TextImportFixup, error) {
	seen := map[string]bool{} // dll!export already added to its DLL's symbol list
	dllOf := map[string][]string{}
	var dlls []string
	var textFixups []TextImportFixup

	for _, enc := range encoded {
		base := offsets[enc.Name]
		for _, fx := range enc.Imports {
			bind, ok := externalBindings[fx.Symbol]
			if !ok {
				return nil, nil, abort(Diagnostic{Code: "E-PE-001", Message: "no DLL binding for external " + fx.Symbol})
			}
			key := bind.dll + "!" + bind.export
			if !seen[key] {
				seen[key] = true
				if _, ok := dllOf[bind.dll]; !ok {
					dlls = append(dlls, bind.dll)
				}
				dllOf[bind.dll] = append(dllOf[bind.dll], bind.export)
			}
			textFixups = append(textFixups, TextImportFixup{Offset: base + fx.Offset, Symbol: bind.export})
		}
	}
	if len(dlls) == 0 {
		return nil, nil, nil
	}
	sort.Strings(dlls)
	for _, dll := range dlls {
		sort.Strings(dllOf[dll])
	}
	return &ImportTable{DLLs: dlls, Symbols: dllOf}, textFixups, nil
}
