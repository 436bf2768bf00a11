package mfc

import "encoding/binary"

// Windows PE32+ layout constants (spec.md §4.8).
const (
	imageBase     = uint64(0x140000000)
	sectionAlign  = 0x1000
	fileAlign     = 0x200
	entryRVA      = 0x1000 // .text always starts the section layout
	peMagicPE32P  = 0x20B
	subsystemCUI  = 3
	imageFileDLLChars = 0x0160 // NX_COMPAT | DYNAMIC_BASE | HIGH_ENTROPY_VA
)

// ImportTable is the compiler's dll -> ordered symbol list, in a
// caller-fixed DLL order so import-directory bytes are reproducible
// across runs (spec.md §5 determinism).
type ImportTable struct {
	DLLs    []string
	Symbols map[string][]string // dll -> symbol names, in order
}

func (t *ImportTable) empty() bool { return t == nil || len(t.DLLs) == 0 }

// TextImportFixup marks a 4-byte RIP-relative displacement field
// inside the .text blob (at Offset) that must be patched to point at
// Symbol's IAT slot once the import directory's layout is known —
// produced by x64_encoder.go's EncodeFunction as an ImportFixup and
// threaded through by compiler.go.
type TextImportFixup struct {
	Offset int
	Symbol string
}

func align(n, to uint32) uint32 { return (n + to - 1) / to * to }

// DataSectionRVA is the RVA .data (or, absent a .data section, the
// RVA at which .idata would start) lands at given .text's final
// length — the same formula BuildPE uses internally to lay sections
// out. compiler.go uses it to resolve DataFixups before the sections
// are assembled.
func DataSectionRVA(textLen int) uint32 {
	return align(uint32(entryRVA+textLen), sectionAlign)
}

// BuildPE assembles a minimal Windows CUI PE32+ executable from a
// .text blob (entry at offset 0), an optional .data blob, and an
// import table, per spec.md §4.8. It returns the whole image, whose
// .text is a copy of text with every fixup's displacement resolved —
// the input slice is not mutated.
func BuildPE(text []byte, data []byte, imports *ImportTable, fixups []TextImportFixup) ([]byte, error) {
	headerSize := dosStubSize + peHeaderSize(sectionCount(data, imports))
	textRawOff := align(uint32(headerSize), fileAlign)
	textRVA := uint32(entryRVA)
	textRawSize := align(uint32(len(text)), fileAlign)

	dataRVA := align(textRVA+uint32(len(text)), sectionAlign)
	dataRawOff := textRawOff + textRawSize
	dataRawSize := align(uint32(len(data)), fileAlign)

	idataRVA := dataRVA
	idataRawOff := dataRawOff
	if len(data) > 0 {
		idataRVA = align(dataRVA+uint32(len(data)), sectionAlign)
		idataRawOff = dataRawOff + dataRawSize
	}

	var idataBytes []byte
	var iatRVA map[string]uint32
	if !imports.empty() {
		idataBytes, iatRVA = buildImportDirectory(imports, idataRVA)
	}

	patched := append([]byte(nil), text...)
	for _, fx := range fixups {
		slot, ok := iatRVA[fx.Symbol]
		if !ok {
			return nil, abort(Diagnostic{Code: "E-PE-002", Message: "unresolved import symbol " + fx.Symbol})
		}
		ripAfterCall := textRVA + uint32(fx.Offset) + 4
		rel := int32(slot) - int32(ripAfterCall)
		binary.LittleEndian.PutUint32(patched[fx.Offset:fx.Offset+4], uint32(rel))
	}

	idataRawSize := align(uint32(len(idataBytes)), fileAlign)

	out := make([]byte, 0, idataRawOff+idataRawSize)
	out = append(out, buildHeaders(patched, data, idataBytes, textRVA, textRawOff, textRawSize,
		dataRVA, dataRawOff, dataRawSize, idataRVA, idataRawOff, idataRawSize, !imports.empty())...)

	out = padTo(out, int(textRawOff))
	out = append(out, patched...)
	out = padTo(out, int(textRawOff+textRawSize))
	if len(data) > 0 {
		out = append(out, data...)
		out = padTo(out, int(dataRawOff+dataRawSize))
	}
	if !imports.empty() {
		out = append(out, idataBytes...)
		out = padTo(out, int(idataRawOff+idataRawSize))
	}
	return out, nil
}

func padTo(b []byte, size int) []byte {
	for len(b) < size {
		b = append(b, 0)
	}
	return b
}

func sectionCount(data []byte, imports *ImportTable) int {
	n := 1 // .text always present
	if len(data) > 0 {
		n++
	}
	if !imports.empty() {
		n++
	}
	return n
}

const dosStubSize = 0x40 // room for the MZ header + e_lfanew; stub code is inert

const (
	peSigAndCOFF         = 4 + 20
	sizeOfOptionalHeader = 112 + 16*8 // fixed fields + 16 data directories
	sectionHeaderSize    = 40
)

func peHeaderSize(numSections int) int {
	return peSigAndCOFF + sizeOfOptionalHeader + numSections*sectionHeaderSize
}

// buildHeaders writes the DOS header/stub, PE signature, COFF header,
// PE32+ optional header, and section table.
func buildHeaders(text, data, idata []byte, textRVA, textRawOff, textRawSize,
	dataRVA, dataRawOff, dataRawSize, idataRVA, idataRawOff, idataRawSize uint32, hasImports bool) []byte {

	var h []byte
	dos := make([]byte, dosStubSize)
	dos[0], dos[1] = 'M', 'Z'
	lfanew := uint32(dosStubSize)
	binary.LittleEndian.PutUint32(dos[0x3C:0x40], lfanew)
	h = append(h, dos...)

	h = append(h, 'P', 'E', 0, 0)

	numSections := uint16(1)
	if len(data) > 0 {
		numSections++
	}
	if hasImports {
		numSections++
	}
	coff := make([]byte, 20)
	binary.LittleEndian.PutUint16(coff[0:2], 0x8664) // IMAGE_FILE_MACHINE_AMD64
	binary.LittleEndian.PutUint16(coff[2:4], numSections)
	binary.LittleEndian.PutUint32(coff[4:8], 0) // TimeDateStamp: zero for reproducible builds
	binary.LittleEndian.PutUint16(coff[16:18], uint16(sizeOfOptionalHeader))
	binary.LittleEndian.PutUint16(coff[18:20], 0x0022) // EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE
	h = append(h, coff...)

	opt := make([]byte, sizeOfOptionalHeader)
	binary.LittleEndian.PutUint16(opt[0:2], peMagicPE32P)
	opt[2], opt[3] = 0, 0 // linker version
	binary.LittleEndian.PutUint32(opt[4:8], uint32(len(text)))  // SizeOfCode
	binary.LittleEndian.PutUint32(opt[8:12], uint32(len(data))) // SizeOfInitializedData
	binary.LittleEndian.PutUint32(opt[16:20], textRVA)          // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(opt[20:24], textRVA)          // BaseOfCode
	binary.LittleEndian.PutUint64(opt[24:32], imageBase)
	binary.LittleEndian.PutUint32(opt[32:36], sectionAlign)
	binary.LittleEndian.PutUint32(opt[36:40], fileAlign)
	binary.LittleEndian.PutUint16(opt[40:42], 6) // MajorOperatingSystemVersion
	binary.LittleEndian.PutUint16(opt[48:50], 6) // MajorSubsystemVersion

	imageEnd := idataRVA + idataRawSize
	if !hasImports {
		imageEnd = dataRVA + dataRawSize
		if len(data) == 0 {
			imageEnd = textRVA + textRawSize
		}
	}
	binary.LittleEndian.PutUint32(opt[56:60], align(imageEnd, sectionAlign)) // SizeOfImage
	binary.LittleEndian.PutUint32(opt[60:64], align(uint32(dosStubSize+peHeaderSize(int(numSections))), fileAlign)) // SizeOfHeaders
	binary.LittleEndian.PutUint16(opt[68:70], subsystemCUI)
	binary.LittleEndian.PutUint16(opt[70:72], imageFileDLLChars)
	binary.LittleEndian.PutUint64(opt[72:80], 0x100000) // SizeOfStackReserve
	binary.LittleEndian.PutUint64(opt[80:88], 0x1000)   // SizeOfStackCommit
	binary.LittleEndian.PutUint64(opt[88:96], 0x100000) // SizeOfHeapReserve
	binary.LittleEndian.PutUint64(opt[96:104], 0x1000)  // SizeOfHeapCommit
	binary.LittleEndian.PutUint32(opt[108:112], 16)      // NumberOfRvaAndSizes

	if hasImports {
		// DataDirectory[1] = Import Table (DataDirectory[0] is Export, at 112)
		binary.LittleEndian.PutUint32(opt[120:124], idataRVA)
		binary.LittleEndian.PutUint32(opt[124:128], uint32(len(idata)))
	}
	h = append(h, opt...)

	writeSection := func(name string, rva, vsize, rawOff, rawSize, chars uint32) {
		sec := make([]byte, 40)
		copy(sec[0:8], name)
		binary.LittleEndian.PutUint32(sec[8:12], vsize)
		binary.LittleEndian.PutUint32(sec[12:16], rva)
		binary.LittleEndian.PutUint32(sec[16:20], rawSize)
		binary.LittleEndian.PutUint32(sec[20:24], rawOff)
		binary.LittleEndian.PutUint32(sec[36:40], chars)
		h = append(h, sec...)
	}
	writeSection(".text", textRVA, uint32(len(text)), textRawOff, textRawSize, 0x60000020)
	if len(data) > 0 {
		writeSection(".data", dataRVA, uint32(len(data)), dataRawOff, dataRawSize, 0xC0000040)
	}
	if hasImports {
		writeSection(".idata", idataRVA, uint32(len(idata)), idataRawOff, idataRawSize, 0xC0000040)
	}
	return h
}

// buildImportDirectory lays out the Import Directory Table, one ILT
// and IAT per DLL, DLL name strings, and Hint/Name entries, all within
// the .idata section starting at base RVA idataRVA (spec.md §4.8). It
// returns the section bytes and each imported symbol's IAT slot RVA,
// which the caller uses to resolve MCallImport's displacement.
func buildImportDirectory(t *ImportTable, idataRVA uint32) ([]byte, map[string]uint32) {
	dirSize := uint32((len(t.DLLs) + 1) * 20)
	cursor := idataRVA + dirSize

	type dllLayout struct {
		iltRVA, iatRVA, nameRVA uint32
		hintNameRVAs            []uint32
		symbols                 []string
	}
	layouts := make([]dllLayout, len(t.DLLs))
	for i, dll := range t.DLLs {
		syms := t.Symbols[dll]
		iltRVA := cursor
		cursor += uint32((len(syms) + 1) * 8)
		iatRVA := cursor
		cursor += uint32((len(syms) + 1) * 8)
		var hintRVAs []uint32
		for _, sym := range syms {
			hintRVAs = append(hintRVAs, cursor)
			entryLen := 2 + len(sym) + 1
			if entryLen%2 != 0 {
				entryLen++
			}
			cursor += uint32(entryLen)
		}
		nameRVA := cursor
		cursor += uint32(len(dll) + 1)
		layouts[i] = dllLayout{iltRVA: iltRVA, iatRVA: iatRVA, nameRVA: nameRVA, hintNameRVAs: hintRVAs, symbols: syms}
	}

	total := cursor - idataRVA
	buf := make([]byte, total)
	w := func(off uint32, v uint32) { binary.LittleEndian.PutUint32(buf[off-idataRVA:off-idataRVA+4], v) }
	w64 := func(off uint32, v uint64) { binary.LittleEndian.PutUint64(buf[off-idataRVA:off-idataRVA+8], v) }

	iatSlots := map[string]uint32{}
	for i, dll := range t.DLLs {
		l := layouts[i]
		dirOff := idataRVA + uint32(i*20)
		w(dirOff+0, l.iltRVA)
		w(dirOff+4, 0) // TimeDateStamp
		w(dirOff+8, 0) // ForwarderChain
		w(dirOff+12, l.nameRVA)
		w(dirOff+16, l.iatRVA)

		for j := range l.symbols {
			w64(l.iltRVA+uint32(j*8), uint64(l.hintNameRVAs[j]))
			w64(l.iatRVA+uint32(j*8), uint64(l.hintNameRVAs[j]))
			iatSlots[l.symbols[j]] = l.iatRVA + uint32(j*8)
		}
		w64(l.iltRVA+uint32(len(l.symbols)*8), 0)
		w64(l.iatRVA+uint32(len(l.symbols)*8), 0)

		for j, sym := range l.symbols {
			off := l.hintNameRVAs[j] - idataRVA
			// hint (uint16, always 0: no ordinal hint cached) then name
			buf[off] = 0
			buf[off+1] = 0
			copy(buf[off+2:], sym)
		}
		copy(buf[l.nameRVA-idataRVA:], dll)
	}
	// terminator directory entry: already zero from make([]byte, ...)

	return buf, iatSlots
}
