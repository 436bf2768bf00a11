package mfc

import "encoding/binary"

// ImportFixup marks a `call qword ptr [rip+disp32]` whose 4-byte
// displacement the PE writer patches once the import directory's
// layout (and therefore Symbol's IAT slot RVA) is known.
type ImportFixup struct {
	Offset int // byte offset, within the encoded function, of the disp32 field
	Symbol string
}

// CallFixup marks an `E8 rel32` call whose target is another
// function, not a label local to this one. EncodeFunction cannot
// resolve it — only the orchestration step that lays out every
// function's bytes consecutively in .text knows each function's final
// offset — so it is left for that step (compiler.go) to patch.
type CallFixup struct {
	Offset int // byte offset, within this function's Code, of the disp32 field
	Target string // callee function name
}

// DataFixup marks a `lea reg, [rip+disp32]` whose target is a .data
// symbol (an interned string or a vtable) rather than code. Only the
// orchestration step that lays out .data alongside the final .text
// knows the distance, so it patches this once that layout exists.
type DataFixup struct {
	Offset int // byte offset, within this function's Code, of the disp32 field
	Label  string
}

// EncodedFunc is one function's machine code plus the bookkeeping the
// PE writer needs to relocate it into .text.
type EncodedFunc struct {
	Name    string
	Code    []byte
	Imports []ImportFixup
	Calls   []CallFixup
	Data    []DataFixup
}

type labelFixup struct {
	offset int // position of the disp32 field
	label  string
	instrEnd int // offset immediately after the disp32 field (the base for rel32)
}

// EncodeFunction performs the two-pass encode of spec.md §4.7: pass 1
// computes every instruction's size (and therefore every label's
// offset); pass 2 emits bytes and resolves same-function label
// fixups to little-endian rel32 displacements. MCallLabel targets
// that name another function rather than a local label are reported
// as unresolved CallFixups instead of erroring.
func EncodeFunction(name string, instrs []MInstr) (*EncodedFunc, error) {
	labels := map[string]int{}
	cursor := 0
	for _, ins := range instrs {
		if ld, ok := ins.(MLabelDef); ok {
			labels[ld.Name] = cursor
			continue
		}
		cursor += sizeOfM(ins)
	}

	var code []byte
	var fixups []labelFixup
	var imports []ImportFixup
	var dataFixups []DataFixup
	for _, ins := range instrs {
		switch i := ins.(type) {
		case MLabelDef:
			// carries no bytes
		case MPush:
			code = emitPush(code, i.Src)
		case MPop:
			code = emitPop(code, i.Dst)
		case MMovRegImm:
			code = emitMovRegImm(code, i.Dst, i.Imm)
		case MMovRegReg:
			code = emitMovRegReg(code, i.Dst, i.Src)
		case MMovRegMem:
			code = emitMovRegMem(code, i.Dst, i.Mem)
		case MMovMemReg:
			code = emitMovMemReg(code, i.Mem, i.Src)
		case MLea:
			code = emitLea(code, i.Dst, i.Mem)
			if i.Mem.Label != "" {
				dataFixups = append(dataFixups, DataFixup{Offset: len(code) - 4, Label: i.Mem.Label})
			}
		case MCallLabel:
			code, fixups = emitCallLabel(code, fixups, i.Label)
		case MCallImport:
			before := len(code)
			code = append(code, 0xFF, 0x15)
			code = append(code, 0, 0, 0, 0)
			imports = append(imports, ImportFixup{Offset: before + 2, Symbol: i.Symbol})
		case MCallReg:
			code = emitCallReg(code, i.Reg)
		case MRet:
			code = append(code, 0xC3)
		case MAddImm:
			code = emitAluImm(code, 0x00, i.Dst, i.Imm)
		case MSubImm:
			code = emitAluImm(code, 0x05, i.Dst, i.Imm)
		case MXorRegReg:
			code = emitAluRegReg(code, 0x31, i.Dst, i.Src)
		case MAddRegReg:
			code = emitAluRegReg(code, 0x01, i.Dst, i.Src)
		case MSubRegReg:
			code = emitAluRegReg(code, 0x29, i.Dst, i.Src)
		case MIMulRegReg:
			code = emitIMul(code, i.Dst, i.Src)
		case MCqo:
			code = append(code, 0x48, 0x99)
		case MIDivReg:
			code = emitIDiv(code, i.Reg)
		case MCmpRegReg:
			code = emitAluRegReg(code, 0x39, i.A, i.B)
		case MSetcc:
			code = emitSetcc(code, i.Cond, i.Dst)
		case MJmp:
			code, fixups = emitJmp(code, fixups, i.Label)
		case MJz:
			code, fixups = emitJz(code, i.Cond, fixups, i.Label)
		default:
			return nil, abort(Diagnostic{Code: "E-IR-003", Message: "unsupported machine instruction shape"})
		}
	}

	var calls []CallFixup
	for _, fx := range fixups {
		target, ok := labels[fx.label]
		if !ok {
			// Not a local label: must be a call to another function,
			// resolved once the module-wide layout is known.
			calls = append(calls, CallFixup{Offset: fx.offset, Target: fx.label})
			continue
		}
		rel := int32(target - fx.instrEnd)
		binary.LittleEndian.PutUint32(code[fx.offset:fx.offset+4], uint32(rel))
	}

	return &EncodedFunc{Name: name, Code: code, Imports: imports, Calls: calls, Data: dataFixups}, nil
}

// ---- sizing (pass 1) ----

func sizeOfM(ins MInstr) int {
	switch i := ins.(type) {
	case MPush:
		return pushPopSize(i.Src)
	case MPop:
		return pushPopSize(i.Dst)
	case MMovRegImm:
		if fitsInt32(i.Imm) {
			return 7 // REX.W + C7 /0 + ModRM + imm32
		}
		return 10 // REX.W + B8+r + imm64
	case MMovRegReg:
		return 3 // REX.W + 89 + ModRM
	case MMovRegMem:
		return memInstrSize(i.Mem)
	case MMovMemReg:
		return memInstrSize(i.Mem)
	case MLea:
		return memInstrSize(i.Mem)
	case MCallLabel:
		return 5 // E8 + rel32
	case MCallImport:
		return 6 // FF 15 + disp32
	case MCallReg:
		return callRegSize(i.Reg)
	case MRet:
		return 1
	case MAddImm, MSubImm:
		return 7 // REX.W + 81 /x + ModRM + imm32
	case MXorRegReg, MAddRegReg, MSubRegReg, MCmpRegReg:
		return 3
	case MIMulRegReg:
		return 4 // REX.W + 0F AF + ModRM
	case MCqo:
		return 2
	case MIDivReg:
		return 3 // REX.W + F7 /7 + ModRM
	case MSetcc:
		size := 7 // 0F 9x + ModRM, then REX.W + 0F B6 + ModRM (movzx)
		if i.Dst >= RSP {
			size++ // leading REX before the setcc byte itself
		}
		return size
	case MJmp:
		return 5 // E9 + rel32
	case MJz:
		return 9 // REX.W + 85 + ModRM (test) + 0F 84 + rel32 (jz)
	case MLabelDef:
		return 0
	default:
		return 0
	}
}

func fitsInt32(v int64) bool { return v >= -2147483648 && v <= 2147483647 }

func pushPopSize(r Reg) int {
	if r.needsREX() {
		return 2
	}
	return 1
}

func callRegSize(r Reg) int {
	if r.needsREX() {
		return 3
	}
	return 2
}

func memInstrSize(m Mem) int {
	// REX + opcode + ModRM (+SIB) (+disp)
	size := 3
	if m.HasIndex || (m.HasBase && m.Base&0x7 == 4) {
		size++ // SIB byte
	}
	switch {
	case m.Label != "":
		size += 4
	case m.Disp == 0 && m.HasBase && m.Base&0x7 != 5:
		// no displacement needed
	case fitsInt8(m.Disp):
		size += 1
	default:
		size += 4
	}
	return size
}

func fitsInt8(v int32) bool { return v >= -128 && v <= 127 }

// ---- emission (pass 2) ----

func restBit(r Reg) byte {
	if r.needsREX() {
		return 1
	}
	return 0
}

func rex(w, r, x, b byte) byte {
	return 0x40 | w<<3 | r<<2 | x<<1 | b
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | (rm & 7) }

func emitPush(code []byte, r Reg) []byte {
	if r.needsREX() {
		code = append(code, rex(0, 0, 0, restBit(r)))
	}
	return append(code, 0x50+r.low3())
}

func emitPop(code []byte, r Reg) []byte {
	if r.needsREX() {
		code = append(code, rex(0, 0, 0, restBit(r)))
	}
	return append(code, 0x58+r.low3())
}

func emitMovRegImm(code []byte, dst Reg, imm int64) []byte {
	if fitsInt32(imm) {
		code = append(code, rex(1, 0, 0, restBit(dst)))
		code = append(code, 0xC7, modrm(3, 0, dst.low3()))
		code = append(code, le32(int32(imm))...)
		return code
	}
	code = append(code, rex(1, 0, 0, restBit(dst)))
	code = append(code, 0xB8+dst.low3())
	code = append(code, le64(uint64(imm))...)
	return code
}

func emitMovRegReg(code []byte, dst, src Reg) []byte {
	code = append(code, rex(1, restBit(src), 0, restBit(dst)))
	return append(code, 0x89, modrm(3, src.low3(), dst.low3()))
}

func encodeMemModRM(reg Reg, m Mem) (modByte byte, rmByte byte, sib []byte, disp []byte, rexX, rexB byte) {
	if m.Label != "" {
		// RIP-relative: ModRM.mod=00, rm=101
		return 0, 5, nil, le32(m.Disp), 0, 0
	}
	base := m.Base
	rmByte = base.low3()
	rexB = restBit(base)
	needsSIB := m.HasIndex || base&0x7 == 4
	if needsSIB {
		scale := byte(0)
		switch m.Scale {
		case 2:
			scale = 1
		case 4:
			scale = 2
		case 8:
			scale = 3
		}
		idx := byte(4) // no index
		if m.HasIndex {
			idx = m.Index.low3()
			rexX = restBit(m.Index)
		}
		sib = []byte{scale<<6 | idx<<3 | base.low3()}
		rmByte = 4
	}
	switch {
	case m.Disp == 0 && base&0x7 != 5:
		modByte = 0
	case fitsInt8(m.Disp):
		modByte = 1
		disp = []byte{byte(int8(m.Disp))}
	default:
		modByte = 2
		disp = le32(m.Disp)
	}
	_ = reg
	return modByte, rmByte, sib, disp, rexX, rexB
}

func emitMovRegMem(code []byte, dst Reg, m Mem) []byte {
	modB, rmB, sib, disp, rexX, rexB := encodeMemModRM(dst, m)
	code = append(code, rex(1, restBit(dst), rexX, rexB))
	code = append(code, 0x8B, modrm(modB, dst.low3(), rmB))
	code = append(code, sib...)
	code = append(code, disp...)
	return code
}

func emitMovMemReg(code []byte, m Mem, src Reg) []byte {
	modB, rmB, sib, disp, rexX, rexB := encodeMemModRM(src, m)
	code = append(code, rex(1, restBit(src), rexX, rexB))
	code = append(code, 0x89, modrm(modB, src.low3(), rmB))
	code = append(code, sib...)
	code = append(code, disp...)
	return code
}

func emitLea(code []byte, dst Reg, m Mem) []byte {
	modB, rmB, sib, disp, rexX, rexB := encodeMemModRM(dst, m)
	code = append(code, rex(1, restBit(dst), rexX, rexB))
	code = append(code, 0x8D, modrm(modB, dst.low3(), rmB))
	code = append(code, sib...)
	code = append(code, disp...)
	return code
}

func emitCallReg(code []byte, r Reg) []byte {
	if r.needsREX() {
		code = append(code, rex(0, 0, 0, restBit(r)))
	}
	return append(code, 0xFF, modrm(3, 2, r.low3()))
}

func emitAluImm(code []byte, regExt byte, dst Reg, imm int64) []byte {
	code = append(code, rex(1, 0, 0, restBit(dst)))
	code = append(code, 0x81, modrm(3, regExt, dst.low3()))
	return append(code, le32(int32(imm))...)
}

func emitAluRegReg(code []byte, opcode byte, dst, src Reg) []byte {
	code = append(code, rex(1, restBit(src), 0, restBit(dst)))
	return append(code, opcode, modrm(3, src.low3(), dst.low3()))
}

func emitIMul(code []byte, dst, src Reg) []byte {
	code = append(code, rex(1, restBit(dst), 0, restBit(src)))
	return append(code, 0x0F, 0xAF, modrm(3, dst.low3(), src.low3()))
}

func emitIDiv(code []byte, r Reg) []byte {
	code = append(code, rex(1, 0, 0, restBit(r)))
	return append(code, 0xF7, modrm(3, 7, r.low3()))
}

func emitSetcc(code []byte, cond CondCode, dst Reg) []byte {
	if dst >= RSP { // without REX, SPL/BPL/SIL/DIL would encode AH/CH/DH/BH
		code = append(code, rex(0, 0, 0, restBit(dst)))
	}
	code = append(code, 0x0F, setccOpcode(cond), modrm(3, 0, dst.low3()))
	code = append(code, rex(1, 0, 0, restBit(dst)))
	return append(code, 0x0F, 0xB6, modrm(3, dst.low3(), dst.low3()))
}

func setccOpcode(c CondCode) byte {
	switch c {
	case CondEq:
		return 0x94
	case CondNe:
		return 0x95
	case CondLt:
		return 0x9C
	case CondLe:
		return 0x9E
	case CondGt:
		return 0x9F
	case CondGe:
		return 0x9D
	default:
		return 0x94
	}
}

func emitCallLabel(code []byte, fixups []labelFixup, label string) ([]byte, []labelFixup) {
	code = append(code, 0xE8)
	off := len(code)
	code = append(code, 0, 0, 0, 0)
	fixups = append(fixups, labelFixup{offset: off, label: label, instrEnd: off + 4})
	return code, fixups
}

func emitJmp(code []byte, fixups []labelFixup, label string) ([]byte, []labelFixup) {
	code = append(code, 0xE9)
	off := len(code)
	code = append(code, 0, 0, 0, 0)
	fixups = append(fixups, labelFixup{offset: off, label: label, instrEnd: off + 4})
	return code, fixups
}

func emitJz(code []byte, cond Reg, fixups []labelFixup, label string) ([]byte, []labelFixup) {
	code = append(code, rex(1, restBit(cond), 0, restBit(cond)))
	code = append(code, 0x85, modrm(3, cond.low3(), cond.low3()))
	code = append(code, 0x0F, 0x84)
	off := len(code)
	code = append(code, 0, 0, 0, 0)
	fixups = append(fixups, labelFixup{offset: off, label: label, instrEnd: off + 4})
	return code, fixups
}

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
