package mfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFunctionPrologueAndReturn(t *testing.T) {
	enc, err := EncodeFunction("f", []MInstr{
		MPush{Src: RBP},
		MMovRegReg{Dst: RBP, Src: RSP},
		MMovRegImm{Dst: RAX, Imm: 0},
		MMovRegReg{Dst: RSP, Src: RBP},
		MPop{Dst: RBP},
		MRet{},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0x48, 0x89, 0xE5}, enc.Code[:4], "prologue must be push rbp; mov rbp,rsp")
	assert.Equal(t, byte(0xC3), enc.Code[len(enc.Code)-1])
}

func TestEncodeFunctionLocalJumpFixup(t *testing.T) {
	enc, err := EncodeFunction("f", []MInstr{
		MJmp{Label: "L0"},
		MMovRegImm{Dst: RAX, Imm: 1}, // skipped
		MLabelDef{Name: "L0"},
		MMovRegImm{Dst: RAX, Imm: 2},
		MRet{},
	})
	require.NoError(t, err)
	assert.Empty(t, enc.Calls, "a label defined in the same function must resolve locally")
	// jmp rel32 is 5 bytes (E9 + rel32); the skipped mov is 7 bytes.
	rel := int32(enc.Code[1]) | int32(enc.Code[2])<<8 | int32(enc.Code[3])<<16 | int32(enc.Code[4])<<24
	assert.Equal(t, int32(7), rel)
}

func TestEncodeFunctionCrossFunctionCallDeferred(t *testing.T) {
	enc, err := EncodeFunction("caller", []MInstr{
		MCallLabel{Label: "callee"},
		MRet{},
	})
	require.NoError(t, err)
	require.Len(t, enc.Calls, 1)
	assert.Equal(t, "callee", enc.Calls[0].Target)
	assert.Equal(t, 1, enc.Calls[0].Offset) // E8 is one byte, disp32 follows immediately
}

func TestEncodeFunctionImportCall(t *testing.T) {
	enc, err := EncodeFunction("f", []MInstr{
		MCallImport{Symbol: "malloc"},
		MRet{},
	})
	require.NoError(t, err)
	require.Len(t, enc.Imports, 1)
	assert.Equal(t, "malloc", enc.Imports[0].Symbol)
	assert.Equal(t, []byte{0xFF, 0x15}, enc.Code[:2])
}

func TestEncodeFunctionLeaRecordsDataFixup(t *testing.T) {
	enc, err := EncodeFunction("f", []MInstr{
		MLea{Dst: RAX, Mem: Mem{Label: "Lstr0"}},
		MRet{},
	})
	require.NoError(t, err)
	require.Len(t, enc.Data, 1)
	assert.Equal(t, "Lstr0", enc.Data[0].Label)
}

func TestSetccEveryCondition(t *testing.T) {
	for _, c := range []CondCode{CondEq, CondNe, CondLt, CondLe, CondGt, CondGe} {
		enc, err := EncodeFunction("f", []MInstr{
			MCmpRegReg{A: RAX, B: RCX},
			MSetcc{Cond: c, Dst: RAX},
			MRet{},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, enc.Code)
	}
}

func TestMovRegImmChoosesShortFormWhenImmFitsInt32(t *testing.T) {
	short, err := EncodeFunction("f", []MInstr{MMovRegImm{Dst: RAX, Imm: 14}, MRet{}})
	require.NoError(t, err)
	long, err := EncodeFunction("f", []MInstr{MMovRegImm{Dst: RAX, Imm: 1 << 40}, MRet{}})
	require.NoError(t, err)
	assert.Len(t, short.Code, 7+1) // 7-byte mov + ret
	assert.Len(t, long.Code, 10+1) // 10-byte mov + ret
}
