package mfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manyLiveTemps builds a function with 20 temporaries all live at once
// (each loaded before any of them is consumed), forcing the allocator
// past its 13 allocatable colors.
func manyLiveTemps(n int) *Function {
	var instrs []Instr
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = "t" + string(rune('a'+i))
		instrs = append(instrs, ILoadConst{Value: int64(i), Result: names[i]})
	}
	sum := names[0]
	for i := 1; i < n; i++ {
		next := "s" + string(rune('a'+i))
		instrs = append(instrs, IBinOp{Kind: OpAdd, Left: sum, Right: names[i], Result: next})
		sum = next
	}
	instrs = append(instrs, IReturn{Value: sum})
	return &Function{Name: "f", Instrs: append([]Instr{IEnter{N: 0}}, instrs...)}
}

func TestAllocateSpillsUnderRegisterPressure(t *testing.T) {
	fn := manyLiveTemps(20)
	alloc := Allocate(fn)

	assert.GreaterOrEqual(t, len(alloc.SpillSlot), 6, "20 simultaneously live temps must not all fit in 13 colors")
	assert.Greater(t, alloc.FrameSize, int32(0))

	for name := range alloc.SpillSlot {
		_, alsoColored := alloc.Reg[name]
		assert.False(t, alsoColored, "a spilled temp must not also carry a register color")
	}
}

func TestSelectSpillProducesLoadStoreAroundScratch(t *testing.T) {
	fn := manyLiveTemps(20)
	alloc := Allocate(fn)
	instrs, err := Select(nil, fn, alloc)
	require.NoError(t, err)

	var sawSpillLoad, sawSpillStore bool
	for _, ins := range instrs {
		switch v := ins.(type) {
		case MMovRegMem:
			if v.Dst == R11 && v.Mem.Base == RBP {
				sawSpillLoad = true
			}
		case MMovMemReg:
			if v.Mem.Base == RBP {
				sawSpillStore = true
			}
		}
	}
	assert.True(t, sawSpillLoad, "a spilled temp's use must reload it into the shared scratch register")
	assert.True(t, sawSpillStore, "a spilled temp's definition must be stored to its frame slot")
}

func TestAllocateNeverColorsWithR11(t *testing.T) {
	fn := manyLiveTemps(20)
	alloc := Allocate(fn)
	for name, r := range alloc.Reg {
		assert.NotEqual(t, R11, r, "temp %s must not be colored with the scratch register", name)
	}
}

func TestSelectLoadsUpToFourIntParamsFromWindowsCallingConvention(t *testing.T) {
	fn := &Function{Name: "add", Instrs: []Instr{
		IEnter{N: 2},
		IStoreParam{Index: 0, Name: "a"},
		IStoreParam{Index: 1, Name: "b"},
		ILoad{Src: "a", Result: "t0"},
		ILoad{Src: "b", Result: "t1"},
		IBinOp{Kind: OpAdd, Left: "t0", Right: "t1", Result: "t2"},
		IReturn{Value: "t2"},
	}}
	alloc := Allocate(fn)
	instrs, err := Select(nil, fn, alloc)
	require.NoError(t, err)

	var paramStores int
	for _, ins := range instrs {
		if mv, ok := ins.(MMovMemReg); ok && (mv.Src == RCX || mv.Src == RDX) {
			paramStores++
		}
	}
	assert.Equal(t, 2, paramStores, "both parameters must be stored from their Windows x64 argument registers")

	require.Len(t, instrs, len(instrs))
	assert.IsType(t, MPush{}, instrs[0])
	assert.Equal(t, MRet{}, instrs[len(instrs)-1])
}

func TestAllocateSingleTempGetsARegisterNotASpill(t *testing.T) {
	fn := &Function{Name: "f", Instrs: []Instr{
		IEnter{N: 0},
		ILoadConst{Value: 1, Result: "t0"},
		IReturn{Value: "t0"},
	}}
	alloc := Allocate(fn)
	assert.Empty(t, alloc.SpillSlot)
	_, ok := alloc.Reg["t0"]
	assert.True(t, ok)
}
