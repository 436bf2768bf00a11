package mfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileToModule(t *testing.T, src string) *Module {
	t.Helper()
	diags := NewDiagnostics()
	lex := NewLexer("test.mf", []byte(src), diags)
	p := NewParser("test.mf", lex.Lex(), diags)
	prog := p.ParseProgram()
	require.False(t, prog.Errors, "parse errors: %v", diags.All())

	analysis := Analyze(prog, diags)
	require.False(t, diags.HasErrors(), "semantic errors: %v", diags.All())

	mod, err := GenerateIR(prog, analysis)
	require.NoError(t, err)
	return mod
}

func findFunc(mod *Module, name string) *Function {
	for _, fn := range mod.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

func TestGenerateIRVirtualDispatchSharesSlot(t *testing.T) {
	mod := compileToModule(t, `
class B {
  fn greet() -> i32 { return 1; }
}
class D extends B {
  fn greet() -> i32 { return 2; }
}
fn main() -> i32 { return 0; }
`)

	vtB, ok := mod.VTableFor("B")
	require.True(t, ok)
	vtD, ok := mod.VTableFor("D")
	require.True(t, ok)

	slotB := vtB.indexOf("greet")
	slotD := vtD.indexOf("greet")
	require.GreaterOrEqual(t, slotB, 0)
	assert.Equal(t, slotB, slotD, "an override must keep its parent's vtable slot index")
	assert.Equal(t, "D_greet", vtD.Slots[slotD].Impl)
	assert.Equal(t, "B_greet", vtB.Slots[slotB].Impl)
}

func TestGenerateIRFieldAssignmentThroughObjectIsRejected(t *testing.T) {
	diags := NewDiagnostics()
	lex := NewLexer("test.mf", []byte(`
class C {
  x: i32;
}
fn main() -> i32 {
  let c: C = new C();
  c.x = 1;
  return 0;
}
`), diags)
	p := NewParser("test.mf", lex.Lex(), diags)
	prog := p.ParseProgram()
	require.False(t, prog.Errors)

	analysis := Analyze(prog, diags)
	require.False(t, diags.HasErrors())

	_, err := GenerateIR(prog, analysis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E-IR-003")
}

func TestGenerateIRRangeForDesugarsToJumpsAndCompare(t *testing.T) {
	mod := compileToModule(t, `
fn main() -> i32 {
  for i in range(0, 10) {
  }
  return 0;
}
`)
	fn := findFunc(mod, "main")
	require.NotNil(t, fn)

	var sawCompare, sawJump, sawBranch bool
	for _, ins := range fn.Instrs {
		switch v := ins.(type) {
		case IBinOp:
			if v.Kind == OpLt {
				sawCompare = true
			}
		case IJump:
			sawJump = true
		case IBranchFalse:
			sawBranch = true
		}
	}
	assert.True(t, sawCompare, "range loop must lower to a bound comparison")
	assert.True(t, sawJump, "range loop must lower to a step-back jump")
	assert.True(t, sawBranch, "range loop must lower to a branch_false on the comparison")
}

func TestGenerateIRRaiseCallsReservedExternal(t *testing.T) {
	mod := compileToModule(t, `
fn main() -> i32 {
  raise 1;
}
`)
	assert.True(t, mod.IsExternal("__mf_raise"))
	fn := findFunc(mod, "main")
	require.NotNil(t, fn)

	var sawRaiseCall bool
	for _, ins := range fn.Instrs {
		if c, ok := ins.(ICall); ok && c.Func == "__mf_raise" {
			sawRaiseCall = true
		}
	}
	assert.True(t, sawRaiseCall)
}

func TestGenerateIRDefaultInitHasNoFieldStore(t *testing.T) {
	mod := compileToModule(t, `
class C {
  x: i32;
}
fn main() -> i32 { return 0; }
`)
	init := findFunc(mod, "C_init")
	require.NotNil(t, init, "a class with no explicit init method gets a synthesized default one")
	for _, ins := range init.Instrs {
		_, isGetField := ins.(IGetField)
		assert.False(t, isGetField, "default init must not fabricate a field-store op from get_field")
	}
}
