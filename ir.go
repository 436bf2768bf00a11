package mfc

import "fmt"

// Op names every IR opcode from the union of the linear generator's
// and the CFG optimizer's opcode sets (spec.md §9, Open Question 1).
type Op int

const (
	OpLabel Op = iota
	OpEnter
	OpLeave
	OpStoreParam
	OpLoad
	OpStore
	OpLoadConst
	OpLoadString
	OpString
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpNot
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpJump
	OpBranchFalse
	OpCall
	OpCallMethod
	OpReturn
	OpReturnVoid
	OpVTable
	OpVTableEntry
	OpVTableMethod
	OpLoadVTable
	OpSetVTable
	OpSizeof
	OpAlloc
	OpGetField
)

var opNames = map[Op]string{
	OpLabel: "label", OpEnter: "enter", OpLeave: "leave",
	OpStoreParam: "store_param", OpLoad: "load", OpStore: "store",
	OpLoadConst: "load_const", OpLoadString: "load_string", OpString: "string",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpAnd: "and", OpOr: "or", OpNot: "not", OpNeg: "neg",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpJump: "jump", OpBranchFalse: "branch_false",
	OpCall: "call", OpCallMethod: "call_method",
	OpReturn: "return", OpReturnVoid: "return_void",
	OpVTable: "vtable", OpVTableEntry: "vtable_entry", OpVTableMethod: "vtable_method",
	OpLoadVTable: "load_vtable", OpSetVTable: "set_vtable",
	OpSizeof: "sizeof", OpAlloc: "alloc", OpGetField: "get_field",
}

func (o Op) String() string { return opNames[o] }

// pureArithOps is the set of opcodes eligible for constant folding
// and common-subexpression elimination (spec.md §4.5).
var pureArithOps = map[Op]bool{
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true,
	OpAnd: true, OpOr: true, OpNot: true, OpNeg: true,
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
}

// terminatorOps end a basic block.
var terminatorOps = map[Op]bool{
	OpJump: true, OpBranchFalse: true, OpReturn: true, OpReturnVoid: true,
}

// Instr is one IR instruction: (op, args, result?). Concrete
// instruction kinds implement it; cross-stage code (CFG, optimizer,
// register allocator) dispatches on the underlying type with an
// exhaustive type switch rather than probing fields that may not
// apply to every opcode.
type Instr interface {
	Op() Op
}

type ILabel struct{ ID int }

func (ILabel) Op() Op { return OpLabel }

type IEnter struct{ N int }

func (IEnter) Op() Op { return OpEnter }

type ILeave struct{}

func (ILeave) Op() Op { return OpLeave }

type IStoreParam struct {
	Index int
	Name  string
}

func (IStoreParam) Op() Op { return OpStoreParam }

type ILoad struct {
	Src    string
	Result string
}

func (ILoad) Op() Op { return OpLoad }

type IStore struct {
	Dst string
	Src string
}

func (IStore) Op() Op { return OpStore }

type ILoadConst struct {
	Value  int64
	IsFlt  bool
	FValue float64
	Result string
}

func (ILoadConst) Op() Op { return OpLoadConst }

type ILoadString struct {
	Label  string
	Result string
}

func (ILoadString) Op() Op { return OpLoadString }

// IStringDef inserts a literal into the module string pool; it is
// emitted once per unique literal (spec.md §4.4).
type IStringDef struct {
	Label string
	Value string
}

func (IStringDef) Op() Op { return OpString }

type IBinOp struct {
	Kind   Op // one of Add,Sub,Mul,Div,And,Or,Eq,Ne,Lt,Le,Gt,Ge
	Left   string
	Right  string
	Result string
}

func (b IBinOp) Op() Op { return b.Kind }

type IUnaryOp struct {
	Kind   Op // Not or Neg
	Src    string
	Result string
}

func (u IUnaryOp) Op() Op { return u.Kind }

type IJump struct{ Target int }

func (IJump) Op() Op { return OpJump }

type IBranchFalse struct {
	Cond   string
	Target int
}

func (IBranchFalse) Op() Op { return OpBranchFalse }

type ICall struct {
	Func   string
	Args   []string
	Result string // "" for a call with no result consumed
}

func (ICall) Op() Op { return OpCall }

type ICallMethod struct {
	FuncPtr  string
	Receiver string
	Args     []string
	Result   string
}

func (ICallMethod) Op() Op { return OpCallMethod }

type IReturn struct{ Value string }

func (IReturn) Op() Op { return OpReturn }

type IReturnVoid struct{}

func (IReturnVoid) Op() Op { return OpReturnVoid }

type IVTableHeader struct {
	Class string
	Label string
}

func (IVTableHeader) Op() Op { return OpVTable }

type IVTableEntry struct {
	Label  string
	Name   string
	Impl   string
}

func (IVTableEntry) Op() Op { return OpVTableEntry }

type IVTableMethod struct {
	VTable string
	Name   string
	Result string
}

func (IVTableMethod) Op() Op { return OpVTableMethod }

type ILoadVTable struct {
	Receiver string
	Result   string
}

func (ILoadVTable) Op() Op { return OpLoadVTable }

type ISetVTable struct {
	Obj    string
	VTable string
}

func (ISetVTable) Op() Op { return OpSetVTable }

type ISizeof struct {
	Class  string
	Result string
}

func (ISizeof) Op() Op { return OpSizeof }

type IAlloc struct {
	Size   string
	Result string
}

func (IAlloc) Op() Op { return OpAlloc }

type IGetField struct {
	Obj    string
	Field  string
	Result string
}

func (IGetField) Op() Op { return OpGetField }

// ---- Module / Function ----

// VTableSlot is one (method name, implementation symbol) entry.
type VTableSlot struct {
	Name string
	Impl string
}

// VTable is a class's method table: inherited slots from the parent
// vtable, in order, then the subclass's own methods appended in
// declaration order (spec.md §3).
type VTable struct {
	Class string
	Label string
	Slots []VTableSlot
}

func (vt *VTable) indexOf(name string) int {
	for i, s := range vt.Slots {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Function is one function or method's linear instruction stream.
type Function struct {
	Name       string
	ParamCount int
	IsMethod   bool
	Instrs     []Instr
}

// StringPool interns literal byte strings, insertion ordered so
// output byte order is stable across runs (spec.md §9).
type StringPool struct {
	index map[string]string // literal -> label
	Order []string          // literal values, in insertion order
	next  int
}

func NewStringPool() *StringPool { return &StringPool{index: map[string]string{}} }

// LabelFor returns the data label assigned to the i-th interned
// string (its position in Order), matching Intern's Lstr<n> scheme.
func (sp *StringPool) LabelFor(i int) string { return fmt.Sprintf("Lstr%d", i) }

func (sp *StringPool) Intern(value string) string {
	if label, ok := sp.index[value]; ok {
		return label
	}
	label := fmt.Sprintf("Lstr%d", sp.next)
	sp.next++
	sp.index[value] = label
	sp.Order = append(sp.Order, value)
	return label
}

// Module is the whole-program IR: every function's instruction
// stream, the string pool, and the vtable directory.
type Module struct {
	Functions   []*Function
	Strings     *StringPool
	VTables     []*VTable
	vtableIndex map[string]*VTable
	externals   map[string]bool

	nextTemp  int
	nextLabel int
}

func NewModule() *Module {
	return &Module{Strings: NewStringPool(), vtableIndex: map[string]*VTable{}, externals: map[string]bool{}}
}

// NewTemp returns a fresh module-wide temporary name (t0, t1, …).
func (m *Module) NewTemp() string {
	name := fmt.Sprintf("t%d", m.nextTemp)
	m.nextTemp++
	return name
}

// NewLabel returns a fresh module-wide label id (used to build L0,
// L1, … label names).
func (m *Module) NewLabel() int {
	id := m.nextLabel
	m.nextLabel++
	return id
}

func (m *Module) LabelName(id int) string { return fmt.Sprintf("L%d", id) }

func (m *Module) DeclareExternal(name string) { m.externals[name] = true }

func (m *Module) IsExternal(name string) bool { return m.externals[name] }

func (m *Module) AddVTable(vt *VTable) {
	m.VTables = append(m.VTables, vt)
	m.vtableIndex[vt.Class] = vt
}

func (m *Module) VTableFor(class string) (*VTable, bool) {
	vt, ok := m.vtableIndex[class]
	return vt, ok
}

// Result reports the temp name an instruction defines, if any.
func Result(ins Instr) (string, bool) {
	switch i := ins.(type) {
	case ILoad:
		return i.Result, i.Result != ""
	case ILoadConst:
		return i.Result, i.Result != ""
	case ILoadString:
		return i.Result, i.Result != ""
	case IBinOp:
		return i.Result, i.Result != ""
	case IUnaryOp:
		return i.Result, i.Result != ""
	case ICall:
		return i.Result, i.Result != ""
	case ICallMethod:
		return i.Result, i.Result != ""
	case IVTableMethod:
		return i.Result, i.Result != ""
	case ILoadVTable:
		return i.Result, i.Result != ""
	case ISizeof:
		return i.Result, i.Result != ""
	case IAlloc:
		return i.Result, i.Result != ""
	case IGetField:
		return i.Result, i.Result != ""
	default:
		return "", false
	}
}

// Uses reports the temp/variable names an instruction reads.
func Uses(ins Instr) []string {
	switch i := ins.(type) {
	case ILoad:
		return []string{i.Src}
	case IStore:
		return []string{i.Src}
	case IBinOp:
		return []string{i.Left, i.Right}
	case IUnaryOp:
		return []string{i.Src}
	case IBranchFalse:
		return []string{i.Cond}
	case ICall:
		return append([]string{}, i.Args...)
	case ICallMethod:
		return append([]string{i.FuncPtr, i.Receiver}, i.Args...)
	case IReturn:
		if i.Value == "" {
			return nil
		}
		return []string{i.Value}
	case IVTableMethod:
		return []string{i.VTable}
	case ILoadVTable:
		return []string{i.Receiver}
	case ISetVTable:
		return []string{i.Obj}
	case IAlloc:
		return []string{i.Size}
	case IGetField:
		return []string{i.Obj}
	default:
		return nil
	}
}

// IsTerminator reports whether ins ends a basic block.
func IsTerminator(ins Instr) bool { return terminatorOps[ins.Op()] }

// IsPure reports whether ins is eligible for folding/CSE: it has no
// side effect beyond producing its result from its arguments.
func IsPure(ins Instr) bool { return pureArithOps[ins.Op()] }

// JumpTargets returns the label ids a terminator may transfer control
// to, in the order a CFG edge builder should add them (fall-through
// first where relevant is handled by the caller).
func JumpTargets(ins Instr) []int {
	switch i := ins.(type) {
	case IJump:
		return []int{i.Target}
	case IBranchFalse:
		return []int{i.Target}
	default:
		return nil
	}
}
