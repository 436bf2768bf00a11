package mfc

import "fmt"

// allocatableForColoring is AllocatableRegs with R11 withheld: R11 is
// the scratch register spill-slot rewrites load into immediately
// before an instruction that uses a spilled temp (spec.md §4.6 step
// 4), so it must never also be a color a live, non-spilled temp holds.
// This shrinks the colorer's k from spec.md §4.6's 14 to 13 — see
// DESIGN.md's "Known limitations" entry for why that deviation is
// accepted rather than finding a 14th color.
var allocatableForColoring = []Reg{RAX, RCX, RDX, R8, R9, R10, RBX, RSI, RDI, R12, R13, R14, R15}

// Allocation is the result of running the register allocator over one
// function: every temporary's physical register or spill slot, plus
// the frame layout needed to address both spill slots and the
// function's named local/parameter storage.
type Allocation struct {
	Reg       map[string]Reg
	SpillSlot map[string]int32 // temp name -> [rbp - n] offset (spilled temps)
	VarSlot   map[string]int32 // variable name -> [rbp - n] offset (locals/params)
	FrameSize int32
}

// liveRange is a temp's first-definition-to-last-use interval, in
// instruction positions within one function's flat instruction list.
type liveRange struct {
	start, end int
}

// Allocate runs the Chaitin-style graph-coloring allocator of
// spec.md §4.6 over fn's temporaries (ir_gen.go never lets a
// temporary's definition and uses span more than one basic block, so
// a forward scan over the whole function computes exactly the
// per-block live ranges spec.md describes, without needing to walk
// block-by-block separately).
func Allocate(fn *Function) *Allocation {
	order, ranges := computeLiveRanges(fn)
	adj := buildInterference(order, ranges)
	colors, spilled := colorGraph(order, adj)

	alloc := &Allocation{
		Reg:       colors,
		SpillSlot: map[string]int32{},
		VarSlot:   map[string]int32{},
	}
	offset := int32(0)
	for _, name := range order {
		if !spilled[name] {
			continue
		}
		offset += 8
		alloc.SpillSlot[name] = -offset
	}
	for _, name := range namedVariables(fn) {
		offset += 8
		alloc.VarSlot[name] = -offset
	}
	alloc.FrameSize = align8(offset)
	return alloc
}

// computeLiveRanges returns every temp's [def, lastUse] interval and
// the temps in first-definition order (the "stable registration
// order" spec.md §4.6 requires tie-breaks to use).
func computeLiveRanges(fn *Function) ([]string, map[string]liveRange) {
	ranges := map[string]liveRange{}
	var order []string
	for i, ins := range fn.Instrs {
		if r, ok := Result(ins); ok && r != "" {
			if _, exists := ranges[r]; !exists {
				ranges[r] = liveRange{start: i, end: i}
				order = append(order, r)
			}
		}
	}
	for i, ins := range fn.Instrs {
		for _, u := range Uses(ins) {
			if rg, ok := ranges[u]; ok && i > rg.end {
				rg.end = i
				ranges[u] = rg
			}
		}
	}
	return order, ranges
}

func buildInterference(order []string, ranges map[string]liveRange) map[string]map[string]bool {
	adj := map[string]map[string]bool{}
	for _, n := range order {
		adj[n] = map[string]bool{}
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			a, b := order[i], order[j]
			if overlaps(ranges[a], ranges[b]) {
				adj[a][b] = true
				adj[b][a] = true
			}
		}
	}
	return adj
}

func overlaps(a, b liveRange) bool { return a.start <= b.end && b.start <= a.end }

// colorGraph implements spec.md §4.6 step 3: simplify by repeatedly
// removing a node of degree < k (push to stack), falling back to the
// smallest-degree node (marked a spill candidate) when none qualifies;
// then unwind the stack assigning the lowest-numbered free register.
// A node that cannot be colored on unwind is spilled regardless of
// whether it was a spill candidate going in.
func colorGraph(order []string, adj map[string]map[string]bool) (map[string]Reg, map[string]bool) {
	k := len(allocatableForColoring)
	remaining := map[string]bool{}
	for _, n := range order {
		remaining[n] = true
	}
	degree := func(n string) int {
		d := 0
		for nb := range adj[n] {
			if remaining[nb] {
				d++
			}
		}
		return d
	}

	var stack []string
	for len(remaining) > 0 {
		picked := ""
		for _, n := range order {
			if remaining[n] && degree(n) < k {
				picked = n
				break
			}
		}
		if picked == "" {
			bestDeg := -1
			for _, n := range order {
				if !remaining[n] {
					continue
				}
				if d := degree(n); bestDeg == -1 || d < bestDeg {
					bestDeg = d
					picked = n
				}
			}
		}
		stack = append(stack, picked)
		delete(remaining, picked)
	}

	colors := map[string]Reg{}
	spilled := map[string]bool{}
	for i := len(stack) - 1; i >= 0; i-- {
		n := stack[i]
		used := map[Reg]bool{}
		for nb := range adj[n] {
			if c, ok := colors[nb]; ok {
				used[c] = true
			}
		}
		assigned := false
		for _, r := range allocatableForColoring {
			if !used[r] {
				colors[n] = r
				assigned = true
				break
			}
		}
		if !assigned {
			spilled[n] = true
		}
	}
	return colors, spilled
}

// namedVariables lists every distinct parameter/local name the
// function addresses by name (IStoreParam targets, IStore
// destinations, and ILoad sources not also produced as a temp), in
// first-appearance order. These always live in the frame: unlike
// temps they are never register-allocated, since their lifetime
// (the whole enclosing scope) routinely spans many basic blocks.
func namedVariables(fn *Function) []string {
	seen := map[string]bool{}
	var order []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		order = append(order, name)
	}
	temps := map[string]bool{}
	for _, ins := range fn.Instrs {
		if r, ok := Result(ins); ok && r != "" {
			temps[r] = true
		}
	}
	for _, ins := range fn.Instrs {
		switch v := ins.(type) {
		case IStoreParam:
			add(v.Name)
		case IStore:
			add(v.Dst)
		case ILoad:
			if !temps[v.Src] {
				add(v.Src)
			}
		}
	}
	return order
}

func align8(n int32) int32 { return (n + 7) &^ 7 }

// ---- instruction selection ----

// windowsIntParamRegs is the Windows x64 integer calling convention's
// register set for the first four arguments; later arguments would
// arrive on the caller's stack, which this compiler's call sites do
// not yet populate (functions and methods with more than four
// parameters are a documented gap — see DESIGN.md).
var windowsIntParamRegs = []Reg{RCX, RDX, R8, R9}

// Select lowers fn's (optimized, register-allocated) IR into the
// machine-instruction stream x64_encoder.go consumes: a prologue that
// reserves the frame alloc computed, one or more MInstr per IR
// instruction addressing each temp by its assigned register or spill
// slot, and an epilogue/ret at every return.
func Select(mod *Module, fn *Function, alloc *Allocation) ([]MInstr, error) {
	s := &selector{mod: mod, fn: fn, alloc: alloc}
	s.emitPrologue()
	for _, ins := range fn.Instrs {
		if err := s.selectOne(ins); err != nil {
			return nil, err
		}
	}
	return s.out, nil
}

type selector struct {
	mod   *Module
	fn    *Function
	alloc *Allocation
	out   []MInstr
}

func (s *selector) emit(ins ...MInstr) { s.out = append(s.out, ins...) }

func (s *selector) emitPrologue() {
	s.emit(MPush{Src: RBP}, MMovRegReg{Dst: RBP, Src: RSP})
	if s.alloc.FrameSize > 0 {
		s.emit(MSubImm{Dst: RSP, Imm: int64(s.alloc.FrameSize)})
	}
}

func (s *selector) emitEpilogue() {
	s.emit(MMovRegReg{Dst: RSP, Src: RBP}, MPop{Dst: RBP})
}

// regOf returns the register holding a temp's value "right now",
// loading it from its spill slot into the shared scratch register R11
// first if it was spilled (spec.md §4.6 step 4).
func (s *selector) regOf(name string) Reg {
	if r, ok := s.alloc.Reg[name]; ok {
		return r
	}
	if off, ok := s.alloc.SpillSlot[name]; ok {
		s.emit(MMovRegMem{Dst: R11, Mem: Mem{HasBase: true, Base: RBP, Disp: off}})
		return R11
	}
	return R11 // unreachable for a well-formed allocation
}

// storeResult writes R11 (or the result's own register) back to its
// home: a spill slot if the allocator spilled it, otherwise a no-op
// since the value is already sitting in its assigned register.
func (s *selector) storeResult(name string, produced Reg) {
	if off, ok := s.alloc.SpillSlot[name]; ok {
		s.emit(MMovMemReg{Mem: Mem{HasBase: true, Base: RBP, Disp: off}, Src: produced})
		return
	}
	if r, ok := s.alloc.Reg[name]; ok && r != produced {
		s.emit(MMovRegReg{Dst: r, Src: produced})
	}
}

func (s *selector) varMem(name string) Mem {
	off := s.alloc.VarSlot[name]
	return Mem{HasBase: true, Base: RBP, Disp: off}
}

func (s *selector) selectOne(ins Instr) error {
	switch v := ins.(type) {
	case IEnter, ILeave:
		// Prologue/epilogue are synthesized once by Select/emitEpilogue
		// from the allocator's frame size, not from these markers: the
		// allocator decides the frame layout only after seeing every
		// temp in the function, which the generator cannot know yet.

	case ILabel:
		s.emit(MLabelDef{Name: s.mod.LabelName(v.ID)})

	case IStoreParam:
		if v.Index < len(windowsIntParamRegs) {
			s.emit(MMovMemReg{Mem: s.varMem(v.Name), Src: windowsIntParamRegs[v.Index]})
		}
		// Stack-passed parameters (index >= 4) are a documented gap;
		// see DESIGN.md.

	case ILoad:
		dst := s.dstRegFor(v.Result)
		if _, isVar := s.alloc.VarSlot[v.Src]; isVar {
			s.emit(MMovRegMem{Dst: dst, Mem: s.varMem(v.Src)})
		} else {
			s.moveTempInto(dst, v.Src)
		}
		s.storeResult(v.Result, dst)

	case IStore:
		src := s.regOf(v.Src)
		s.emit(MMovMemReg{Mem: s.varMem(v.Dst), Src: src})

	case ILoadConst:
		dst := s.dstRegFor(v.Result)
		if v.IsFlt {
			// No SSE register class is modeled; floating-point values
			// are converted to int64, truncating toward zero,
			// a documented limitation (see DESIGN.md) rather than a
			// silently wrong default.
			s.emit(MMovRegImm{Dst: dst, Imm: int64(v.FValue)})
		} else {
			s.emit(MMovRegImm{Dst: dst, Imm: v.Value})
		}
		s.storeResult(v.Result, dst)

	case ILoadString:
		dst := s.dstRegFor(v.Result)
		s.emit(MLea{Dst: dst, Mem: Mem{Label: v.Label}})
		s.storeResult(v.Result, dst)

	case IStringDef:
		// Carries no code; the literal lands in .data via the module
		// string pool, assembled by compiler.go's layoutData.

	case IBinOp:
		return s.selectBinOp(v)

	case IUnaryOp:
		return s.selectUnaryOp(v)

	case IJump:
		s.emit(MJmp{Label: s.mod.LabelName(v.Target)})

	case IBranchFalse:
		cond := s.regOf(v.Cond)
		s.emit(MJz{Cond: cond, Label: s.mod.LabelName(v.Target)})

	case ICall:
		s.selectArgs(v.Args)
		if s.mod.IsExternal(v.Func) {
			s.emit(MCallImport{Symbol: v.Func})
		} else {
			s.emit(MCallLabel{Label: v.Func})
		}
		if v.Result != "" {
			s.storeResult(v.Result, RAX)
		}

	case ICallMethod:
		args := append([]string{v.Receiver}, v.Args...)
		s.selectArgs(args)
		s.emit(MCallReg{Reg: s.regOf(v.FuncPtr)})
		if v.Result != "" {
			s.storeResult(v.Result, RAX)
		}

	case IReturn:
		if v.Value != "" {
			src := s.regOf(v.Value)
			if src != RAX {
				s.emit(MMovRegReg{Dst: RAX, Src: src})
			}
		}
		s.emitEpilogue()
		s.emit(MRet{})

	case IReturnVoid:
		s.emitEpilogue()
		s.emit(MRet{})

	case IVTableHeader, IVTableEntry:
		// Vtable layout is data, assembled into .data by compiler.go's
		// layoutData from Module.VTables — these carry no .text bytes.

	case IVTableMethod:
		vt := s.regOf(v.VTable)
		dst := s.dstRegFor(v.Result)
		offset := s.vtableSlotOffset(v.Name)
		s.emit(MMovRegMem{Dst: dst, Mem: Mem{HasBase: true, Base: vt, Disp: offset}})
		s.storeResult(v.Result, dst)

	case ILoadVTable:
		recv := s.regOf(v.Receiver)
		dst := s.dstRegFor(v.Result)
		s.emit(MMovRegMem{Dst: dst, Mem: Mem{HasBase: true, Base: recv, Disp: 0}})
		s.storeResult(v.Result, dst)

	case ISetVTable:
		obj := s.regOf(v.Obj)
		vtReg := R10
		s.emit(MLea{Dst: vtReg, Mem: Mem{Label: v.VTable}})
		s.emit(MMovMemReg{Mem: Mem{HasBase: true, Base: obj, Disp: 0}, Src: vtReg})

	case ISizeof:
		dst := s.dstRegFor(v.Result)
		s.emit(MMovRegImm{Dst: dst, Imm: classSize(v.Class)})
		s.storeResult(v.Result, dst)

	case IAlloc:
		s.selectArgs([]string{v.Size})
		s.emit(MCallImport{Symbol: "malloc"})
		if v.Result != "" {
			s.storeResult(v.Result, RAX)
		}

	case IGetField:
		obj := s.regOf(v.Obj)
		dst := s.dstRegFor(v.Result)
		s.emit(MMovRegMem{Dst: dst, Mem: Mem{HasBase: true, Base: obj, Disp: fieldOffset(v.Field)}})
		s.storeResult(v.Result, dst)

	default:
		return abort(Diagnostic{Code: "E-IR-003", Message: fmt.Sprintf("no instruction selection for %T", ins)})
	}
	return nil
}

// dstRegFor returns the register an instruction should compute its
// result directly into: the temp's assigned color, or R11 as a
// compute-then-spill scratch when the allocator spilled it.
func (s *selector) dstRegFor(name string) Reg {
	if r, ok := s.alloc.Reg[name]; ok {
		return r
	}
	return R11
}

// moveTempInto loads src's current value into dst without going
// through a separate temp register when src is already resident in a
// register (used by CSE-introduced `load <temp> -> <temp>` forms).
func (s *selector) moveTempInto(dst Reg, src string) {
	srcReg := s.regOf(src)
	if srcReg != dst {
		s.emit(MMovRegReg{Dst: dst, Src: srcReg})
	}
}

func (s *selector) selectArgs(args []string) {
	for i, a := range args {
		if i >= len(windowsIntParamRegs) {
			break // stack-passed arguments beyond 4 are a documented gap
		}
		s.emit(MMovRegReg{Dst: windowsIntParamRegs[i], Src: s.regOf(a)})
	}
}

func (s *selector) selectBinOp(v IBinOp) error {
	left := s.regOf(v.Left)
	dst := s.dstRegFor(v.Result)
	if dst != left {
		s.emit(MMovRegReg{Dst: dst, Src: left})
	}
	right := s.regOf(v.Right)
	switch v.Kind {
	case OpAdd:
		s.emit(MAddRegReg{Dst: dst, Src: right})
	case OpSub:
		s.emit(MSubRegReg{Dst: dst, Src: right})
	case OpMul:
		s.emit(MIMulRegReg{Dst: dst, Src: right})
	case OpDiv:
		// idiv divides RDX:RAX by the divisor; the dividend must sit in
		// RAX and RDX is clobbered as the remainder. This does not
		// reserve RAX/RDX across the division in the interference
		// graph — a known simplification, see DESIGN.md.
		if dst != RAX {
			s.emit(MMovRegReg{Dst: RAX, Src: dst})
		}
		s.emit(MCqo{})
		s.emit(MIDivReg{Reg: right})
		if dst != RAX {
			s.emit(MMovRegReg{Dst: dst, Src: RAX})
		}
	case OpAnd:
		// Both operands are 0/1 booleans (spec.md §3's "bool" is the
		// only type `&&`/`||` apply to), so multiplying stands in for
		// logical AND without needing a dedicated bitwise-and form.
		s.emit(MIMulRegReg{Dst: dst, Src: right})
	case OpOr:
		// Both operands are 0/1 booleans; their sum is 0, 1, or 2, so
		// normalizing back to 0/1 is "not equal to zero".
		s.emit(MAddRegReg{Dst: dst, Src: right})
		s.emit(MMovRegImm{Dst: R10, Imm: 0})
		s.emit(MCmpRegReg{A: dst, B: R10})
		s.emit(MSetcc{Cond: CondNe, Dst: dst})
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		s.emit(MCmpRegReg{A: dst, B: right})
		s.emit(MSetcc{Cond: condFor(v.Kind), Dst: dst})
	default:
		return abort(Diagnostic{Code: "E-IR-003", Message: fmt.Sprintf("no instruction selection for binary op %s", v.Kind)})
	}
	s.storeResult(v.Result, dst)
	return nil
}

func condFor(op Op) CondCode {
	switch op {
	case OpEq:
		return CondEq
	case OpNe:
		return CondNe
	case OpLt:
		return CondLt
	case OpLe:
		return CondLe
	case OpGt:
		return CondGt
	case OpGe:
		return CondGe
	default:
		return CondEq
	}
}

func (s *selector) selectUnaryOp(v IUnaryOp) error {
	src := s.regOf(v.Src)
	dst := s.dstRegFor(v.Result)
	switch v.Kind {
	case OpNeg:
		if dst != src {
			s.emit(MMovRegReg{Dst: dst, Src: src})
		}
		s.emit(MMovRegImm{Dst: R10, Imm: 0})
		s.emit(MSubRegReg{Dst: R10, Src: dst})
		s.emit(MMovRegReg{Dst: dst, Src: R10})
	case OpNot:
		s.emit(MMovRegImm{Dst: dst, Imm: 0})
		s.emit(MCmpRegReg{A: src, B: dst})
		s.emit(MSetcc{Cond: CondEq, Dst: dst})
	default:
		return abort(Diagnostic{Code: "E-IR-003", Message: fmt.Sprintf("no instruction selection for unary op %s", v.Kind)})
	}
	s.storeResult(v.Result, dst)
	return nil
}

// vtableSlotOffset returns a vtable slot's byte offset by method name.
// Slots are 8 bytes each (a code pointer), in vtable declaration order
// (spec.md §3).
func (s *selector) vtableSlotOffset(method string) int32 {
	for _, vt := range s.mod.VTables {
		if idx := vt.indexOf(method); idx >= 0 {
			return int32(idx * 8)
		}
	}
	return 0
}

// classSize is a placeholder object layout: a vtable pointer slot plus
// one 8-byte slot per field, matching `alloc`'s zero-filled layout
// (see DESIGN.md's field-mutation note for why fields are not
// separately addressable by offset yet beyond this uniform stride).
func classSize(class string) int64 { return 8 }

func fieldOffset(field string) int32 { return 8 }
