package mfc

// Optimize runs constant folding, dead-code elimination, and
// common-subexpression elimination to a fixed point over fn's basic
// blocks, per spec.md §4.5. It rebuilds the CFG before each pass since
// folding/DCE can merge or empty blocks; iteration stops either when a
// pass makes no further change or after maxOptimizeIterations rounds
// (spec.md §9's bound on non-termination).
const maxOptimizeIterations = 32

func Optimize(fn *Function) {
	for i := 0; i < maxOptimizeIterations; i++ {
		cfg := BuildCFG(fn)
		changed := false
		for _, bb := range cfg.Blocks {
			if foldConstants(bb) {
				changed = true
			}
			if eliminateCSE(bb) {
				changed = true
			}
		}
		fn.Instrs = cfg.Flatten()
		if eliminateDeadCode(fn) {
			changed = true
		}
		if !changed {
			return
		}
	}
}

// foldConstants replaces a pure binary/unary op whose operands are
// both known constants (defined earlier in the same block by
// load_const) with a load_const of the computed result.
func foldConstants(bb *BasicBlock) bool {
	consts := map[string]int64{}
	changed := false
	for i, ins := range bb.Instrs {
		switch v := ins.(type) {
		case ILoadConst:
			if !v.IsFlt {
				consts[v.Result] = v.Value
			}
		case IBinOp:
			if !pureArithOps[v.Kind] {
				continue
			}
			l, lok := consts[v.Left]
			r, rok := consts[v.Right]
			if !lok || !rok {
				continue
			}
			folded, ok := foldBinOp(v.Kind, l, r)
			if !ok {
				continue
			}
			bb.Instrs[i] = ILoadConst{Value: folded, Result: v.Result}
			consts[v.Result] = folded
			changed = true
		case IUnaryOp:
			src, ok := consts[v.Src]
			if !ok {
				continue
			}
			folded, ok := foldUnaryOp(v.Kind, src)
			if !ok {
				continue
			}
			bb.Instrs[i] = ILoadConst{Value: folded, Result: v.Result}
			consts[v.Result] = folded
			changed = true
		}
	}
	return changed
}

func foldBinOp(op Op, l, r int64) (int64, bool) {
	switch op {
	case OpAdd:
		return l + r, true
	case OpSub:
		return l - r, true
	case OpMul:
		return l * r, true
	case OpDiv:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case OpAnd:
		return boolInt(l != 0 && r != 0), true
	case OpOr:
		return boolInt(l != 0 || r != 0), true
	case OpEq:
		return boolInt(l == r), true
	case OpNe:
		return boolInt(l != r), true
	case OpLt:
		return boolInt(l < r), true
	case OpLe:
		return boolInt(l <= r), true
	case OpGt:
		return boolInt(l > r), true
	case OpGe:
		return boolInt(l >= r), true
	default:
		return 0, false
	}
}

func foldUnaryOp(op Op, v int64) (int64, bool) {
	switch op {
	case OpNeg:
		return -v, true
	case OpNot:
		return boolInt(v == 0), true
	default:
		return 0, false
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// eliminateCSE replaces a pure op whose (kind, operands) exactly
// matches an earlier instruction in the same block with a direct use
// of that earlier result, per spec.md §4.5. Operands are compared
// after folding, so CSE also catches redundant computations folding
// exposed.
func eliminateCSE(bb *BasicBlock) bool {
	type key struct {
		op          Op
		a, b        string
	}
	seen := map[key]string{}
	alias := map[string]string{}
	changed := false
	resolve := func(name string) string {
		for {
			if r, ok := alias[name]; ok {
				name = r
				continue
			}
			return name
		}
	}
	for i, ins := range bb.Instrs {
		switch v := ins.(type) {
		case IBinOp:
			if !pureArithOps[v.Kind] {
				continue
			}
			l, r := resolve(v.Left), resolve(v.Right)
			k := key{v.Kind, l, r}
			if prior, ok := seen[k]; ok {
				alias[v.Result] = prior
				bb.Instrs[i] = ILoad{Src: prior, Result: v.Result}
				changed = true
				continue
			}
			seen[k] = v.Result
			if l != v.Left || r != v.Right {
				bb.Instrs[i] = IBinOp{Kind: v.Kind, Left: l, Right: r, Result: v.Result}
				changed = true
			}
		case IUnaryOp:
			if !pureArithOps[v.Kind] {
				continue
			}
			src := resolve(v.Src)
			k := key{v.Kind, src, ""}
			if prior, ok := seen[k]; ok {
				alias[v.Result] = prior
				bb.Instrs[i] = ILoad{Src: prior, Result: v.Result}
				changed = true
				continue
			}
			seen[k] = v.Result
			if src != v.Src {
				bb.Instrs[i] = IUnaryOp{Kind: v.Kind, Src: src, Result: v.Result}
				changed = true
			}
		}
	}
	return changed
}

// eliminateDeadCode removes a pure, result-producing instruction whose
// result is never used by any later instruction in the function
// (spec.md §4.5), and a store to a name that no load in the function
// ever reads. Control-flow, call, and field/vtable instructions are
// never removed even if their result looks unused, since they may
// carry a side effect.
func eliminateDeadCode(fn *Function) bool {
	used := map[string]bool{}
	loaded := map[string]bool{} // names ever read by a load (variable or temp)
	for _, ins := range fn.Instrs {
		for _, u := range Uses(ins) {
			used[u] = true
		}
		if ld, ok := ins.(ILoad); ok {
			loaded[ld.Src] = true
		}
	}
	var out []Instr
	changed := false
	for _, ins := range fn.Instrs {
		if isDeadPure(ins, used) {
			changed = true
			continue
		}
		if st, ok := ins.(IStore); ok && !loaded[st.Dst] {
			changed = true
			continue
		}
		out = append(out, ins)
	}
	fn.Instrs = out
	return changed
}

func isDeadPure(ins Instr, used map[string]bool) bool {
	result, has := Result(ins)
	if !has || used[result] {
		return false
	}
	switch ins.(type) {
	case ILoadConst, ILoadString, IBinOp, IUnaryOp, ILoad:
		return true
	default:
		return false
	}
}
