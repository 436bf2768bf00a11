package mfc

// BasicBlock is a contiguous sub-sequence of one function's
// instructions, per spec.md §3/§4.5.
type BasicBlock struct {
	ID     int
	Instrs []Instr // includes the leading ILabel, if any
	Preds  map[int]bool
	Succs  map[int]bool
}

// CFG is the basic-block graph for one function.
type CFG struct {
	Blocks     []*BasicBlock
	labelBlock map[int]int // label id -> block index
}

// BuildCFG constructs the control-flow graph for fn's instruction
// stream. It never mutates fn.
func BuildCFG(fn *Function) *CFG {
	leaders := map[int]bool{0: true}
	for i, ins := range fn.Instrs {
		if _, ok := ins.(ILabel); ok {
			leaders[i] = true
		}
		if i > 0 && IsTerminator(fn.Instrs[i-1]) {
			leaders[i] = true
		}
	}
	var starts []int
	for i := range fn.Instrs {
		if leaders[i] {
			starts = append(starts, i)
		}
	}
	sortInts(starts)

	cfg := &CFG{labelBlock: map[int]int{}}
	for idx, start := range starts {
		end := len(fn.Instrs)
		if idx+1 < len(starts) {
			end = starts[idx+1]
		}
		blockInstrs := fn.Instrs[start:end]
		bb := &BasicBlock{ID: idx, Instrs: blockInstrs, Preds: map[int]bool{}, Succs: map[int]bool{}}
		cfg.Blocks = append(cfg.Blocks, bb)
		if len(blockInstrs) > 0 {
			if lbl, ok := blockInstrs[0].(ILabel); ok {
				cfg.labelBlock[lbl.ID] = idx
			}
		}
	}

	for idx, bb := range cfg.Blocks {
		if len(bb.Instrs) == 0 {
			continue
		}
		last := bb.Instrs[len(bb.Instrs)-1]
		switch t := last.(type) {
		case IJump:
			if target, ok := cfg.labelBlock[t.Target]; ok {
				cfg.addEdge(idx, target)
			}
		case IBranchFalse:
			if idx+1 < len(cfg.Blocks) {
				cfg.addEdge(idx, idx+1)
			}
			if target, ok := cfg.labelBlock[t.Target]; ok {
				cfg.addEdge(idx, target)
			}
		case IReturn, IReturnVoid:
			// no successors
		default:
			if idx+1 < len(cfg.Blocks) {
				cfg.addEdge(idx, idx+1)
			}
		}
	}
	return cfg
}

func (c *CFG) addEdge(from, to int) {
	c.Blocks[from].Succs[to] = true
	c.Blocks[to].Preds[from] = true
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Flatten rebuilds a linear instruction list from the CFG's blocks in
// position order; each block's leading label is already part of its
// Instrs, so the blocks are simply concatenated. Used after the optimizer rewrites
// block contents in place.
func (c *CFG) Flatten() []Instr {
	var out []Instr
	for _, bb := range c.Blocks {
		out = append(out, bb.Instrs...)
	}
	return out
}
