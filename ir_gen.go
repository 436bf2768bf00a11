package mfc

import "fmt"

// irGen lowers a type-checked AST into the whole-program IR of ir.go,
// per spec.md §4.4. It assumes prog has already passed Analyze with no
// errors (spec.md §7: the pipeline never lowers a program that failed
// semantic analysis).
type irGen struct {
	mod      *Module
	an       *Analysis
	curClass string
	fn       *Function
}

// GenerateIR lowers prog to a Module: every function and method body,
// the string pool, and every class's vtable.
func GenerateIR(prog *Program, an *Analysis) (*Module, error) {
	g := &irGen{mod: NewModule(), an: an}
	g.mod.DeclareExternal("__mf_raise")
	g.mod.DeclareExternal("malloc")
	g.mod.DeclareExternal("printf")

	var classOrder []*ClassDecl
	for _, d := range prog.Decls {
		if c, ok := d.(*ClassDecl); ok {
			classOrder = append(classOrder, c)
		}
	}
	for _, c := range classOrder {
		g.buildVTable(c)
	}

	for _, d := range prog.Decls {
		switch dd := d.(type) {
		case *FunctionDecl:
			if dd.Body == nil {
				continue
			}
			if err := g.genFunction(dd); err != nil {
				return nil, err
			}
		case *ClassDecl:
			if err := g.genClass(dd); err != nil {
				return nil, err
			}
		}
	}
	return g.mod, nil
}

// buildVTable returns class's vtable, building it (and its ancestors,
// recursively) if this is the first request. A subclass's vtable is
// its parent's slots, in order, with same-named methods overridden in
// place, followed by the subclass's own new methods appended in
// declaration order (spec.md §3).
func (g *irGen) buildVTable(c *ClassDecl) *VTable {
	if vt, ok := g.mod.VTableFor(c.Name); ok {
		return vt
	}
	var slots []VTableSlot
	if c.Extends != "" {
		if parentDecl, ok := g.an.Classes[c.Extends]; ok {
			parentVT := g.buildVTable(parentDecl)
			slots = append(slots, parentVT.Slots...)
		}
	}
	for _, m := range c.Methods {
		if m.Static || m.Abstract {
			continue
		}
		impl := mangleMethod(c.Name, m.Name)
		replaced := false
		for i := range slots {
			if slots[i].Name == m.Name {
				slots[i].Impl = impl
				replaced = true
				break
			}
		}
		if !replaced {
			slots = append(slots, VTableSlot{Name: m.Name, Impl: impl})
		}
	}
	vt := &VTable{Class: c.Name, Label: "VT_" + c.Name, Slots: slots}
	g.mod.AddVTable(vt)
	return vt
}

func mangleMethod(class, method string) string { return class + "_" + method }

// ---- functions and methods ----

func (g *irGen) genFunction(d *FunctionDecl) error {
	fn := &Function{Name: d.Name, ParamCount: len(d.Params)}
	g.fn = fn
	g.curClass = ""
	g.emit(IEnter{N: len(d.Params)})
	for i, p := range d.Params {
		g.emit(IStoreParam{Index: i, Name: p.Name})
	}
	if err := g.genBlock(d.Body); err != nil {
		return err
	}
	g.emitFallthroughReturn(returnTypeName(d.ReturnType))
	g.mod.Functions = append(g.mod.Functions, fn)
	return nil
}

func (g *irGen) genClass(d *ClassDecl) error {
	hasInit := false
	for _, m := range d.Methods {
		if m.Name == "init" {
			hasInit = true
		}
		if m.Abstract || m.Body == nil {
			continue
		}
		if err := g.genMethod(d, m); err != nil {
			return err
		}
	}
	if !hasInit {
		g.genDefaultInit(d)
	}
	return nil
}

// genMethod lowers one concrete method body to a function named
// `<Class>_<method>`, with an implicit `this` parameter in slot 0.
func (g *irGen) genMethod(d *ClassDecl, m *MethodDecl) error {
	fn := &Function{Name: mangleMethod(d.Name, m.Name), ParamCount: len(m.Params), IsMethod: !m.Static}
	g.fn = fn
	g.curClass = d.Name
	paramOffset := 0
	if !m.Static {
		fn.ParamCount = len(m.Params) + 1
		g.emit(IEnter{N: fn.ParamCount})
		g.emit(IStoreParam{Index: 0, Name: "this"})
		paramOffset = 1
	} else {
		g.emit(IEnter{N: len(m.Params)})
	}
	for i, p := range m.Params {
		g.emit(IStoreParam{Index: i + paramOffset, Name: p.Name})
	}
	if err := g.genBlock(m.Body); err != nil {
		return err
	}
	g.emitFallthroughReturn(returnTypeName(m.ReturnType))
	g.mod.Functions = append(g.mod.Functions, fn)
	g.curClass = ""
	return nil
}

// genDefaultInit synthesizes `<Class>_init` when the class declares no
// `init` method itself, giving `new Class(...)` a uniform call target
// regardless of whether the class wrote one. Field initializer
// expressions are not applied here: spec.md's opcode union has no
// field-store form (only `get_field` reads one), so a freshly
// allocated object's fields hold whatever `alloc` leaves there:
// `alloc` calls msvcrt's malloc and does not clear the memory
// (see DESIGN.md).
func (g *irGen) genDefaultInit(d *ClassDecl) {
	fn := &Function{Name: mangleMethod(d.Name, "init"), ParamCount: 1, IsMethod: true}
	g.fn = fn
	g.curClass = d.Name
	g.emit(IEnter{N: 1})
	g.emit(IStoreParam{Index: 0, Name: "this"})
	g.emit(IReturnVoid{})
	g.mod.Functions = append(g.mod.Functions, fn)
	g.curClass = ""
}

// emitFallthroughReturn appends an implicit return for any control
// path sema only warned about (W-SEM-002) rather than rejected — a
// void function falling off its last statement, or a non-void
// function whose unreachable paths never produced a diagnostic-level
// error. Matches the original generator's "always terminate" rule.
func (g *irGen) emitFallthroughReturn(retType string) {
	if len(g.fn.Instrs) > 0 {
		if IsTerminator(g.fn.Instrs[len(g.fn.Instrs)-1]) {
			return
		}
	}
	if retType == "void" {
		g.emit(IReturnVoid{})
		return
	}
	zero := g.mod.NewTemp()
	g.emit(ILoadConst{Value: 0, Result: zero})
	g.emit(IReturn{Value: zero})
}

func (g *irGen) emit(ins Instr) { g.fn.Instrs = append(g.fn.Instrs, ins) }

// ---- statements ----

func (g *irGen) genBlock(b *Block) error {
	for _, stmt := range b.Stmts {
		if err := g.genStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (g *irGen) genStmt(n Node) error {
	switch st := n.(type) {
	case *VarDecl:
		if st.Init == nil {
			return nil
		}
		v, err := g.lowerExpr(st.Init)
		if err != nil {
			return err
		}
		g.emit(IStore{Dst: st.Name, Src: v})
		return nil

	case *If:
		return g.genIf(st)

	case *While:
		startLabel := g.mod.NewLabel()
		endLabel := g.mod.NewLabel()
		g.emit(ILabel{ID: startLabel})
		cond, err := g.lowerExpr(st.Cond)
		if err != nil {
			return err
		}
		g.emit(IBranchFalse{Cond: cond, Target: endLabel})
		if err := g.genBlock(st.Body); err != nil {
			return err
		}
		g.emit(IJump{Target: startLabel})
		g.emit(ILabel{ID: endLabel})
		return nil

	case *For:
		return g.genFor(st)

	case *Return:
		if st.Value == nil {
			g.emit(IReturnVoid{})
			return nil
		}
		v, err := g.lowerExpr(st.Value)
		if err != nil {
			return err
		}
		g.emit(IReturn{Value: v})
		return nil

	case *ExpressionStmt:
		_, err := g.lowerExpr(st.Expr)
		return err

	case *RaiseStmt:
		return g.genRaise(st)

	case *SpawnStmt:
		// Lowered to a plain evaluation — no concurrency runtime exists
		// in this core (spec.md §1; ast.go's SpawnStmt doc comment).
		_, err := g.lowerExpr(st.Value)
		return err

	case *Block:
		return g.genBlock(st)

	case *AsyncBlock:
		return g.genBlock(st.Body)

	default:
		return abort(Diagnostic{Code: "E-IR-002", Message: fmt.Sprintf("unsupported statement %T", n)})
	}
}

func (g *irGen) genIf(st *If) error {
	elseLabel := g.mod.NewLabel()
	endLabel := g.mod.NewLabel()
	cond, err := g.lowerExpr(st.Cond)
	if err != nil {
		return err
	}
	g.emit(IBranchFalse{Cond: cond, Target: elseLabel})
	if err := g.genBlock(st.Then); err != nil {
		return err
	}
	g.emit(IJump{Target: endLabel})
	g.emit(ILabel{ID: elseLabel})
	switch e := st.Else.(type) {
	case *Block:
		if err := g.genBlock(e); err != nil {
			return err
		}
	case *If:
		if err := g.genIf(e); err != nil {
			return err
		}
	}
	g.emit(ILabel{ID: endLabel})
	return nil
}

// genFor desugars `for v in range(a, b[, c]) { body }` into an
// init/compare/body/step/jump loop, per SPEC_FULL.md §4.4: init `i =
// a`; loop label; compare `i < b` (branch_false to exit); body;
// `i = i + c` (default step 1); jump to loop label.
func (g *irGen) genFor(st *For) error {
	r, ok := st.Iter.(*RangeExpr)
	if !ok {
		return abort(Diagnostic{Code: "E-IR-002", Message: "for-in over a non-range expression has no lowering"})
	}
	from, err := g.lowerExpr(r.From)
	if err != nil {
		return err
	}
	g.emit(IStore{Dst: st.Var, Src: from})

	startLabel := g.mod.NewLabel()
	endLabel := g.mod.NewLabel()
	g.emit(ILabel{ID: startLabel})

	to, err := g.lowerExpr(r.To)
	if err != nil {
		return err
	}
	cur := g.mod.NewTemp()
	g.emit(ILoad{Src: st.Var, Result: cur})
	cond := g.mod.NewTemp()
	g.emit(IBinOp{Kind: OpLt, Left: cur, Right: to, Result: cond})
	g.emit(IBranchFalse{Cond: cond, Target: endLabel})

	if err := g.genBlock(st.Body); err != nil {
		return err
	}

	var step string
	if r.Step != nil {
		step, err = g.lowerExpr(r.Step)
		if err != nil {
			return err
		}
	} else {
		step = g.mod.NewTemp()
		g.emit(ILoadConst{Value: 1, Result: step})
	}
	cur2 := g.mod.NewTemp()
	g.emit(ILoad{Src: st.Var, Result: cur2})
	next := g.mod.NewTemp()
	g.emit(IBinOp{Kind: OpAdd, Left: cur2, Right: step, Result: next})
	g.emit(IStore{Dst: st.Var, Src: next})
	g.emit(IJump{Target: startLabel})
	g.emit(ILabel{ID: endLabel})
	return nil
}

// genRaise lowers `raise expr;` to evaluating expr, then a call to
// the reserved external `__mf_raise` runtime stub (SPEC_FULL.md §4.4),
// which the PE import machinery binds to `kernel32.dll!ExitProcess`.
func (g *irGen) genRaise(st *RaiseStmt) error {
	v, err := g.lowerExpr(st.Value)
	if err != nil {
		return err
	}
	g.emit(ICall{Func: "__mf_raise", Args: []string{v}})
	g.emit(IReturnVoid{})
	return nil
}

// ---- expressions ----

func (g *irGen) lowerExpr(n Node) (string, error) {
	switch e := n.(type) {
	case *IntLiteral:
		t := g.mod.NewTemp()
		g.emit(ILoadConst{Value: e.Value, Result: t})
		return t, nil

	case *FloatLiteral:
		t := g.mod.NewTemp()
		g.emit(ILoadConst{IsFlt: true, FValue: e.Value, Result: t})
		return t, nil

	case *BoolLiteral:
		t := g.mod.NewTemp()
		v := int64(0)
		if e.Value {
			v = 1
		}
		g.emit(ILoadConst{Value: v, Result: t})
		return t, nil

	case *StringLiteral:
		label := g.mod.Strings.Intern(e.Value)
		t := g.mod.NewTemp()
		g.emit(ILoadString{Label: label, Result: t})
		return t, nil

	case *This:
		t := g.mod.NewTemp()
		g.emit(ILoad{Src: "this", Result: t})
		return t, nil

	case *Super:
		t := g.mod.NewTemp()
		g.emit(ILoad{Src: "this", Result: t})
		return t, nil

	case *Identifier:
		t := g.mod.NewTemp()
		g.emit(ILoad{Src: e.Name, Result: t})
		return t, nil

	case *UnaryExpr:
		v, err := g.lowerExpr(e.Expr)
		if err != nil {
			return "", err
		}
		t := g.mod.NewTemp()
		kind := OpNeg
		if e.Op == "!" {
			kind = OpNot
		}
		g.emit(IUnaryOp{Kind: kind, Src: v, Result: t})
		return t, nil

	case *BinaryExpr:
		if e.Op == "=" {
			return g.lowerAssign(e)
		}
		left, err := g.lowerExpr(e.Left)
		if err != nil {
			return "", err
		}
		right, err := g.lowerExpr(e.Right)
		if err != nil {
			return "", err
		}
		t := g.mod.NewTemp()
		g.emit(IBinOp{Kind: binOpKind(e.Op), Left: left, Right: right, Result: t})
		return t, nil

	case *CallExpr:
		return g.lowerCall(e)

	case *MemberAccess:
		obj, err := g.lowerExpr(e.Target)
		if err != nil {
			return "", err
		}
		t := g.mod.NewTemp()
		g.emit(IGetField{Obj: obj, Field: e.Name, Result: t})
		return t, nil

	case *ArrayAccess:
		// No array runtime exists (spec.md §1 Non-goals exclude a
		// managed heap); the access lowers to the sum of the target
		// and the index, with no element-size scaling and no load.
		obj, err := g.lowerExpr(e.Target)
		if err != nil {
			return "", err
		}
		idx, err := g.lowerExpr(e.Index)
		if err != nil {
			return "", err
		}
		t := g.mod.NewTemp()
		g.emit(IBinOp{Kind: OpAdd, Left: obj, Right: idx, Result: t})
		return t, nil

	case *ArraySlice:
		return g.lowerExpr(e.Target)

	case *RangeExpr:
		return g.lowerExpr(e.From)

	case *NewExpr:
		return g.lowerNew(e)

	default:
		return "", abort(Diagnostic{Code: "E-IR-002", Message: fmt.Sprintf("unsupported expression %T", n)})
	}
}

func binOpKind(op string) Op {
	switch op {
	case "+":
		return OpAdd
	case "-":
		return OpSub
	case "*":
		return OpMul
	case "/":
		return OpDiv
	case "&&":
		return OpAnd
	case "||":
		return OpOr
	case "==":
		return OpEq
	case "!=":
		return OpNe
	case "<":
		return OpLt
	case "<=":
		return OpLe
	case ">":
		return OpGt
	case ">=":
		return OpGe
	default:
		return OpAdd
	}
}

func (g *irGen) lowerAssign(e *BinaryExpr) (string, error) {
	v, err := g.lowerExpr(e.Right)
	if err != nil {
		return "", err
	}
	switch target := e.Left.(type) {
	case *Identifier:
		g.emit(IStore{Dst: target.Name, Src: v})
	case *MemberAccess:
		// spec.md's opcode union has no field-store form (`get_field`
		// only reads); field mutation through an object reference has
		// no lowering yet. The target is still evaluated for its side
		// effects so `f().field = v` doesn't silently drop `f()`.
		if _, err := g.lowerExpr(target.Target); err != nil {
			return "", err
		}
		return "", abort(Diagnostic{Code: "E-IR-003", Message: "assignment to a field through an object reference is not supported"})
	case *ArrayAccess:
		if _, err := g.lowerExpr(target.Target); err != nil {
			return "", err
		}
		if _, err := g.lowerExpr(target.Index); err != nil {
			return "", err
		}
		// No array store form exists without a managed heap; the value
		// is still computed so side effects in the index expression run.
	}
	return v, nil
}

func (g *irGen) lowerCall(e *CallExpr) (string, error) {
	switch callee := e.Callee.(type) {
	case *Identifier:
		args, err := g.lowerArgs(e.Args)
		if err != nil {
			return "", err
		}
		t := g.mod.NewTemp()
		g.emit(ICall{Func: callee.Name, Args: args, Result: t})
		return t, nil

	case *MemberAccess:
		recv, err := g.lowerExpr(callee.Target)
		if err != nil {
			return "", err
		}
		args, err := g.lowerArgs(e.Args)
		if err != nil {
			return "", err
		}
		vtab := g.mod.NewTemp()
		g.emit(ILoadVTable{Receiver: recv, Result: vtab})
		fptr := g.mod.NewTemp()
		g.emit(IVTableMethod{VTable: vtab, Name: callee.Name, Result: fptr})
		t := g.mod.NewTemp()
		g.emit(ICallMethod{FuncPtr: fptr, Receiver: recv, Args: args, Result: t})
		return t, nil

	default:
		return "", abort(Diagnostic{Code: "E-IR-002", Message: "unsupported call target"})
	}
}

func (g *irGen) lowerArgs(args []Node) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		v, err := g.lowerExpr(a)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// lowerNew lowers `new Class(args)` to sizeof → alloc → set_vtable →
// call `<Class>_init`, per spec.md §4.4.
func (g *irGen) lowerNew(e *NewExpr) (string, error) {
	sz := g.mod.NewTemp()
	g.emit(ISizeof{Class: e.Class, Result: sz})
	obj := g.mod.NewTemp()
	g.emit(IAlloc{Size: sz, Result: obj})
	if vt, ok := g.mod.VTableFor(e.Class); ok {
		g.emit(ISetVTable{Obj: obj, VTable: vt.Label})
	}
	args, err := g.lowerArgs(e.Args)
	if err != nil {
		return "", err
	}
	callArgs := append([]string{obj}, args...)
	result := g.mod.NewTemp()
	g.emit(ICall{Func: mangleMethod(e.Class, "init"), Args: callArgs, Result: result})
	return obj, nil
}
