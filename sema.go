package mfc

// Analysis is the annotated result of semantic analysis: the scope
// tree, the type registry, and enough per-node bookkeeping for the IR
// generator to consume without re-deriving it.
type Analysis struct {
	Global    *Scope
	Types     *TypeRegistry
	ExprTypes map[Node]string
	NodeScope map[Node]*Scope
	Classes   map[string]*ClassDecl
	Methods   map[string][]*MethodDecl // class name -> methods, in declaration order
}

type analyzer struct {
	diags      *Diagnostics
	types      *TypeRegistry
	global     *Scope
	exprTypes  map[Node]string
	nodeScope  map[Node]*Scope
	classes    map[string]*ClassDecl
	interfaces map[string]*InterfaceDecl
	methods    map[string][]*MethodDecl
	curClass   string
}

// Analyze runs the four semantic-analysis passes of spec.md §4.3 and
// returns the annotated result. Errors are collected in diags rather
// than aborting mid-pass; the caller checks diags.HasErrors() before
// proceeding to IR generation, per spec.md §7.
func Analyze(prog *Program, diags *Diagnostics) *Analysis {
	a := &analyzer{
		diags:      diags,
		types:      NewTypeRegistry(),
		exprTypes:  map[Node]string{},
		nodeScope:  map[Node]*Scope{},
		classes:    map[string]*ClassDecl{},
		interfaces: map[string]*InterfaceDecl{},
		methods:    map[string][]*MethodDecl{},
	}
	a.global = NewScope("global", nil)
	a.declareBuiltins()

	a.passCollect(prog)
	a.passValidateHierarchy()
	a.passCheck(prog)
	a.passUnused()

	return &Analysis{
		Global:    a.global,
		Types:     a.types,
		ExprTypes: a.exprTypes,
		NodeScope: a.nodeScope,
		Classes:   a.classes,
		Methods:   a.methods,
	}
}

// ---- Pass 1: symbol/type collection ----

func (a *analyzer) passCollect(prog *Program) {
	for _, decl := range prog.Decls {
		switch d := decl.(type) {
		case *FunctionDecl:
			a.declareFunction(d)
		case *ClassDecl:
			a.declareClass(d)
		case *InterfaceDecl:
			a.declareInterface(d)
		}
	}
	for _, decl := range prog.Decls {
		switch d := decl.(type) {
		case *FunctionDecl:
			a.collectFunctionBody(d)
		case *ClassDecl:
			a.collectClassBodies(d)
		}
	}
}

// declareBuiltins seeds the global scope with the C runtime entry
// points a program can call directly by name without its own
// declaration (spec.md's "a string literal passed to printf" test
// scenario). __mf_raise has its own `raise` statement form instead of
// a call syntax, so it is not seeded here.
func (a *analyzer) declareBuiltins() {
	a.global.Declare(&Symbol{Name: "printf", Kind: SymFunction, Type: "i32", Exported: true})
}

func (a *analyzer) declareFunction(d *FunctionDecl) {
	sym := &Symbol{Name: d.Name, Kind: SymFunction, Type: returnTypeName(d.ReturnType), Loc: d.Sp.Start, Exported: true}
	if !a.global.Declare(sym) {
		a.diags.Errorf(d.Sp.Start, "E-SEM-003", "redefinition of %q", d.Name)
	}
}

func (a *analyzer) declareClass(d *ClassDecl) {
	a.classes[d.Name] = d
	info := &TypeInfo{Name: d.Name, Fields: map[string]string{}, Methods: map[string]MethodSig{}, Parent: d.Extends, Interfaces: d.Implements}
	for _, f := range d.Fields {
		info.Fields[f.Name] = typeName(f.Type)
		info.FieldOrder = append(info.FieldOrder, f.Name)
	}
	for _, m := range d.Methods {
		info.Methods[m.Name] = MethodSig{ReturnType: returnTypeName(m.ReturnType), ParamTypes: paramTypes(m.Params), Abstract: m.Abstract}
	}
	a.types.Define(info)
	a.methods[d.Name] = d.Methods
	sym := &Symbol{Name: d.Name, Kind: SymStruct, Type: d.Name, Loc: d.Sp.Start, Exported: true}
	if !a.global.Declare(sym) {
		a.diags.Errorf(d.Sp.Start, "E-SEM-003", "redefinition of %q", d.Name)
	}
}

func (a *analyzer) declareInterface(d *InterfaceDecl) {
	a.interfaces[d.Name] = d
	info := &TypeInfo{Name: d.Name, Fields: map[string]string{}, Methods: map[string]MethodSig{}}
	for _, m := range d.Methods {
		info.Methods[m.Name] = MethodSig{ReturnType: returnTypeName(m.ReturnType), ParamTypes: paramTypes(m.Params), Abstract: true}
	}
	a.types.Define(info)
	sym := &Symbol{Name: d.Name, Kind: SymInterface, Type: d.Name, Loc: d.Sp.Start, Exported: true}
	if !a.global.Declare(sym) {
		a.diags.Errorf(d.Sp.Start, "E-SEM-003", "redefinition of %q", d.Name)
	}
}

func (a *analyzer) collectFunctionBody(d *FunctionDecl) {
	if d.Body == nil {
		return
	}
	scope := NewScope("fn:"+d.Name, a.global)
	for _, p := range d.Params {
		sym := &Symbol{Name: p.Name, Kind: SymParameter, Type: typeName(p.Type), Loc: p.Sp.Start}
		if !scope.Declare(sym) {
			a.diags.Errorf(p.Sp.Start, "E-SEM-003", "redefinition of parameter %q", p.Name)
		}
	}
	a.nodeScope[d.Body] = scope
	a.walkBlockDecls(d.Body, scope)
}

func (a *analyzer) collectClassBodies(d *ClassDecl) {
	a.curClass = d.Name
	for _, m := range d.Methods {
		if m.Body == nil {
			continue
		}
		scope := NewScope("method:"+d.Name+"."+m.Name, a.global)
		if !m.Static {
			scope.Declare(&Symbol{Name: "this", Kind: SymVariable, Type: d.Name, Loc: m.Sp.Start})
		}
		for _, p := range m.Params {
			sym := &Symbol{Name: p.Name, Kind: SymParameter, Type: typeName(p.Type), Loc: p.Sp.Start}
			if !scope.Declare(sym) {
				a.diags.Errorf(p.Sp.Start, "E-SEM-003", "redefinition of parameter %q", p.Name)
			}
		}
		a.nodeScope[m.Body] = scope
		a.walkBlockDecls(m.Body, scope)
	}
	a.curClass = ""
}

func (a *analyzer) walkBlockDecls(b *Block, scope *Scope) {
	a.nodeScope[b] = scope
	for _, stmt := range b.Stmts {
		a.walkStmtDecls(stmt, scope)
	}
}

func (a *analyzer) walkStmtDecls(stmt Node, scope *Scope) {
	switch st := stmt.(type) {
	case *VarDecl:
		typ := "unknown"
		if st.Type != nil {
			typ = typeName(st.Type)
		}
		sym := &Symbol{Name: st.Name, Kind: SymVariable, Type: typ, Loc: st.Sp.Start, Mutable: st.Mutable}
		if !scope.Declare(sym) {
			a.diags.Errorf(st.Sp.Start, "E-SEM-003", "redefinition of %q", st.Name)
		}
	case *If:
		a.walkBlockDecls(st.Then, NewScope("if-then", scope))
		switch e := st.Else.(type) {
		case *Block:
			a.walkBlockDecls(e, NewScope("if-else", scope))
		case *If:
			a.walkStmtDecls(e, scope)
		}
	case *While:
		a.walkBlockDecls(st.Body, NewScope("while", scope))
	case *For:
		loopScope := NewScope("for:"+st.Var, scope)
		loopScope.Declare(&Symbol{Name: st.Var, Kind: SymVariable, Type: "i32", Loc: st.Sp.Start})
		a.nodeScope[st] = loopScope
		a.walkBlockDecls(st.Body, NewScope("for-body", loopScope))
	case *Block:
		a.walkBlockDecls(st, NewScope("block", scope))
	case *AsyncBlock:
		a.walkBlockDecls(st.Body, NewScope("async", scope))
	}
}

func typeName(t *TypeExpr) string {
	if t == nil {
		return "unknown"
	}
	return t.Name
}

func returnTypeName(t *TypeExpr) string {
	if t == nil {
		return "void"
	}
	return t.Name
}

func paramTypes(params []*Parameter) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = typeName(p.Type)
	}
	return out
}

// ---- Pass 2: type relationship validation ----

func (a *analyzer) passValidateHierarchy() {
	for _, d := range a.classes {
		if d.Extends != "" {
			if _, ok := a.classes[d.Extends]; !ok {
				a.diags.Errorf(d.Sp.Start, "E-SEM-002", "undefined parent class %q", d.Extends)
			}
		}
		for _, ifaceName := range d.Implements {
			if _, ok := a.interfaces[ifaceName]; !ok {
				a.diags.Errorf(d.Sp.Start, "E-SEM-002", "undefined interface %q", ifaceName)
			}
		}
	}
	for _, d := range a.classes {
		if a.hasCycle(d.Name) {
			a.diags.Errorf(d.Sp.Start, "E-SEM-007", "cyclic inheritance involving %q", d.Name)
		}
	}
	for _, d := range a.classes {
		a.checkOverrides(d)
		a.checkAbstractCoverage(d)
	}
}

func (a *analyzer) hasCycle(name string) bool {
	visited := map[string]bool{}
	cur := name
	for {
		if visited[cur] {
			return true
		}
		visited[cur] = true
		d, ok := a.classes[cur]
		if !ok || d.Extends == "" {
			return false
		}
		cur = d.Extends
	}
}

func (a *analyzer) checkOverrides(d *ClassDecl) {
	if d.Extends == "" {
		return
	}
	parentSig := a.inheritedMethods(d.Extends)
	for _, m := range d.Methods {
		if sig, ok := parentSig[m.Name]; ok {
			if len(sig.ParamTypes) != len(m.Params) {
				a.diags.Errorf(m.Sp.Start, "E-SEM-006", "method %q.%s has %d parameters, overridden method has %d", d.Name, m.Name, len(m.Params), len(sig.ParamTypes))
			}
		}
	}
}

// inheritedMethods returns the full set of method signatures visible
// from className, walking the extends chain.
func (a *analyzer) inheritedMethods(className string) map[string]MethodSig {
	out := map[string]MethodSig{}
	visited := map[string]bool{}
	cur := className
	for cur != "" && !visited[cur] {
		visited[cur] = true
		info, ok := a.types.Lookup(cur)
		if !ok {
			break
		}
		for name, sig := range info.Methods {
			if _, exists := out[name]; !exists {
				out[name] = sig
			}
		}
		cur = info.Parent
	}
	return out
}

// checkAbstractCoverage emits E-SEM-005 when a concrete class does
// not implement every abstract method it inherits from its
// interfaces (directly or via its parent chain).
func (a *analyzer) checkAbstractCoverage(d *ClassDecl) {
	required := map[string]bool{}
	for _, ifaceName := range d.Implements {
		iface, ok := a.interfaces[ifaceName]
		if !ok {
			continue
		}
		for _, m := range iface.Methods {
			required[m.Name] = true
		}
	}
	if len(required) == 0 {
		return
	}
	have := map[string]bool{}
	cur := d.Name
	visited := map[string]bool{}
	for cur != "" && !visited[cur] {
		visited[cur] = true
		info, ok := a.types.Lookup(cur)
		if !ok {
			break
		}
		for name, sig := range info.Methods {
			if !sig.Abstract {
				have[name] = true
			}
		}
		classDecl, ok := a.classes[cur]
		if !ok {
			break
		}
		cur = classDecl.Extends
	}
	for name := range required {
		if !have[name] {
			a.diags.Errorf(d.Sp.Start, "E-SEM-005", "class %q is missing an implementation of %q", d.Name, name)
		}
	}
}

// ---- Pass 3: expression/statement checking ----

func (a *analyzer) passCheck(prog *Program) {
	for _, decl := range prog.Decls {
		switch d := decl.(type) {
		case *FunctionDecl:
			a.checkTypeExpr(d.ReturnType, d.Sp.Start)
			for _, p := range d.Params {
				a.checkTypeExpr(p.Type, p.Sp.Start)
			}
			if d.Body != nil {
				a.checkFunctionLike(d.Body, a.nodeScope[d.Body], "", returnTypeName(d.ReturnType), d.Sp)
			}
		case *ClassDecl:
			for _, f := range d.Fields {
				a.checkTypeExpr(f.Type, f.Sp.Start)
			}
			for _, m := range d.Methods {
				a.checkTypeExpr(m.ReturnType, m.Sp.Start)
				for _, p := range m.Params {
					a.checkTypeExpr(p.Type, p.Sp.Start)
				}
				if m.Body != nil {
					a.checkFunctionLike(m.Body, a.nodeScope[m.Body], d.Name, returnTypeName(m.ReturnType), m.Sp)
				}
			}
		}
	}
}

// checkTypeExpr resolves t against the type registry, per spec.md's
// pass-3 requirement that every TypeExpr name a known TypeInfo. nil
// means an inferred/void type and is never unresolved.
func (a *analyzer) checkTypeExpr(t *TypeExpr, loc Location) {
	if t == nil {
		return
	}
	if _, ok := a.types.Lookup(t.Name); !ok {
		a.diags.Errorf(loc, "E-SEM-002", "undefined type %q", t.Name)
	}
}

func (a *analyzer) checkFunctionLike(body *Block, scope *Scope, className, retType string, declSpan Span) {
	a.checkBlock(body, scope)
	if retType != "void" && !a.blockReturnsOnAllPaths(body) {
		a.diags.Warnf(declSpan.Start, "W-SEM-002", "not every path returns a value")
	}
}

func (a *analyzer) checkBlock(b *Block, scope *Scope) {
	for _, stmt := range b.Stmts {
		a.checkStmt(stmt, scope)
	}
}

func (a *analyzer) checkStmt(stmt Node, scope *Scope) {
	switch st := stmt.(type) {
	case *VarDecl:
		a.checkTypeExpr(st.Type, st.Sp.Start)
		if st.Init != nil {
			initType := a.checkExpr(st.Init, scope)
			declared := "unknown"
			if st.Type != nil {
				declared = typeName(st.Type)
				if !a.types.Compatible(declared, initType) {
					a.diags.Errorf(st.Sp.Start, "E-SEM-001", "cannot assign %s to %s %q", initType, declared, st.Name)
				}
			}
			if st.Type == nil {
				if sym := scope.LookupLocal(st.Name); sym != nil {
					sym.Type = initType
				}
			}
		}
	case *If:
		a.checkExpr(st.Cond, scope)
		a.checkBlock(st.Then, a.nodeScope[st.Then])
		switch e := st.Else.(type) {
		case *Block:
			a.checkBlock(e, a.nodeScope[e])
		case *If:
			a.checkStmt(e, scope)
		}
	case *While:
		a.checkExpr(st.Cond, scope)
		a.checkBlock(st.Body, a.nodeScope[st.Body])
	case *For:
		if r, ok := st.Iter.(*RangeExpr); ok {
			a.checkExpr(r.From, scope)
			a.checkExpr(r.To, scope)
			if r.Step != nil {
				a.checkExpr(r.Step, scope)
			}
		} else {
			a.checkExpr(st.Iter, scope)
		}
		a.checkBlock(st.Body, a.nodeScope[st.Body])
	case *Return:
		if st.Value != nil {
			a.checkExpr(st.Value, scope)
		}
	case *ExpressionStmt:
		a.checkExpr(st.Expr, scope)
	case *RaiseStmt:
		a.checkExpr(st.Value, scope)
	case *SpawnStmt:
		a.checkExpr(st.Value, scope)
	case *Block:
		a.checkBlock(st, a.nodeScope[st])
	case *AsyncBlock:
		a.checkBlock(st.Body, a.nodeScope[st.Body])
	}
}

func (a *analyzer) checkExpr(n Node, scope *Scope) string {
	var t string
	switch e := n.(type) {
	case *IntLiteral:
		t = "i32"
	case *FloatLiteral:
		t = "f64"
	case *StringLiteral:
		t = "string"
	case *BoolLiteral:
		t = "bool"
	case *This:
		t = a.curClassOrUnknown(scope)
	case *Super:
		t = a.curClassOrUnknown(scope)
	case *Identifier:
		sym := scope.Lookup(e.Name)
		if sym == nil {
			a.diags.Errorf(e.Sp.Start, "E-SEM-002", "undefined symbol %q", e.Name)
			t = "unknown"
			break
		}
		sym.Referenced = true
		t = sym.Type
	case *UnaryExpr:
		t = a.checkExpr(e.Expr, scope)
	case *BinaryExpr:
		lt := a.checkExpr(e.Left, scope)
		rt := a.checkExpr(e.Right, scope)
		if e.Op != "=" && !a.types.Compatible(lt, rt) {
			a.diags.Errorf(e.Sp.Start, "E-SEM-001", "incompatible operand types %s and %s", lt, rt)
		}
		switch e.Op {
		case "==", "!=", "<", "<=", ">", ">=", "&&", "||":
			t = "bool"
		default:
			t = lt
		}
	case *CallExpr:
		t = a.checkCall(e, scope)
	case *MemberAccess:
		targetType := a.checkExpr(e.Target, scope)
		t = a.fieldOrMethodType(targetType, e.Name)
	case *ArrayAccess:
		a.checkExpr(e.Target, scope)
		a.checkExpr(e.Index, scope)
		t = "unknown"
	case *ArraySlice:
		a.checkExpr(e.Target, scope)
		if e.Low != nil {
			a.checkExpr(e.Low, scope)
		}
		if e.High != nil {
			a.checkExpr(e.High, scope)
		}
		t = "unknown"
	case *RangeExpr:
		a.checkExpr(e.From, scope)
		a.checkExpr(e.To, scope)
		if e.Step != nil {
			a.checkExpr(e.Step, scope)
		}
		t = "i32"
	case *NewExpr:
		t = a.checkNew(e, scope)
	default:
		t = "unknown"
	}
	a.exprTypes[n] = t
	return t
}

func (a *analyzer) curClassOrUnknown(scope *Scope) string {
	if sym := scope.Lookup("this"); sym != nil {
		return sym.Type
	}
	return "unknown"
}

func (a *analyzer) checkCall(e *CallExpr, scope *Scope) string {
	switch callee := e.Callee.(type) {
	case *Identifier:
		sym := scope.Lookup(callee.Name)
		if sym == nil {
			a.diags.Errorf(callee.Sp.Start, "E-SEM-002", "undefined function %q", callee.Name)
			for _, arg := range e.Args {
				a.checkExpr(arg, scope)
			}
			return "unknown"
		}
		sym.Referenced = true
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return sym.Type
	case *MemberAccess:
		targetType := a.checkExpr(callee.Target, scope)
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return a.fieldOrMethodType(targetType, callee.Name)
	default:
		a.checkExpr(e.Callee, scope)
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return "unknown"
	}
}

func (a *analyzer) fieldOrMethodType(className, member string) string {
	cur := className
	visited := map[string]bool{}
	for cur != "" && !visited[cur] {
		visited[cur] = true
		info, ok := a.types.Lookup(cur)
		if !ok {
			return "unknown"
		}
		if ft, ok := info.Fields[member]; ok {
			return ft
		}
		if sig, ok := info.Methods[member]; ok {
			return sig.ReturnType
		}
		cur = info.Parent
	}
	return "unknown"
}

func (a *analyzer) checkNew(e *NewExpr, scope *Scope) string {
	info, ok := a.types.Lookup(e.Class)
	if !ok {
		a.diags.Errorf(e.Sp.Start, "E-SEM-002", "undefined type %q", e.Class)
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return "unknown"
	}
	if d, isClass := a.classes[e.Class]; isClass {
		if a.hasUnimplementedAbstracts(d.Name) {
			a.diags.Errorf(e.Sp.Start, "E-SEM-004", "cannot instantiate %q: abstract methods not implemented", e.Class)
		}
	} else {
		a.diags.Errorf(e.Sp.Start, "E-SEM-004", "cannot instantiate non-class type %q", e.Class)
	}
	for _, arg := range e.Args {
		a.checkExpr(arg, scope)
	}
	return info.Name
}

func (a *analyzer) hasUnimplementedAbstracts(className string) bool {
	cur := className
	visited := map[string]bool{}
	implemented := map[string]bool{}
	for cur != "" && !visited[cur] {
		visited[cur] = true
		info, ok := a.types.Lookup(cur)
		if !ok {
			return false
		}
		for name, sig := range info.Methods {
			if !sig.Abstract {
				implemented[name] = true
			}
		}
		for name, sig := range info.Methods {
			if sig.Abstract && !implemented[name] {
				return true
			}
		}
		cur = info.Parent
	}
	return false
}

// blockReturnsOnAllPaths implements the return-path analysis of
// spec.md §4.3: every control-flow path must end in a return.
func (a *analyzer) blockReturnsOnAllPaths(b *Block) bool {
	if len(b.Stmts) == 0 {
		return false
	}
	last := b.Stmts[len(b.Stmts)-1]
	return a.stmtReturnsOnAllPaths(last)
}

func (a *analyzer) stmtReturnsOnAllPaths(n Node) bool {
	switch st := n.(type) {
	case *Return:
		return true
	case *If:
		if st.Else == nil {
			return false
		}
		thenOk := a.blockReturnsOnAllPaths(st.Then)
		var elseOk bool
		switch e := st.Else.(type) {
		case *Block:
			elseOk = a.blockReturnsOnAllPaths(e)
		case *If:
			elseOk = a.stmtReturnsOnAllPaths(e)
		}
		return thenOk && elseOk
	case *Block:
		return a.blockReturnsOnAllPaths(st)
	case *RaiseStmt:
		return true
	default:
		return false
	}
}

// ---- Pass 4: unused-symbol warnings ----

func (a *analyzer) passUnused() {
	a.walkScopeUnused(a.global)
}

func (a *analyzer) walkScopeUnused(s *Scope) {
	for _, sym := range s.All() {
		if !sym.Exported && !sym.Referenced && sym.Name != "this" {
			a.diags.Warnf(sym.Loc, "W-SEM-001", "%q is never used", sym.Name)
		}
	}
	for _, child := range s.Children {
		a.walkScopeUnused(child)
	}
}
