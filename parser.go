package mfc

import (
	"fmt"
)

// Parser is a recursive-descent parser over a token stream. It never
// panics: on a mismatched token it records a diagnostic and
// synchronizes to the next statement or top-level declaration,
// leaving Program.Errors set so callers know the tree is partial.
type Parser struct {
	file   string
	tokens []Token
	pos    int
	diags  *Diagnostics
	errors bool
}

func NewParser(file string, tokens []Token, diags *Diagnostics) *Parser {
	// Comments never influence parsing; drop them up front, which is
	// equivalent to skipping them at every significant boundary.
	filtered := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind != TokComment {
			filtered = append(filtered, t)
		}
	}
	return &Parser{file: file, tokens: filtered, diags: diags}
}

func (p *Parser) cur() Token  { return p.tokens[p.pos] }
func (p *Parser) atEnd() bool { return p.cur().Kind == TokEOF }

func (p *Parser) peekNext() Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) advance() Token {
	t := p.cur()
	if !p.atEnd() {
		p.pos++
	}
	return t
}

func (p *Parser) checkLexeme(lexeme string) bool {
	return p.cur().Lexeme == lexeme && (p.cur().Kind == TokKeyword || p.cur().Kind == TokOperator || p.cur().Kind == TokPunct)
}

func (p *Parser) checkKind(k TokenKind) bool { return p.cur().Kind == k }

func (p *Parser) matchLexeme(lexeme string) bool {
	if p.checkLexeme(lexeme) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectLexeme(lexeme string) (Token, error) {
	if p.checkLexeme(lexeme) {
		return p.advance(), nil
	}
	return p.errExpected(fmt.Sprintf("%q", lexeme))
}

func (p *Parser) expectKind(k TokenKind) (Token, error) {
	if p.checkKind(k) {
		return p.advance(), nil
	}
	return p.errExpected(k.String())
}

func (p *Parser) errExpected(expected string) (Token, error) {
	got := p.cur()
	p.errors = true
	p.diags.Errorf(got.Loc, "E-SYN-002", "expected %s, got %q (%s)", expected, got.Lexeme, got.Kind)
	return got, &compileAbort{diag: Diagnostic{Code: "E-SYN-002"}}
}

// synchronize advances until the next ';' or the next top-level
// keyword, so one compilation can surface multiple parse diagnostics.
func (p *Parser) synchronize() {
	for !p.atEnd() {
		if p.cur().Lexeme == ";" {
			p.advance()
			return
		}
		switch p.cur().Lexeme {
		case "fn", "func", "class", "interface", "import":
			return
		}
		p.advance()
	}
}

func span(start, end Token) Span { return Span{Start: start.Loc, End: end.Loc} }

// ParseProgram parses the whole token stream into a Program AST.
func (p *Parser) ParseProgram() *Program {
	start := p.cur()
	prog := &Program{}
	for !p.atEnd() {
		decorators := p.parseDecorators()
		decl, err := p.parseTopDecl(decorators)
		if err != nil {
			prog.Errors = true
			p.synchronize()
			continue
		}
		switch d := decl.(type) {
		case *Import:
			prog.Imports = append(prog.Imports, d)
		default:
			prog.Decls = append(prog.Decls, d)
		}
	}
	end := start
	if len(p.tokens) > 0 {
		end = p.tokens[len(p.tokens)-1]
	}
	prog.Sp = span(start, end)
	prog.Errors = prog.Errors || p.errors
	return prog
}

func (p *Parser) parseDecorators() []Decorator {
	var out []Decorator
	for p.checkLexeme("@") {
		start := p.advance()
		name, err := p.expectKind(TokIdentifier)
		if err != nil {
			break
		}
		var args []Node
		if p.matchLexeme("(") {
			for !p.checkLexeme(")") && !p.atEnd() {
				arg, err := p.parseExpression()
				if err != nil {
					break
				}
				args = append(args, arg)
				if !p.matchLexeme(",") {
					break
				}
			}
			p.expectLexeme(")")
		}
		out = append(out, Decorator{Name: name.Lexeme, Args: args, Sp: span(start, p.cur())})
	}
	return out
}

func (p *Parser) parseTopDecl(decorators []Decorator) (Node, error) {
	switch {
	case p.checkLexeme("import"):
		return p.parseImport()
	case p.checkLexeme("class"):
		return p.parseClass(decorators)
	case p.checkLexeme("interface"):
		return p.parseInterface(decorators)
	case p.checkLexeme("fn") || p.checkLexeme("func"):
		return p.parseFunction(decorators)
	default:
		_, err := p.errExpected("'import', 'class', 'interface', 'fn' or 'func'")
		return nil, err
	}
}

func (p *Parser) parseImport() (Node, error) {
	start := p.advance() // 'import'
	pathTok, err := p.expectKind(TokString)
	if err != nil {
		return nil, err
	}
	hint := ""
	if p.checkKind(TokString) {
		hint = unquote(p.advance().Lexeme)
	}
	semi, err := p.expectLexeme(";")
	if err != nil {
		return nil, err
	}
	return &Import{Sp: span(start, semi), Path: unquote(pathTok.Lexeme), HeaderHint: hint}, nil
}

func (p *Parser) parseGenerics() []string {
	var out []string
	if p.matchLexeme("<") {
		for !p.checkLexeme(">") && !p.atEnd() {
			id, err := p.expectKind(TokIdentifier)
			if err != nil {
				break
			}
			out = append(out, id.Lexeme)
			if !p.matchLexeme(",") {
				break
			}
		}
		p.expectLexeme(">")
	}
	return out
}

func (p *Parser) parseIdentList() []string {
	var out []string
	for {
		id, err := p.expectKind(TokIdentifier)
		if err != nil {
			break
		}
		out = append(out, id.Lexeme)
		if !p.matchLexeme(",") {
			break
		}
	}
	return out
}

func (p *Parser) parseClass(decorators []Decorator) (Node, error) {
	start := p.advance() // 'class'
	name, err := p.expectKind(TokIdentifier)
	if err != nil {
		return nil, err
	}
	generics := p.parseGenerics()
	extends := ""
	if p.matchLexeme("extends") {
		id, err := p.expectKind(TokIdentifier)
		if err != nil {
			return nil, err
		}
		extends = id.Lexeme
	}
	var implements []string
	if p.matchLexeme("implements") {
		implements = p.parseIdentList()
	}
	if _, err := p.expectLexeme("{"); err != nil {
		return nil, err
	}
	cls := &ClassDecl{
		decoratorBag: decoratorBag{decorators},
		Name:         name.Lexeme,
		Generics:     generics,
		Extends:      extends,
		Implements:   implements,
	}
	for !p.checkLexeme("}") && !p.atEnd() {
		memberDecorators := p.parseDecorators()
		member, err := p.parseClassMember(memberDecorators)
		if err != nil {
			p.synchronize()
			continue
		}
		switch m := member.(type) {
		case *FieldDecl:
			cls.Fields = append(cls.Fields, m)
		case *MethodDecl:
			cls.Methods = append(cls.Methods, m)
		}
	}
	end, err := p.expectLexeme("}")
	if err != nil {
		return nil, err
	}
	cls.Sp = span(start, end)
	return cls, nil
}

func (p *Parser) parseClassMember(decorators []Decorator) (Node, error) {
	static := p.matchLexeme("static")
	abstract := p.matchLexeme("abstract")
	// Visibility modifiers are parsed and dropped: they have no
	// semantic effect in this core.
	for p.checkLexeme("public") || p.checkLexeme("private") || p.checkLexeme("protected") {
		p.advance()
	}
	if p.checkLexeme("fn") || p.checkLexeme("func") {
		return p.parseMethod(decorators, static, abstract)
	}
	return p.parseField(decorators)
}

func (p *Parser) parseField(decorators []Decorator) (Node, error) {
	start := p.cur()
	name, err := p.expectKind(TokIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectLexeme(":"); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	var init Node
	if p.matchLexeme("=") {
		init, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	end, err := p.expectLexeme(";")
	if err != nil {
		return nil, err
	}
	return &FieldDecl{
		decoratorBag: decoratorBag{decorators},
		Sp:           span(start, end),
		Name:         name.Lexeme,
		Type:         typ,
		Init:         init,
	}, nil
}

func (p *Parser) parseMethod(decorators []Decorator, static, abstract bool) (Node, error) {
	start := p.advance() // 'fn'/'func'
	name, err := p.expectKind(TokIdentifier)
	if err != nil {
		return nil, err
	}
	generics := p.parseGenerics()
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	var ret *TypeExpr
	if p.matchLexeme("->") {
		ret, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	m := &MethodDecl{
		decoratorBag: decoratorBag{decorators},
		Name:         name.Lexeme,
		Generics:     generics,
		Params:       params,
		ReturnType:   ret,
		Abstract:     abstract,
		Static:       static,
	}
	if abstract {
		end, err := p.expectLexeme(";")
		if err != nil {
			return nil, err
		}
		m.Sp = span(start, end)
		return m, nil
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	m.Body = body
	m.Sp = span(start, p.tokens[p.pos-1])
	return m, nil
}

func (p *Parser) parseInterface(decorators []Decorator) (Node, error) {
	start := p.advance() // 'interface'
	name, err := p.expectKind(TokIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectLexeme("{"); err != nil {
		return nil, err
	}
	iface := &InterfaceDecl{decoratorBag: decoratorBag{decorators}, Name: name.Lexeme}
	for !p.checkLexeme("}") && !p.atEnd() {
		methodDecorators := p.parseDecorators()
		p.matchLexeme("abstract")
		m, err := p.parseMethod(methodDecorators, false, true)
		if err != nil {
			p.synchronize()
			continue
		}
		iface.Methods = append(iface.Methods, m.(*MethodDecl))
	}
	end, err := p.expectLexeme("}")
	if err != nil {
		return nil, err
	}
	iface.Sp = span(start, end)
	return iface, nil
}

func (p *Parser) parseFunction(decorators []Decorator) (Node, error) {
	m, err := p.parseMethod(decorators, false, false)
	if err != nil {
		return nil, err
	}
	md := m.(*MethodDecl)
	return &FunctionDecl{
		decoratorBag: decoratorBag{decorators},
		Sp:           md.Sp,
		Name:         md.Name,
		Generics:     md.Generics,
		Params:       md.Params,
		ReturnType:   md.ReturnType,
		Body:         md.Body,
	}, nil
}

func (p *Parser) parseParams() ([]*Parameter, error) {
	if _, err := p.expectLexeme("("); err != nil {
		return nil, err
	}
	var params []*Parameter
	for !p.checkLexeme(")") && !p.atEnd() {
		start := p.cur()
		name, err := p.expectKind(TokIdentifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectLexeme(":"); err != nil {
			return nil, err
		}
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		params = append(params, &Parameter{Sp: span(start, p.tokens[p.pos-1]), Name: name.Lexeme, Type: typ})
		if !p.matchLexeme(",") {
			break
		}
	}
	if _, err := p.expectLexeme(")"); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseType() (*TypeExpr, error) {
	start := p.cur()
	hybrid := false
	if p.checkKind(TokType) && p.cur().Lexeme == "hybrid" {
		p.advance()
		hybrid = true
	}
	var name string
	if p.checkKind(TokType) || p.checkKind(TokIdentifier) {
		name = p.advance().Lexeme
	} else {
		_, err := p.errExpected("type name")
		return nil, err
	}
	t := &TypeExpr{Name: name, Hybrid: hybrid}
	if p.matchLexeme("<") {
		for !p.checkLexeme(">") && !p.atEnd() {
			g, err := p.parseType()
			if err != nil {
				return nil, err
			}
			t.Generics = append(t.Generics, g)
			if !p.matchLexeme(",") {
				break
			}
		}
		if _, err := p.expectLexeme(">"); err != nil {
			return nil, err
		}
	}
	for p.checkLexeme("[") {
		p.advance()
		if p.checkKind(TokInt) {
			p.advance()
		}
		if _, err := p.expectLexeme("]"); err != nil {
			return nil, err
		}
		t.ArrayDims++
	}
	if p.matchLexeme("*") {
		t.Pointer = true
	}
	t.Sp = span(start, p.tokens[p.pos-1])
	return t, nil
}

// ---- Statements ----

func (p *Parser) parseBlock() (*Block, error) {
	start, err := p.expectLexeme("{")
	if err != nil {
		return nil, err
	}
	b := &Block{}
	for !p.checkLexeme("}") && !p.atEnd() {
		stmt, err := p.parseStatement()
		if err != nil {
			p.synchronize()
			continue
		}
		b.Stmts = append(b.Stmts, stmt)
	}
	end, err := p.expectLexeme("}")
	if err != nil {
		return nil, err
	}
	b.Sp = span(start, end)
	return b, nil
}

func (p *Parser) parseStatement() (Node, error) {
	switch {
	case p.checkLexeme("let") || p.checkLexeme("auto"):
		return p.parseVarDecl()
	case p.checkLexeme("if"):
		return p.parseIf()
	case p.checkLexeme("while"):
		return p.parseWhile()
	case p.checkLexeme("for"):
		return p.parseFor()
	case p.checkLexeme("return"):
		return p.parseReturn()
	case p.checkLexeme("raise"):
		return p.parseRaise()
	case p.checkLexeme("spawn"):
		return p.parseSpawn()
	case p.checkLexeme("async"):
		return p.parseAsync()
	case p.checkLexeme("{"):
		return p.parseBlock()
	default:
		return p.parseExpressionStmt()
	}
}

func (p *Parser) parseVarDecl() (Node, error) {
	start := p.advance()
	mutable := start.Lexeme == "auto"
	name, err := p.expectKind(TokIdentifier)
	if err != nil {
		return nil, err
	}
	var typ *TypeExpr
	if p.matchLexeme(":") {
		typ, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	var init Node
	if p.matchLexeme("=") {
		init, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	end, err := p.expectLexeme(";")
	if err != nil {
		return nil, err
	}
	return &VarDecl{Sp: span(start, end), Name: name.Lexeme, Type: typ, Init: init, Mutable: mutable}, nil
}

func (p *Parser) parseIf() (Node, error) {
	start := p.advance()
	if _, err := p.expectLexeme("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectLexeme(")"); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	n := &If{Cond: cond, Then: then}
	end := p.tokens[p.pos-1]
	if p.matchLexeme("else") {
		if p.checkLexeme("if") {
			n.Else, err = p.parseIf()
		} else {
			n.Else, err = p.parseBlock()
		}
		if err != nil {
			return nil, err
		}
		end = p.tokens[p.pos-1]
	}
	n.Sp = span(start, end)
	return n, nil
}

func (p *Parser) parseWhile() (Node, error) {
	start := p.advance()
	if _, err := p.expectLexeme("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectLexeme(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &While{Sp: span(start, p.tokens[p.pos-1]), Cond: cond, Body: body}, nil
}

func (p *Parser) parseFor() (Node, error) {
	start := p.advance()
	varName, err := p.expectKind(TokIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectLexeme("in"); err != nil {
		return nil, err
	}
	iter, err := p.parseRangeOrExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &For{Sp: span(start, p.tokens[p.pos-1]), Var: varName.Lexeme, Iter: iter, Body: body}, nil
}

func (p *Parser) parseRangeOrExpr() (Node, error) {
	if p.checkKind(TokIdentifier) && p.cur().Lexeme == "range" && p.peekNext().Lexeme == "(" {
		start := p.advance() // 'range'
		p.advance()           // '('
		from, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectLexeme(","); err != nil {
			return nil, err
		}
		to, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		var step Node
		if p.matchLexeme(",") {
			step, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
		}
		end, err := p.expectLexeme(")")
		if err != nil {
			return nil, err
		}
		return &RangeExpr{Sp: span(start, end), From: from, To: to, Step: step}, nil
	}
	return p.parseExpression()
}

func (p *Parser) parseReturn() (Node, error) {
	start := p.advance()
	if p.checkLexeme(";") {
		end := p.advance()
		return &Return{Sp: span(start, end)}, nil
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	end, err := p.expectLexeme(";")
	if err != nil {
		return nil, err
	}
	return &Return{Sp: span(start, end), Value: value}, nil
}

func (p *Parser) parseRaise() (Node, error) {
	start := p.advance()
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	end, err := p.expectLexeme(";")
	if err != nil {
		return nil, err
	}
	return &RaiseStmt{Sp: span(start, end), Value: value}, nil
}

func (p *Parser) parseSpawn() (Node, error) {
	start := p.advance()
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	end, err := p.expectLexeme(";")
	if err != nil {
		return nil, err
	}
	return &SpawnStmt{Sp: span(start, end), Value: value}, nil
}

func (p *Parser) parseAsync() (Node, error) {
	start := p.advance()
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &AsyncBlock{Sp: span(start, p.tokens[p.pos-1]), Body: body}, nil
}

func (p *Parser) parseExpressionStmt() (Node, error) {
	start := p.cur()
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	end, err := p.expectLexeme(";")
	if err != nil {
		return nil, err
	}
	return &ExpressionStmt{Sp: span(start, end), Expr: expr}, nil
}

// ---- Expressions ----
// Precedence, lowest to highest: assignment, logical-or, logical-and,
// equality, relational, additive, multiplicative, unary, postfix,
// primary.

var compoundAssignOps = map[string]string{"+=": "+", "-=": "-", "*=": "*", "/=": "/"}

func (p *Parser) parseExpression() (Node, error) { return p.parseAssignment() }

func (p *Parser) parseAssignment() (Node, error) {
	left, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.checkLexeme("=") || compoundAssignOps[p.cur().Lexeme] != "" {
		if !isAssignable(left) {
			p.errors = true
			p.diags.Errorf(p.cur().Loc, "E-SYN-001", "invalid assignment target")
			return nil, &compileAbort{diag: Diagnostic{Code: "E-SYN-001"}}
		}
		opTok := p.advance()
		right, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		if base, ok := compoundAssignOps[opTok.Lexeme]; ok {
			right = &BinaryExpr{Sp: span(opTok, opTok), Op: base, Left: left, Right: right}
		}
		return &BinaryExpr{Sp: Span{Start: left.Span().Start, End: right.Span().End}, Op: "=", Left: left, Right: right}, nil
	}
	return left, nil
}

func isAssignable(n Node) bool {
	switch n.(type) {
	case *Identifier, *MemberAccess, *ArrayAccess:
		return true
	default:
		return false
	}
}

func (p *Parser) parseLogicalOr() (Node, error) {
	return p.parseBinaryLevel(p.parseLogicalAnd, "||")
}

func (p *Parser) parseLogicalAnd() (Node, error) {
	return p.parseBinaryLevel(p.parseEquality, "&&")
}

func (p *Parser) parseEquality() (Node, error) {
	return p.parseBinaryLevel(p.parseRelational, "==", "!=")
}

func (p *Parser) parseRelational() (Node, error) {
	return p.parseBinaryLevel(p.parseAdditive, "<", "<=", ">", ">=")
}

func (p *Parser) parseAdditive() (Node, error) {
	return p.parseBinaryLevel(p.parseMultiplicative, "+", "-")
}

func (p *Parser) parseMultiplicative() (Node, error) {
	return p.parseBinaryLevel(p.parseUnary, "*", "/", "%")
}

func (p *Parser) parseBinaryLevel(next func() (Node, error), ops ...string) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range ops {
			if p.cur().Lexeme == op {
				matched = op
				break
			}
		}
		if matched == "" {
			break
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{
			Sp:    Span{Start: left.Span().Start, End: right.Span().End},
			Op:    matched,
			Left:  left,
			Right: right,
		}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if p.checkLexeme("-") || p.checkLexeme("!") {
		opTok := p.advance()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Sp: Span{Start: opTok.Loc, End: expr.Span().End}, Op: opTok.Lexeme, Expr: expr}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Node, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.checkLexeme("("):
			p.advance()
			var args []Node
			for !p.checkLexeme(")") && !p.atEnd() {
				arg, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.matchLexeme(",") {
					break
				}
			}
			end, err := p.expectLexeme(")")
			if err != nil {
				return nil, err
			}
			expr = &CallExpr{Sp: Span{Start: expr.Span().Start, End: end.Loc}, Callee: expr, Args: args}
		case p.checkLexeme("."):
			p.advance()
			name, err := p.expectKind(TokIdentifier)
			if err != nil {
				return nil, err
			}
			expr = &MemberAccess{Sp: Span{Start: expr.Span().Start, End: name.Loc}, Target: expr, Name: name.Lexeme}
		case p.checkLexeme("["):
			p.advance()
			expr, err = p.parseIndexOrSlice(expr)
			if err != nil {
				return nil, err
			}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseIndexOrSlice(target Node) (Node, error) {
	var low Node
	var err error
	if !p.checkLexeme(":") {
		low, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if p.matchLexeme(":") {
		var high Node
		if !p.checkLexeme("]") {
			high, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
		}
		end, err := p.expectLexeme("]")
		if err != nil {
			return nil, err
		}
		return &ArraySlice{Sp: Span{Start: target.Span().Start, End: end.Loc}, Target: target, Low: low, High: high}, nil
	}
	end, err := p.expectLexeme("]")
	if err != nil {
		return nil, err
	}
	return &ArrayAccess{Sp: Span{Start: target.Span().Start, End: end.Loc}, Target: target, Index: low}, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	t := p.cur()
	switch {
	case t.Kind == TokInt:
		p.advance()
		return &IntLiteral{Sp: span(t, t), Value: t.IntVal}, nil
	case t.Kind == TokFloat:
		p.advance()
		return &FloatLiteral{Sp: span(t, t), Value: t.FloatVal}, nil
	case t.Kind == TokString:
		p.advance()
		return &StringLiteral{Sp: span(t, t), Value: unquote(t.Lexeme)}, nil
	case t.Lexeme == "true" || t.Lexeme == "false":
		p.advance()
		return &BoolLiteral{Sp: span(t, t), Value: t.Lexeme == "true"}, nil
	case t.Lexeme == "this":
		p.advance()
		return &This{Sp: span(t, t)}, nil
	case t.Lexeme == "super":
		p.advance()
		return &Super{Sp: span(t, t)}, nil
	case t.Lexeme == "new":
		return p.parseNew()
	case t.Kind == TokIdentifier:
		p.advance()
		return &Identifier{Sp: span(t, t), Name: t.Lexeme}, nil
	case t.Lexeme == "(":
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectLexeme(")"); err != nil {
			return nil, err
		}
		return expr, nil
	default:
		_, err := p.errExpected("an expression")
		return nil, err
	}
}

func (p *Parser) parseNew() (Node, error) {
	start := p.advance() // 'new'
	name, err := p.expectKind(TokIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectLexeme("("); err != nil {
		return nil, err
	}
	var args []Node
	for !p.checkLexeme(")") && !p.atEnd() {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.matchLexeme(",") {
			break
		}
	}
	end, err := p.expectLexeme(")")
	if err != nil {
		return nil, err
	}
	return &NewExpr{Sp: span(start, end), Class: name.Lexeme, Args: args}, nil
}

// unquote strips the surrounding quote characters and resolves the
// `\\x` escapes the lexer passed through verbatim.
func unquote(lexeme string) string {
	if len(lexeme) < 2 {
		return lexeme
	}
	inner := lexeme[1 : len(lexeme)-1]
	out := make([]byte, 0, len(inner))
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '0':
				out = append(out, 0)
			default:
				out = append(out, inner[i])
			}
			continue
		}
		out = append(out, inner[i])
	}
	return string(out)
}
