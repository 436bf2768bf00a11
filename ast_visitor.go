package mfc

import (
	"fmt"
	"strings"
)

// Visitor is the double-dispatch interface reached through Node.Accept.
// The semantic analyzer and the IR generator do not implement it; they
// walk the AST with type switches.
type Visitor interface {
	VisitProgram(*Program) error
	VisitImport(*Import) error
	VisitTypeExpr(*TypeExpr) error
	VisitParameter(*Parameter) error
	VisitFunctionDecl(*FunctionDecl) error
	VisitFieldDecl(*FieldDecl) error
	VisitMethodDecl(*MethodDecl) error
	VisitClassDecl(*ClassDecl) error
	VisitInterfaceDecl(*InterfaceDecl) error
	VisitBlock(*Block) error
	VisitVarDecl(*VarDecl) error
	VisitIf(*If) error
	VisitWhile(*While) error
	VisitFor(*For) error
	VisitReturn(*Return) error
	VisitExpressionStmt(*ExpressionStmt) error
	VisitRaiseStmt(*RaiseStmt) error
	VisitSpawnStmt(*SpawnStmt) error
	VisitAsyncBlock(*AsyncBlock) error
	VisitBinaryExpr(*BinaryExpr) error
	VisitUnaryExpr(*UnaryExpr) error
	VisitCallExpr(*CallExpr) error
	VisitMemberAccess(*MemberAccess) error
	VisitArrayAccess(*ArrayAccess) error
	VisitArraySlice(*ArraySlice) error
	VisitRangeExpr(*RangeExpr) error
	VisitNewExpr(*NewExpr) error
	VisitThis(*This) error
	VisitSuper(*Super) error
	VisitIdentifier(*Identifier) error
	VisitIntLiteral(*IntLiteral) error
	VisitFloatLiteral(*FloatLiteral) error
	VisitStringLiteral(*StringLiteral) error
	VisitBoolLiteral(*BoolLiteral) error
}

// baseVisitor implements Visitor with no-op methods so callers only
// need to override the ones relevant to them (e.g. an analyzer pass
// that only cares about declarations).
type baseVisitor struct{}

func (baseVisitor) VisitProgram(*Program) error                 { return nil }
func (baseVisitor) VisitImport(*Import) error                   { return nil }
func (baseVisitor) VisitTypeExpr(*TypeExpr) error               { return nil }
func (baseVisitor) VisitParameter(*Parameter) error             { return nil }
func (baseVisitor) VisitFunctionDecl(*FunctionDecl) error       { return nil }
func (baseVisitor) VisitFieldDecl(*FieldDecl) error             { return nil }
func (baseVisitor) VisitMethodDecl(*MethodDecl) error           { return nil }
func (baseVisitor) VisitClassDecl(*ClassDecl) error             { return nil }
func (baseVisitor) VisitInterfaceDecl(*InterfaceDecl) error     { return nil }
func (baseVisitor) VisitBlock(*Block) error                     { return nil }
func (baseVisitor) VisitVarDecl(*VarDecl) error                 { return nil }
func (baseVisitor) VisitIf(*If) error                           { return nil }
func (baseVisitor) VisitWhile(*While) error                     { return nil }
func (baseVisitor) VisitFor(*For) error                         { return nil }
func (baseVisitor) VisitReturn(*Return) error                   { return nil }
func (baseVisitor) VisitExpressionStmt(*ExpressionStmt) error   { return nil }
func (baseVisitor) VisitRaiseStmt(*RaiseStmt) error             { return nil }
func (baseVisitor) VisitSpawnStmt(*SpawnStmt) error             { return nil }
func (baseVisitor) VisitAsyncBlock(*AsyncBlock) error           { return nil }
func (baseVisitor) VisitBinaryExpr(*BinaryExpr) error           { return nil }
func (baseVisitor) VisitUnaryExpr(*UnaryExpr) error             { return nil }
func (baseVisitor) VisitCallExpr(*CallExpr) error               { return nil }
func (baseVisitor) VisitMemberAccess(*MemberAccess) error       { return nil }
func (baseVisitor) VisitArrayAccess(*ArrayAccess) error         { return nil }
func (baseVisitor) VisitArraySlice(*ArraySlice) error           { return nil }
func (baseVisitor) VisitRangeExpr(*RangeExpr) error             { return nil }
func (baseVisitor) VisitNewExpr(*NewExpr) error                 { return nil }
func (baseVisitor) VisitThis(*This) error                       { return nil }
func (baseVisitor) VisitSuper(*Super) error                     { return nil }
func (baseVisitor) VisitIdentifier(*Identifier) error           { return nil }
func (baseVisitor) VisitIntLiteral(*IntLiteral) error           { return nil }
func (baseVisitor) VisitFloatLiteral(*FloatLiteral) error       { return nil }
func (baseVisitor) VisitStringLiteral(*StringLiteral) error     { return nil }
func (baseVisitor) VisitBoolLiteral(*BoolLiteral) error         { return nil }

// PrettyString renders an expression node as MF-like source text,
// recursively. It does not attempt to reproduce original formatting
// (comments, parens).
func PrettyString(n Node) string {
	var sb strings.Builder
	writePretty(&sb, n)
	return sb.String()
}

func writePretty(sb *strings.Builder, n Node) {
	switch e := n.(type) {
	case *IntLiteral:
		fmt.Fprintf(sb, "%d", e.Value)
	case *FloatLiteral:
		fmt.Fprintf(sb, "%g", e.Value)
	case *StringLiteral:
		fmt.Fprintf(sb, "%q", e.Value)
	case *BoolLiteral:
		fmt.Fprintf(sb, "%t", e.Value)
	case *Identifier:
		sb.WriteString(e.Name)
	case *This:
		sb.WriteString("this")
	case *Super:
		sb.WriteString("super")
	case *UnaryExpr:
		sb.WriteString(e.Op)
		writePretty(sb, e.Expr)
	case *BinaryExpr:
		writePretty(sb, e.Left)
		fmt.Fprintf(sb, " %s ", e.Op)
		writePretty(sb, e.Right)
	case *CallExpr:
		writePretty(sb, e.Callee)
		sb.WriteByte('(')
		for i, a := range e.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writePretty(sb, a)
		}
		sb.WriteByte(')')
	case *MemberAccess:
		writePretty(sb, e.Target)
		sb.WriteByte('.')
		sb.WriteString(e.Name)
	case *ArrayAccess:
		writePretty(sb, e.Target)
		sb.WriteByte('[')
		writePretty(sb, e.Index)
		sb.WriteByte(']')
	case *ArraySlice:
		writePretty(sb, e.Target)
		sb.WriteByte('[')
		if e.Low != nil {
			writePretty(sb, e.Low)
		}
		sb.WriteByte(':')
		if e.High != nil {
			writePretty(sb, e.High)
		}
		sb.WriteByte(']')
	case *RangeExpr:
		sb.WriteString("range(")
		writePretty(sb, e.From)
		sb.WriteString(", ")
		writePretty(sb, e.To)
		if e.Step != nil {
			sb.WriteString(", ")
			writePretty(sb, e.Step)
		}
		sb.WriteByte(')')
	case *NewExpr:
		fmt.Fprintf(sb, "new %s(", e.Class)
		for i, a := range e.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writePretty(sb, a)
		}
		sb.WriteByte(')')
	default:
		fmt.Fprintf(sb, "<%T>", n)
	}
}
