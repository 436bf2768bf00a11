package mfc

// TokenKind tags every lexeme the lexer can produce.
type TokenKind int

const (
	TokKeyword TokenKind = iota
	TokIdentifier
	TokInt
	TokFloat
	TokString
	TokOperator
	TokPunct
	TokType
	TokComment
	TokEOF
)

func (k TokenKind) String() string {
	switch k {
	case TokKeyword:
		return "keyword"
	case TokIdentifier:
		return "identifier"
	case TokInt:
		return "int"
	case TokFloat:
		return "float"
	case TokString:
		return "string"
	case TokOperator:
		return "operator"
	case TokPunct:
		return "punct"
	case TokType:
		return "type"
	case TokComment:
		return "comment"
	case TokEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Token is one lexeme together with its source location.
type Token struct {
	Kind   TokenKind
	Lexeme string
	Loc    Location

	IntVal   int64
	FloatVal float64
}

var keywords = map[string]bool{
	"fn": true, "func": true, "let": true, "auto": true,
	"if": true, "else": true, "while": true, "for": true, "in": true,
	"return": true, "class": true, "interface": true, "extends": true,
	"implements": true, "import": true, "new": true, "this": true,
	"super": true, "true": true, "false": true, "null": true,
	"raise": true, "spawn": true, "async": true, "abstract": true,
	"static": true, "public": true, "private": true, "protected": true,
}

var typeKeywords = map[string]bool{
	"i8": true, "i16": true, "i32": true, "i64": true,
	"u8": true, "u16": true, "u32": true, "u64": true,
	"f32": true, "f64": true, "bool": true, "string": true,
	"void": true, "hybrid": true,
}
