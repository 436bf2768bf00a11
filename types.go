package mfc

// TypeInfo describes one user-defined or primitive type.
type TypeInfo struct {
	Name      string
	Primitive bool
	Fields    map[string]string // name -> type name
	FieldOrder []string
	Methods   map[string]MethodSig
	Parent    string // empty when there is none
	Interfaces []string
}

// MethodSig is (return type, parameter types) for one method.
type MethodSig struct {
	ReturnType string
	ParamTypes []string
	Abstract   bool
}

var numericTypes = map[string]bool{
	"i8": true, "i16": true, "i32": true, "i64": true,
	"u8": true, "u16": true, "u32": true, "u64": true,
	"f32": true, "f64": true,
}

// TypeRegistry owns every TypeInfo collected from the AST plus the
// built-in primitives.
type TypeRegistry struct {
	types map[string]*TypeInfo
}

func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: map[string]*TypeInfo{}}
	for t := range numericTypes {
		r.types[t] = &TypeInfo{Name: t, Primitive: true}
	}
	r.types["bool"] = &TypeInfo{Name: "bool", Primitive: true}
	r.types["string"] = &TypeInfo{Name: "string", Primitive: true}
	r.types["void"] = &TypeInfo{Name: "void", Primitive: true}
	r.types["unknown"] = &TypeInfo{Name: "unknown", Primitive: true}
	return r
}

func (r *TypeRegistry) Define(t *TypeInfo) { r.types[t.Name] = t }

func (r *TypeRegistry) Lookup(name string) (*TypeInfo, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Compatible implements spec.md §4.3's type-compatibility rule:
// identical names match; any two numerics are mutually compatible;
// "unknown" is compatible with anything; a class is compatible with
// its declared parent and declared interfaces (checked transitively).
func (r *TypeRegistry) Compatible(want, got string) bool {
	if want == got {
		return true
	}
	if want == "unknown" || got == "unknown" {
		return true
	}
	if numericTypes[want] && numericTypes[got] {
		return true
	}
	if r.isSubtype(got, want) {
		return true
	}
	return false
}

func (r *TypeRegistry) isSubtype(sub, super string) bool {
	visited := map[string]bool{}
	cur := sub
	for cur != "" && !visited[cur] {
		visited[cur] = true
		t, ok := r.types[cur]
		if !ok {
			return false
		}
		for _, iface := range t.Interfaces {
			if iface == super {
				return true
			}
		}
		if t.Parent == super {
			return true
		}
		cur = t.Parent
	}
	return false
}
