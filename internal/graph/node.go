package graph

// OpKind names an operator. New kinds are introduced by registering them with an
// operator registry; nothing in this package enumerates them.
type OpKind string

// Operator kinds with a built-in implementation.
const (
	MatMul OpKind = "MatMul"
)

// Node is a named computation step of a graph.
type Node struct {
	Name       string
	Op         OpKind
	Inputs     []string // ordered input tensor names
	Outputs    []string // ordered output tensor names
	Attributes Attributes
}

// AttrType is the variant tag of an Attribute.
type AttrType int

// Attribute variants.
const (
	AttrInt AttrType = iota
	AttrFloat
	AttrString
	AttrInts
	AttrFloats
)

// Attribute is a scalar or list value attached to a node.
type Attribute struct {
	Type   AttrType
	I      int64
	F      float32
	S      string
	Ints   []int64
	Floats []float32
}

// Attributes maps attribute names to values.
type Attributes map[string]Attribute

// IntAttr creates an integer attribute.
func IntAttr(v int64) Attribute { return Attribute{Type: AttrInt, I: v} }

// FloatAttr creates a float attribute.
func FloatAttr(v float32) Attribute { return Attribute{Type: AttrFloat, F: v} }

// StringAttr creates a string attribute.
func StringAttr(v string) Attribute { return Attribute{Type: AttrString, S: v} }

// IntsAttr creates an integer list attribute.
func IntsAttr(v ...int64) Attribute { return Attribute{Type: AttrInts, Ints: v} }

// FloatsAttr creates a float list attribute.
func FloatsAttr(v ...float32) Attribute { return Attribute{Type: AttrFloats, Floats: v} }

// Int returns an integer attribute or defaultVal.
func (a Attributes) Int(name string, defaultVal int64) int64 {
	if attr, ok := a[name]; ok && attr.Type == AttrInt {
		return attr.I
	}
	return defaultVal
}

// Float returns a float attribute or defaultVal.
func (a Attributes) Float(name string, defaultVal float32) float32 {
	if attr, ok := a[name]; ok && attr.Type == AttrFloat {
		return attr.F
	}
	return defaultVal
}

// Str returns a string attribute or defaultVal.
func (a Attributes) Str(name, defaultVal string) string {
	if attr, ok := a[name]; ok && attr.Type == AttrString {
		return attr.S
	}
	return defaultVal
}

// Ints returns an integer list attribute, nil if absent.
func (a Attributes) Ints(name string) []int64 {
	if attr, ok := a[name]; ok && attr.Type == AttrInts {
		return attr.Ints
	}
	return nil
}

// clone deep-copies the node so a built Graph never aliases caller slices.
func (n Node) clone() Node {
	out := Node{
		Name:    n.Name,
		Op:      n.Op,
		Inputs:  append([]string(nil), n.Inputs...),
		Outputs: append([]string(nil), n.Outputs...),
	}
	if n.Attributes != nil {
		out.Attributes = make(Attributes, len(n.Attributes))
		for k, v := range n.Attributes {
			v.Ints = append([]int64(nil), v.Ints...)
			v.Floats = append([]float32(nil), v.Floats...)
			out.Attributes[k] = v
		}
	}
	return out
}
