package mi

import "strconv"

// Value is the closed union of MI result values. The only implementations
// are String, Tuple, and List; consumers narrow with a type switch or the
// As* accessors and never reach into dynamic structure.
type Value interface {
	miValue()
}

// String is a quoted or bare scalar value.
type String string

func (String) miValue() {}

// Tuple is a brace-delimited list of named fields.
type Tuple struct {
	Fields []Field
}

func (Tuple) miValue() {}

// List is a bracket-delimited sequence of values. An element that arrived on
// the wire as a name=value pair is normalized into a single-field Tuple, so
// List items are always plain Values.
type List struct {
	Items []Value
}

func (List) miValue() {}

// Field is one name=value entry of a result or tuple body. Order is
// preserved from the wire.
type Field struct {
	Name  string
	Value Value
}

// Get returns the value of the named field.
func (t Tuple) Get(name string) (Value, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Str returns the named field as a string, or "" when absent or not a String.
func (t Tuple) Str(name string) string {
	v, ok := t.Get(name)
	if !ok {
		return ""
	}
	s, ok := v.(String)
	if !ok {
		return ""
	}
	return string(s)
}

// Int returns the named field parsed as a decimal integer.
func (t Tuple) Int(name string) (int, bool) {
	s := t.Str(name)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// AsString narrows a Value to its string content.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// AsTuple narrows a Value to a Tuple.
func AsTuple(v Value) (Tuple, bool) {
	t, ok := v.(Tuple)
	return t, ok
}

// AsList narrows a Value to a List.
func AsList(v Value) (List, bool) {
	l, ok := v.(List)
	return l, ok
}
