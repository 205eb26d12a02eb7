package box

import (
	"fmt"
	"reflect"
)

// Kind is the category of a field value.
type Kind int

const (
	// Scalar is nil, a bool, a number, a plain string or anything else that
	// is stored as is.
	Scalar Kind = iota
	// Reference is a string carrying LinkPrefix.
	Reference
	// Sequence is an ordered list: a slice, or a sequence-handle from storage.
	Sequence
	// Nested is a string-keyed map that is flattened into its own record.
	Nested
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Reference:
		return "reference"
	case Sequence:
		return "sequence"
	case Nested:
		return "nested"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sequencer is implemented by the sequence-handles a store returns for
// list-valued fields.
type Sequencer interface {
	Elements() []any
}

// Value is a classified field value. Exactly one of ID, Elements and Fields
// is meaningful, depending on Kind.
type Value struct {
	Kind Kind
	Raw  any

	ID       string         // Reference
	Elements []any          // Sequence
	Fields   map[string]any // Nested
}

// Classify categorizes v. It is applied the same way to values supplied by
// callers and to raw values read back from storage.
func Classify(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{Kind: Scalar}
	case string:
		if id, ok := DecodeLink(x); ok {
			return Value{Kind: Reference, Raw: v, ID: id}
		}
		return Value{Kind: Scalar, Raw: v}
	case Sequencer:
		return Value{Kind: Sequence, Raw: v, Elements: x.Elements()}
	case map[string]any:
		return Value{Kind: Nested, Raw: v, Fields: x}
	case []any:
		return Value{Kind: Sequence, Raw: v, Elements: x}
	case []byte:
		return Value{Kind: Scalar, Raw: v}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
		return Value{Kind: Nested, Raw: v, Fields: fields}
	case reflect.Slice, reflect.Array:
		elems := make([]any, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i).Interface()
		}
		return Value{Kind: Sequence, Raw: v, Elements: elems}
	}
	return Value{Kind: Scalar, Raw: v}
}
