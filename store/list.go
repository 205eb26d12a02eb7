package store

// List is the sequence-handle a Record returns for a list-valued field.
// Its elements are raw values: scalars or reference tokens.
type List struct {
	elems []any
}

// NewList returns a List holding a copy of elems.
func NewList(elems []any) *List {
	cp := make([]any, len(elems))
	copy(cp, elems)
	return &List{elems: cp}
}

// Elements realizes the list into an ordered slice. The slice is a copy.
func (l *List) Elements() []any {
	if l == nil {
		return nil
	}
	cp := make([]any, len(l.elems))
	copy(cp, l.elems)
	return cp
}

// Len returns the number of elements.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.elems)
}
