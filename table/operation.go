package table

// OpKind distinguishes the write semantics of an Operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpsert
)

func (k OpKind) String() string {
	if k == OpInsert {
		return "insert"
	}
	return "upsert"
}

// Value is a tagged variant holding exactly one typed column value.
// The zero Value is "unset".
type Value struct {
	typ Type

	i int64
	f float64
	s string
	b []byte
	t bool
}

func Int8Value(v int8) Value     { return Value{typ: TypeInt8, i: int64(v)} }
func Int16Value(v int16) Value   { return Value{typ: TypeInt16, i: int64(v)} }
func Int32Value(v int32) Value   { return Value{typ: TypeInt32, i: int64(v)} }
func Int64Value(v int64) Value   { return Value{typ: TypeInt64, i: v} }
func BoolValue(v bool) Value     { return Value{typ: TypeBool, t: v} }
func FloatValue(v float32) Value { return Value{typ: TypeFloat, f: float64(v)} }
func DoubleValue(v float64) Value {
	return Value{typ: TypeDouble, f: v}
}
func StringValue(v string) Value { return Value{typ: TypeString, s: v} }
func BinaryValue(v []byte) Value { return Value{typ: TypeBinary, b: v} }

// MicrosValue holds an epoch-microsecond timestamp.
func MicrosValue(v int64) Value { return Value{typ: TypeUnixtimeMicros, i: v} }

// Type reports the kind of the held value; TypeUnknown for an unset Value.
func (v Value) Type() Type { return v.typ }

func (v Value) IsSet() bool { return v.typ != TypeUnknown }

// Native returns the held value as the Go type a storage driver binds:
// int8..int64, bool, float32/float64, string, []byte, or int64 micros.
// An unset Value returns nil.
func (v Value) Native() any {
	switch v.typ {
	case TypeInt8:
		return int8(v.i)
	case TypeInt16:
		return int16(v.i)
	case TypeInt32:
		return int32(v.i)
	case TypeInt64, TypeUnixtimeMicros:
		return v.i
	case TypeBool:
		return v.t
	case TypeFloat:
		return float32(v.f)
	case TypeDouble:
		return v.f
	case TypeString:
		return v.s
	case TypeBinary:
		return v.b
	default:
		return nil
	}
}

// Row accumulates column assignments for one pending write.
//
// Assignment order is preserved so sinks emit deterministic statements.
type Row struct {
	names  []string
	values map[string]Value
}

func newRow() *Row {
	return &Row{values: make(map[string]Value)}
}

// Set assigns a typed value to a column, replacing any previous
// assignment for the same column without disturbing its position.
func (r *Row) Set(name string, v Value) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

// Get returns the value assigned to a column, if any.
func (r *Row) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns the assigned column names in assignment order.
// Callers must not mutate the returned slice.
func (r *Row) Names() []string {
	return r.names
}

func (r *Row) Len() int {
	return len(r.names)
}

// Operation is one pending write against a table: an operation kind
// plus the row of column assignments to apply.
type Operation struct {
	kind OpKind
	row  *Row
}

// NewOperation allocates an empty operation of the given kind.
func NewOperation(kind OpKind) *Operation {
	return &Operation{kind: kind, row: newRow()}
}

func (o *Operation) Kind() OpKind { return o.kind }

func (o *Operation) Row() *Row { return o.row }
