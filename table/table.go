package table

import "fmt"

// Type enumerates the column types supported by the target table store.
//
// TypeUnknown is a catch-all for columns whose declared type is outside
// this set; mappers skip such columns instead of failing.
type Type int

const (
	TypeUnknown Type = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeBool
	TypeFloat
	TypeDouble
	TypeString
	TypeBinary
	TypeUnixtimeMicros
)

func (t Type) String() string {
	switch t {
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeUnixtimeMicros:
		return "unixtime_micros"
	default:
		return "unknown"
	}
}

// Column is one (name, type) pair of a table schema. Key marks columns
// that participate in the table's primary key; sinks use it to build
// upsert conflict targets.
type Column struct {
	Name string
	Type Type
	Key  bool
}

// Schema is the ordered column list of a target table.
//
// A Schema is read-only after construction and safe to share across
// concurrent mapper instances.
type Schema struct {
	columns []Column
	byName  map[string]int
}

// NewSchema builds a schema from an ordered column list.
func NewSchema(columns ...Column) (*Schema, error) {
	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has empty name", i)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		byName[c.Name] = i
	}
	return &Schema{
		columns: append([]Column(nil), columns...),
		byName:  byName,
	}, nil
}

// Columns returns the columns in schema order. Callers must not mutate
// the returned slice.
func (s *Schema) Columns() []Column {
	return s.columns
}

// Column looks a column up by name.
func (s *Schema) Column(name string) (Column, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// KeyColumns returns the names of the key columns in schema order.
func (s *Schema) KeyColumns() []string {
	var keys []string
	for _, c := range s.columns {
		if c.Key {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

func (s *Schema) Len() int {
	return len(s.columns)
}
