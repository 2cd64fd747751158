package mapper

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/splitrow/tablesink/table"
)

// coerce converts one split token to a typed value of the declared
// column type. It is pure: the same (token, type) pair always yields
// the same value or the same failure.
//
// Boolean parsing is deliberately lenient: any token that is not
// "true" (case-insensitively) yields false rather than an error. This
// matches the behavior downstream consumers already depend on.
func (m *Mapper) coerce(token string, typ table.Type) (table.Value, error) {
	switch typ {
	case table.TypeInt8:
		v, err := strconv.ParseInt(token, 10, 8)
		if err != nil {
			return table.Value{}, err
		}
		return table.Int8Value(int8(v)), nil
	case table.TypeInt16:
		v, err := strconv.ParseInt(token, 10, 16)
		if err != nil {
			return table.Value{}, err
		}
		return table.Int16Value(int16(v)), nil
	case table.TypeInt32:
		v, err := strconv.ParseInt(token, 10, 32)
		if err != nil {
			return table.Value{}, err
		}
		return table.Int32Value(int32(v)), nil
	case table.TypeInt64:
		v, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return table.Value{}, err
		}
		return table.Int64Value(v), nil
	case table.TypeBool:
		return table.BoolValue(strings.EqualFold(token, "true")), nil
	case table.TypeFloat:
		v, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return table.Value{}, err
		}
		return table.FloatValue(float32(v)), nil
	case table.TypeDouble:
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return table.Value{}, err
		}
		return table.DoubleValue(v), nil
	case table.TypeString:
		return table.StringValue(token), nil
	case table.TypeBinary:
		b, err := m.enc.NewEncoder().Bytes([]byte(token))
		if err != nil {
			return table.Value{}, err
		}
		return table.BinaryValue(b), nil
	case table.TypeUnixtimeMicros:
		// Tokens carry epoch microseconds already; no date parsing.
		v, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return table.Value{}, err
		}
		return table.MicrosValue(v), nil
	default:
		return table.Value{}, xerrors.Errorf("unsupported column type %s", typ)
	}
}
