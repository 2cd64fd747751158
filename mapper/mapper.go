package mapper

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/xerrors"

	"github.com/splitrow/tablesink/table"
)

// Mapper converts one delimited raw record into a single insert or
// upsert operation, coercing each field to its column's declared type.
//
// A Mapper holds no per-record state; independent mappers built from
// the same Config may run concurrently.
type Mapper struct {
	cfg   Config
	enc   encoding.Encoding
	index map[string]int
	log   *zap.Logger
}

// New validates cfg and builds a mapper. log must not be nil; pass
// zap.NewNop() to silence skip warnings.
func New(cfg Config, log *zap.Logger) (*Mapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, xerrors.New("logger must not be nil")
	}
	enc, err := resolveEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(cfg.Fields))
	for i, name := range cfg.Fields {
		if _, dup := index[name]; dup {
			continue // first position wins, as in positional lookup
		}
		index[name] = i
	}

	return &Mapper{cfg: cfg, enc: enc, index: index, log: log}, nil
}

// Map decodes raw with the configured charset, splits it on the
// delimiter preserving trailing empty tokens, and populates one
// operation of the configured kind from the split fields, one column
// at a time in schema order.
//
// Columns without a matching field are governed by SkipMissingColumn;
// fields that fail coercion are governed by SkipBadColumnValue. A
// column of unknown type is logged and left unset regardless of
// policy. On success the returned slice holds exactly one operation.
func (m *Mapper) Map(raw []byte, schema *table.Schema) ([]*table.Operation, error) {
	text, err := m.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, xerrors.Errorf("decode record as %s: %w", m.cfg.Encoding, err)
	}
	// strings.Split keeps empty tokens, trailing ones included:
	// "a,," yields ["a", "", ""].
	tokens := strings.Split(string(text), m.cfg.Delimiter)

	op := table.NewOperation(m.cfg.Operation)
	row := op.Row()

	for _, col := range schema.Columns() {
		if col.Type == table.TypeUnknown {
			m.log.Warn("unknown column type, ignoring column",
				zap.String("column", col.Name))
			continue
		}

		index, ok := m.index[col.Name]
		if !ok || index >= len(tokens) {
			err := m.skipOrFail(m.cfg.SkipMissingColumn,
				xerrors.Errorf("column %q has no matching field in record", col.Name),
				zap.String("column", col.Name))
			if err != nil {
				return nil, err
			}
			continue
		}

		value, cerr := m.coerce(tokens[index], col.Type)
		if cerr != nil {
			err := m.skipOrFail(m.cfg.SkipBadColumnValue,
				xerrors.Errorf("value %q could not be coerced to %s for column %q: %w",
					tokens[index], col.Type, col.Name, cerr),
				zap.String("column", col.Name),
				zap.Stringer("type", col.Type))
			if err != nil {
				return nil, err
			}
			continue
		}
		row.Set(col.Name, value)
	}

	return []*table.Operation{op}, nil
}

// skipOrFail applies a skip policy to one failed column: log and
// continue when skipping is allowed, otherwise abort the record.
func (m *Mapper) skipOrFail(skip bool, cause error, fields ...zap.Field) error {
	if skip {
		m.log.Warn(cause.Error(), fields...)
		return nil
	}
	return cause
}
