package mapper

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/encoding/charmap"

	"github.com/splitrow/tablesink/table"
)

func testSchema(t *testing.T, cols ...table.Column) *table.Schema {
	t.Helper()
	s, err := table.NewSchema(cols...)
	require.NoError(t, err)
	return s
}

func newTestMapper(t *testing.T, cfg Config) (*Mapper, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	m, err := New(cfg, zap.New(core))
	require.NoError(t, err)
	return m, logs
}

func baseConfig(fields ...string) Config {
	return Config{
		Fields:    fields,
		Delimiter: ",",
		Encoding:  "utf-8",
		Operation: table.OpUpsert,
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{OptFields: "ID,Name,Age"})
	require.NoError(t, err)

	require.Equal(t, []string{"id", "name", "age"}, cfg.Fields)
	require.Equal(t, ",", cfg.Delimiter)
	require.Equal(t, "utf-8", cfg.Encoding)
	require.Equal(t, table.OpUpsert, cfg.Operation)
	require.False(t, cfg.SkipMissingColumn)
	require.False(t, cfg.SkipBadColumnValue)
}

func TestParseConfig_FieldsRequired(t *testing.T) {
	_, err := ParseConfig(map[string]string{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fields")

	_, err = ParseConfig(map[string]string{OptFields: "  "})
	require.Error(t, err)
}

func TestParseConfig_EmptyDelimiterRejected(t *testing.T) {
	_, err := ParseConfig(map[string]string{
		OptFields:    "id",
		OptDelimiter: "",
	})
	require.Error(t, err)
}

func TestParseConfig_UnsupportedEncoding(t *testing.T) {
	_, err := ParseConfig(map[string]string{
		OptFields:   "id",
		OptEncoding: "no-such-charset",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "charset")
}

func TestParseConfig_Operation(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{OptFields: "id", OptOperation: "INSERT"})
	require.NoError(t, err)
	require.Equal(t, table.OpInsert, cfg.Operation)

	cfg, err = ParseConfig(map[string]string{OptFields: "id", OptOperation: "Upsert"})
	require.NoError(t, err)
	require.Equal(t, table.OpUpsert, cfg.Operation)

	_, err = ParseConfig(map[string]string{OptFields: "id", OptOperation: "merge"})
	require.Error(t, err)
}

func TestParseConfig_SkipFlags(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		OptFields:             "id",
		OptSkipMissingColumn:  "true",
		OptSkipBadColumnValue: "1",
	})
	require.NoError(t, err)
	require.True(t, cfg.SkipMissingColumn)
	require.True(t, cfg.SkipBadColumnValue)

	_, err = ParseConfig(map[string]string{
		OptFields:            "id",
		OptSkipMissingColumn: "yep",
	})
	require.Error(t, err)
}

func TestMap_BasicUpsert(t *testing.T) {
	m, _ := newTestMapper(t, baseConfig("id", "name", "age"))
	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "name", Type: table.TypeString},
		table.Column{Name: "age", Type: table.TypeInt32},
	)

	ops, err := m.Map([]byte("1,alice,30"), schema)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, table.OpUpsert, ops[0].Kind())

	row := ops[0].Row()
	id, ok := row.Get("id")
	require.True(t, ok)
	require.Equal(t, int32(1), id.Native())

	name, ok := row.Get("name")
	require.True(t, ok)
	require.Equal(t, "alice", name.Native())

	age, ok := row.Get("age")
	require.True(t, ok)
	require.Equal(t, int32(30), age.Native())
}

func TestMap_TrailingEmptyTokensPreserved(t *testing.T) {
	m, _ := newTestMapper(t, baseConfig("a", "b", "c"))
	schema := testSchema(t,
		table.Column{Name: "a", Type: table.TypeString},
		table.Column{Name: "b", Type: table.TypeString},
		table.Column{Name: "c", Type: table.TypeString},
	)

	ops, err := m.Map([]byte("a,b,"), schema)
	require.NoError(t, err)

	row := ops[0].Row()
	c, ok := row.Get("c")
	require.True(t, ok, "trailing empty token must map the last column")
	require.Equal(t, "", c.Native())
}

func TestMap_MissingColumn_Skip(t *testing.T) {
	cfg := baseConfig("id", "name")
	cfg.SkipMissingColumn = true
	m, logs := newTestMapper(t, cfg)

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "name", Type: table.TypeString},
		table.Column{Name: "email", Type: table.TypeString},
	)

	ops, err := m.Map([]byte("7,bob"), schema)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	_, ok := ops[0].Row().Get("email")
	require.False(t, ok)
	require.Equal(t, 1, logs.Len())
	require.Contains(t, logs.All()[0].Message, "email")
}

func TestMap_MissingColumn_Fails(t *testing.T) {
	m, _ := newTestMapper(t, baseConfig("id", "name"))

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "email", Type: table.TypeString},
	)

	ops, err := m.Map([]byte("7,bob"), schema)
	require.Error(t, err)
	require.Nil(t, ops)
	require.Contains(t, err.Error(), "email")
}

func TestMap_ShortRecordIsMissingValue(t *testing.T) {
	// Field name configured but the record does not carry that many
	// tokens: governed by the missing-column policy.
	cfg := baseConfig("id", "name", "age")
	cfg.SkipMissingColumn = true
	m, logs := newTestMapper(t, cfg)

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "age", Type: table.TypeInt32},
	)

	ops, err := m.Map([]byte("5"), schema)
	require.NoError(t, err)

	_, ok := ops[0].Row().Get("age")
	require.False(t, ok)
	require.Equal(t, 1, logs.Len())

	cfg.SkipMissingColumn = false
	m, _ = newTestMapper(t, cfg)
	_, err = m.Map([]byte("5"), schema)
	require.Error(t, err)
}

func TestMap_BadValue_Skip(t *testing.T) {
	cfg := baseConfig("id", "age")
	cfg.SkipBadColumnValue = true
	m, logs := newTestMapper(t, cfg)

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "age", Type: table.TypeInt32},
	)

	ops, err := m.Map([]byte("1,abc"), schema)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	_, ok := ops[0].Row().Get("age")
	require.False(t, ok)

	id, ok := ops[0].Row().Get("id")
	require.True(t, ok)
	require.Equal(t, int32(1), id.Native())

	require.Equal(t, 1, logs.Len())
}

func TestMap_BadValue_Fails(t *testing.T) {
	m, _ := newTestMapper(t, baseConfig("id", "age"))

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "age", Type: table.TypeInt32},
	)

	ops, err := m.Map([]byte("1,abc"), schema)
	require.Error(t, err)
	require.Nil(t, ops)
	require.Contains(t, err.Error(), "age")
}

func TestMap_UnknownColumnType_WarnsAndSkips(t *testing.T) {
	// Not governed by either skip policy: always a warning, never an error.
	m, logs := newTestMapper(t, baseConfig("id", "blob"))

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "blob", Type: table.TypeUnknown},
	)

	ops, err := m.Map([]byte("1,x"), schema)
	require.NoError(t, err)

	_, ok := ops[0].Row().Get("blob")
	require.False(t, ok)
	require.Equal(t, 1, logs.Len())
	require.Contains(t, logs.All()[0].Message, "unknown column type")
}

func TestMap_InsertKind(t *testing.T) {
	cfg := baseConfig("id")
	cfg.Operation = table.OpInsert
	m, _ := newTestMapper(t, cfg)

	schema := testSchema(t, table.Column{Name: "id", Type: table.TypeInt64, Key: true})

	ops, err := m.Map([]byte("42"), schema)
	require.NoError(t, err)
	require.Equal(t, table.OpInsert, ops[0].Kind())
}

func TestMap_CustomDelimiter(t *testing.T) {
	cfg := baseConfig("id", "name")
	cfg.Delimiter = "|"
	m, _ := newTestMapper(t, cfg)

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "name", Type: table.TypeString},
	)

	ops, err := m.Map([]byte("3|carol"), schema)
	require.NoError(t, err)

	name, ok := ops[0].Row().Get("name")
	require.True(t, ok)
	require.Equal(t, "carol", name.Native())
}

func TestMap_Latin1Decoding(t *testing.T) {
	cfg := baseConfig("id", "name")
	cfg.Encoding = "latin1"
	m, _ := newTestMapper(t, cfg)

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "name", Type: table.TypeString},
	)

	raw, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte("9,café"))
	require.NoError(t, err)

	ops, err := m.Map(raw, schema)
	require.NoError(t, err)

	name, ok := ops[0].Row().Get("name")
	require.True(t, ok)
	require.Equal(t, "café", name.Native())
}

func TestMap_SchemaOrderNotFieldOrder(t *testing.T) {
	// Columns are populated in schema order even when the configured
	// field order differs.
	m, _ := newTestMapper(t, baseConfig("name", "id"))

	schema := testSchema(t,
		table.Column{Name: "id", Type: table.TypeInt32, Key: true},
		table.Column{Name: "name", Type: table.TypeString},
	)

	ops, err := m.Map([]byte("dave,11"), schema)
	require.NoError(t, err)

	row := ops[0].Row()
	require.Equal(t, []string{"id", "name"}, row.Names())

	id, _ := row.Get("id")
	require.Equal(t, int32(11), id.Native())
	name, _ := row.Get("name")
	require.Equal(t, "dave", name.Native())
}
