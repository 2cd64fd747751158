package mapper

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/xerrors"

	"github.com/splitrow/tablesink/table"
)

// Recognized option keys for ParseConfig.
const (
	OptFields             = "fields"
	OptDelimiter          = "delimited"
	OptEncoding           = "encoding"
	OptOperation          = "operation"
	OptSkipMissingColumn  = "skipMissingColumn"
	OptSkipBadColumnValue = "skipBadColumnValue"
)

const (
	DefaultDelimiter = ","
	DefaultEncoding  = "utf-8"
)

// Config controls how raw records are split and mapped to operations.
//
// A Config is validated once by New and never mutated afterwards, so a
// value may be reused to build independent mappers for concurrent use.
type Config struct {
	// Fields positionally aligns lower-cased column names with the
	// split record: Fields[i] names the column fed by token i.
	Fields []string

	// Delimiter splits the decoded record text. Defaults to ",".
	Delimiter string

	// Encoding is the IANA charset name used to decode record bytes
	// and to re-encode binary column values. Defaults to "utf-8".
	Encoding string

	// Operation selects insert or upsert semantics.
	Operation table.OpKind

	// SkipMissingColumn tolerates schema columns without a matching
	// field: the column is left unset and a warning is logged.
	SkipMissingColumn bool

	// SkipBadColumnValue tolerates fields that fail type coercion:
	// the column is left unset and a warning is logged.
	SkipBadColumnValue bool
}

func (c Config) Validate() error {
	if len(c.Fields) == 0 {
		return errors.New("fields must not be empty")
	}
	if c.Delimiter == "" {
		return errors.New("delimiter must not be empty")
	}
	if _, err := resolveEncoding(c.Encoding); err != nil {
		return err
	}
	if c.Operation != table.OpInsert && c.Operation != table.OpUpsert {
		return xerrors.Errorf("unrecognized operation %d", int(c.Operation))
	}
	return nil
}

// ParseConfig builds a Config from a raw option map, applying defaults
// and failing fast on any invalid option. Field names are lower-cased
// and split on literal comma.
func ParseConfig(options map[string]string) (Config, error) {
	raw, ok := options[OptFields]
	if !ok || strings.TrimSpace(raw) == "" {
		return Config{}, xerrors.Errorf("required option %q is not specified", OptFields)
	}
	cfg := Config{
		Fields:    strings.Split(strings.ToLower(strings.TrimSpace(raw)), ","),
		Delimiter: DefaultDelimiter,
		Encoding:  DefaultEncoding,
		Operation: table.OpUpsert,
	}

	if v, ok := options[OptDelimiter]; ok {
		if v == "" {
			return Config{}, xerrors.Errorf("option %q must not be empty", OptDelimiter)
		}
		cfg.Delimiter = v
	}
	if v, ok := options[OptEncoding]; ok {
		cfg.Encoding = v
	}
	if _, err := resolveEncoding(cfg.Encoding); err != nil {
		return Config{}, err
	}

	if v, ok := options[OptOperation]; ok {
		switch strings.ToLower(v) {
		case "insert":
			cfg.Operation = table.OpInsert
		case "upsert":
			cfg.Operation = table.OpUpsert
		default:
			return Config{}, xerrors.Errorf("unrecognized operation %q", v)
		}
	}

	var err error
	if cfg.SkipMissingColumn, err = boolOption(options, OptSkipMissingColumn); err != nil {
		return Config{}, err
	}
	if cfg.SkipBadColumnValue, err = boolOption(options, OptSkipBadColumnValue); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func boolOption(options map[string]string, key string) (bool, error) {
	v, ok := options[key]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, xerrors.Errorf("option %q: %w", key, err)
	}
	return b, nil
}

// resolveEncoding maps an IANA charset name to its encoding. Names the
// index does not know, or knows but has no decoder for, are rejected.
func resolveEncoding(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, xerrors.Errorf("invalid or unsupported charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, xerrors.Errorf("invalid or unsupported charset %q", name)
	}
	return enc, nil
}
