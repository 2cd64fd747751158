package sink

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/xerrors"

	"github.com/splitrow/tablesink/table"
)

// pgAPI is the subset of pgx connection behavior the sink needs.
// Both *pgx.Conn and *pgxpool.Pool satisfy it.
type pgAPI interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres applies operations to one Postgres table, a batch per
// transaction. Upserts become INSERT ... ON CONFLICT on the configured
// key columns.
type Postgres struct {
	client pgAPI
	table  string
	keys   []string
	keySet map[string]bool
}

func NewPostgres(client pgAPI, tableName string, keyColumns []string) *Postgres {
	if client == nil {
		panic("postgres client is required")
	}
	if strings.TrimSpace(tableName) == "" {
		panic("table name is required")
	}

	keySet := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		keySet[k] = true
	}
	return &Postgres{
		client: client,
		table:  tableName,
		keys:   append([]string(nil), keyColumns...),
		keySet: keySet,
	}
}

func (p *Postgres) Table() string { return p.table }

func (p *Postgres) Apply(ctx context.Context, ops []*table.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := p.client.Begin(ctx)
	if err != nil {
		return xerrors.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, op := range ops {
		sql, args, err := p.statement(op)
		if err != nil {
			return err
		}
		if sql == "" {
			continue // operation with no assigned columns
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return xerrors.Errorf("apply %s to %q: %w", op.Kind(), p.table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return xerrors.Errorf("commit: %w", err)
	}
	return nil
}

// statement renders one operation as a parameterized INSERT, adding an
// ON CONFLICT clause for upserts.
func (p *Postgres) statement(op *table.Operation) (string, []any, error) {
	row := op.Row()
	names := row.Names()
	if len(names) == 0 {
		return "", nil, nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{p.table}.Sanitize())
	b.WriteString(" (")

	args := make([]any, 0, len(names))
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{name}.Sanitize())
		v, _ := row.Get(name)
		args = append(args, v.Native())
	}
	b.WriteString(") VALUES (")
	for i := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(i + 1))
	}
	b.WriteString(")")

	if op.Kind() == table.OpUpsert {
		if len(p.keys) == 0 {
			return "", nil, xerrors.Errorf("upsert into %q requires key columns", p.table)
		}
		b.WriteString(" ON CONFLICT (")
		for i, k := range p.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgx.Identifier{k}.Sanitize())
		}
		b.WriteString(")")

		var updates []string
		for _, name := range names {
			if p.keySet[name] {
				continue
			}
			q := pgx.Identifier{name}.Sanitize()
			updates = append(updates, q+" = EXCLUDED."+q)
		}
		if len(updates) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET ")
			b.WriteString(strings.Join(updates, ", "))
		}
	}

	return b.String(), args, nil
}
