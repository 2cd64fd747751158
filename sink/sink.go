package sink

import (
	"context"

	"github.com/splitrow/tablesink/table"
)

// TableSink submits mapped operations to a table store. Implementations
// apply a batch atomically where the backend allows it; a batch that
// returns an error must not be acknowledged by the caller.
type TableSink interface {
	Apply(ctx context.Context, ops []*table.Operation) error
	Table() string
}
