package ingestor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/splitrow/tablesink/archive"
	"github.com/splitrow/tablesink/mapper"
	"github.com/splitrow/tablesink/sink"
	"github.com/splitrow/tablesink/source"
	"github.com/splitrow/tablesink/table"
)

// Ingestor drives the record pipeline: receive a raw record, map it to
// one table operation, batch operations, apply the batch to the table
// sink and only then acknowledge the source.
//
// When an Archiver is configured, records that fail mapping are
// dead-lettered and acknowledged with their batch instead of failing
// the run.
type Ingestor struct {
	cfg    Config
	src    source.Sourcer
	mapper *mapper.Mapper
	schema *table.Schema
	sink   sink.TableSink
	log    *zap.Logger

	archiver archive.Archiver

	retry    RetryPolicy // sink apply
	ackRetry RetryPolicy // ack commit

	batcher *batcher

	leaseEnabled              bool
	leaseVisibilityTimeoutSec int32
	leaseRenewEvery           time.Duration
}

func New(
	cfg Config,
	src source.Sourcer,
	m *mapper.Mapper,
	schema *table.Schema,
	snk sink.TableSink,
	log *zap.Logger,
) (*Ingestor, error) {
	if src == nil {
		return nil, errors.New("source is nil")
	}
	if m == nil {
		return nil, errors.New("mapper is nil")
	}
	if schema == nil {
		return nil, errors.New("schema is nil")
	}
	if snk == nil {
		return nil, errors.New("sink is nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	b, err := newBatcher(cfg)
	if err != nil {
		return nil, err
	}

	return &Ingestor{
		cfg:      cfg,
		src:      src,
		mapper:   m,
		schema:   schema,
		sink:     snk,
		log:      log,
		retry:    nopRetry{},
		ackRetry: nopRetry{},
		batcher:  b,
	}, nil
}

func NewDefault(
	src source.Sourcer,
	m *mapper.Mapper,
	schema *table.Schema,
	snk sink.TableSink,
	log *zap.Logger,
) (*Ingestor, error) {
	return New(DefaultConfig, src, m, schema, snk, log)
}

func (i *Ingestor) SetRetryPolicy(p RetryPolicy) {
	if p == nil {
		p = nopRetry{}
	}
	i.retry = p
}

func (i *Ingestor) SetAckRetryPolicy(p RetryPolicy) {
	if p == nil {
		p = nopRetry{}
	}
	i.ackRetry = p
}

// SetArchiver enables dead-lettering of records that fail mapping.
func (i *Ingestor) SetArchiver(a archive.Archiver) {
	i.archiver = a
}

func (i *Ingestor) EnableLease(visibilityTimeoutSec int32, renewEvery time.Duration) {
	i.leaseEnabled = true
	i.leaseVisibilityTimeoutSec = visibilityTimeoutSec
	i.leaseRenewEvery = renewEvery
}

// Run receives and maps records until ctx is canceled or a record
// fails without an archiver configured. Buffered work is flushed
// best-effort before returning from a graceful stop.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return i.flushRemainingOnStop(ctx)
		}

		recvCtx := ctx
		var cancel context.CancelFunc
		if deadline, ok := i.batcher.Deadline(); ok {
			recvCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		msg, err := i.src.Receive(recvCtx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			// Deadline hit means a time-based flush is due.
			if errors.Is(err, context.DeadlineExceeded) {
				if err := i.flush(ctx); err != nil {
					return err
				}
				continue
			}

			// Graceful stop signaled by the source or by ctx.
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return i.flushRemainingOnStop(ctx)
			}
			return err
		}

		flushNow, err := i.processMessage(ctx, msg)
		if err != nil {
			return err
		}
		if flushNow {
			if err := i.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (i *Ingestor) processMessage(ctx context.Context, msg source.Message) (flushNow bool, err error) {
	body := msg.Data().Body

	sizeBytes, ok := msg.EstimatedSizeBytes()
	if !ok {
		sizeBytes = int64(len(body))
	}

	now := time.Now()

	ops, mapErr := i.mapper.Map(body, i.schema)
	if mapErr != nil {
		if i.archiver == nil {
			_ = msg.Fail(ctx, mapErr)
			return false, xerrors.Errorf("map record: %w", mapErr)
		}
		i.log.Warn("archiving record that failed mapping", zap.Error(mapErr))
		rej := archive.Rejected{
			Body:       append([]byte(nil), body...),
			Reason:     mapErr.Error(),
			RejectedAt: now,
		}
		return i.batcher.addReject(now, rej, msg, sizeBytes), nil
	}

	flushNow = false
	for _, op := range ops {
		flushNow = i.batcher.add(now, op, msg, sizeBytes) || flushNow
	}
	return flushNow, nil
}

func (i *Ingestor) flush(ctx context.Context) error {
	b := i.batcher.flush()
	if len(b.Ops) == 0 && len(b.Rejects) == 0 {
		return nil
	}

	var stopLease func()
	if i.leaseEnabled {
		if ext, ok := i.src.(source.VisibilityExtender); ok {
			stopLease = i.startLease(ctx, ext, b.Acks.Metas())
		}
	}
	if stopLease != nil {
		defer stopLease()
	}

	if len(b.Ops) > 0 {
		if err := i.retry.Do(ctx, func(ctx context.Context) error {
			return i.sink.Apply(ctx, b.Ops)
		}); err != nil {
			return xerrors.Errorf("apply batch to %q: %w", i.sink.Table(), err)
		}
	}

	if len(b.Rejects) > 0 {
		if err := i.retry.Do(ctx, func(ctx context.Context) error {
			return i.archiver.Archive(ctx, b.Rejects)
		}); err != nil {
			return xerrors.Errorf("archive rejected records: %w", err)
		}
	}

	// Ack only after the batch landed.
	if err := i.ackRetry.Do(ctx, func(ctx context.Context) error {
		return b.Acks.Commit(ctx, i.src)
	}); err != nil {
		return xerrors.Errorf("ack batch: %w", err)
	}
	return nil
}

// startLease keeps in-flight messages invisible while a slow flush runs.
func (i *Ingestor) startLease(parent context.Context, ext source.VisibilityExtender, metas []source.AckMetadata) (stop func()) {
	if len(metas) == 0 {
		return func() {}
	}

	renewEvery := i.leaseRenewEvery
	if renewEvery <= 0 {
		renewEvery = 20 * time.Second
	}

	ctx, cancel := context.WithCancel(parent)

	go func() {
		t := time.NewTicker(renewEvery)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := ext.ExtendVisibilityBatch(ctx, metas, i.leaseVisibilityTimeoutSec); err != nil {
					i.log.Warn("lease renewal failed", zap.Error(err))
					return
				}
			}
		}
	}()

	return cancel
}

func (i *Ingestor) flushRemainingOnStop(ctx context.Context) error {
	// Keep values but ignore cancellation, and don't block forever.
	base := context.WithoutCancel(ctx)
	stopCtx, cancel := context.WithTimeout(base, 10*time.Second)
	defer cancel()

	return i.flush(stopCtx)
}
