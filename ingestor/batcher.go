package ingestor

import (
	"errors"
	"time"

	"github.com/splitrow/tablesink/archive"
	"github.com/splitrow/tablesink/source"
	"github.com/splitrow/tablesink/table"
)

type Config struct {
	// MaxBufferBytes flushes the batch once the raw record bytes
	// buffered reach this size.
	MaxBufferBytes int64

	// MaxOps flushes the batch once it holds this many operations.
	MaxOps int

	// FlushInterval flushes a non-empty batch at least this often.
	FlushInterval time.Duration
}

var DefaultConfig = Config{
	MaxBufferBytes: 4 * 1024 * 1024,
	MaxOps:         10_000,
	FlushInterval:  time.Minute,
}

func (c Config) Validate() error {
	if c.MaxBufferBytes <= 0 {
		return errors.New("MaxBufferBytes must be > 0")
	}
	if c.MaxOps <= 0 {
		return errors.New("MaxOps must be > 0")
	}
	if c.FlushInterval <= 0 {
		return errors.New("FlushInterval must be > 0")
	}
	return nil
}

// batcher accumulates mapped operations, rejected records and their
// acknowledgements until a size or time threshold is reached.
type batcher struct {
	cfg Config

	ops     []*table.Operation
	rejects []archive.Rejected
	bytes   int64
	acks    source.AckGroup

	deadline time.Time
	active   bool
}

func newBatcher(cfg Config) (*batcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &batcher{cfg: cfg}, nil
}

func (b *batcher) add(now time.Time, op *table.Operation, msg source.Message, sizeBytes int64) (flushNow bool) {
	b.touch(now)
	b.ops = append(b.ops, op)
	b.bytes += sizeBytes
	b.acks.Add(msg)
	return b.full()
}

func (b *batcher) addReject(now time.Time, rej archive.Rejected, msg source.Message, sizeBytes int64) (flushNow bool) {
	b.touch(now)
	b.rejects = append(b.rejects, rej)
	b.bytes += sizeBytes
	b.acks.Add(msg)
	return b.full()
}

func (b *batcher) touch(now time.Time) {
	if !b.active {
		b.active = true
		b.deadline = now.Add(b.cfg.FlushInterval)
	}
}

func (b *batcher) full() bool {
	return b.bytes >= b.cfg.MaxBufferBytes || len(b.ops)+len(b.rejects) >= b.cfg.MaxOps
}

func (b *batcher) Deadline() (t time.Time, ok bool) {
	if !b.active {
		return time.Time{}, false
	}
	return b.deadline, true
}

type batch struct {
	Ops     []*table.Operation
	Rejects []archive.Rejected
	Bytes   int64
	Acks    source.AckGroup
}

func (b *batcher) flush() batch {
	out := batch{
		Ops:     b.ops,
		Rejects: b.rejects,
		Bytes:   b.bytes,
		Acks:    b.acks,
	}

	b.ops = nil
	b.rejects = nil
	b.bytes = 0
	b.acks = source.AckGroup{}
	b.active = false
	b.deadline = time.Time{}

	return out
}
