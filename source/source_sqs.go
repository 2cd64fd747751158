package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ErrClosed is returned when Receive is called after the source has been closed.
var ErrClosed = errors.New("source closed")

type SQSConfig struct {
	WaitTimeSeconds int32
	MaxMessages     int32
	VisibilityTO    int32

	Pollers int
	BufSize int

	// FailVisibilityTimeoutSeconds, when set, shortens or extends the
	// visibility of a record whose mapping failed so redelivery is not
	// immediate.
	FailVisibilityTimeoutSeconds *int32
}

func (c *SQSConfig) validate() {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		panic("wait time seconds must be between 0 and 20")
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		panic("max messages must be between 1 and 10")
	}
	if c.VisibilityTO < 0 {
		panic("visibility timeout must be non-negative")
	}
	if c.Pollers < 1 {
		panic("pollers must be at least 1")
	}
	if c.BufSize < 1 {
		panic("buffer size must be at least 1")
	}
	if c.FailVisibilityTimeoutSeconds != nil && *c.FailVisibilityTimeoutSeconds < 0 {
		panic("fail visibility timeout seconds must be non-negative")
	}
}

var DefaultSQSConfig = SQSConfig{
	WaitTimeSeconds: 20,
	MaxMessages:     10,
	VisibilityTO:    30,
	Pollers:         3,
	BufSize:         256,
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// SQS delivers queue messages as record envelopes, one record per
// message body. A pool of pollers keeps the internal buffer fed.
type SQS struct {
	cfg SQSConfig

	client      sqsAPI
	queueURL    string
	queueURLPtr *string

	bufCh chan *sqstypes.Message

	closeOnce sync.Once
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

func NewSQS(ctx context.Context, client sqsAPI, queueURL string) *SQS {
	return NewSQSWithConfig(ctx, client, queueURL, DefaultSQSConfig)
}

func NewSQSWithConfig(ctx context.Context, client sqsAPI, queueURL string, cfg SQSConfig) *SQS {
	if client == nil {
		panic("sqs client is required")
	}
	if queueURL == "" {
		panic("queue url is required")
	}
	cfg.validate()

	ctx, cancel := context.WithCancel(ctx)

	s := &SQS{
		cfg:      cfg,
		client:   client,
		queueURL: queueURL,
		bufCh:    make(chan *sqstypes.Message, cfg.BufSize),
		cancel:   cancel,
	}
	s.queueURLPtr = &s.queueURL

	s.startPollers(ctx)
	return s
}

func (s *SQS) startPollers(ctx context.Context) {
	s.wg.Add(s.cfg.Pollers)
	for i := 0; i < s.cfg.Pollers; i++ {
		go func() {
			defer s.wg.Done()
			s.pollLoop(ctx)
		}()
	}
	go func() {
		s.wg.Wait()
		close(s.bufCh)
	}()
}

func (s *SQS) pollLoop(ctx context.Context) {
	for ctx.Err() == nil {
		batch, err := s.receiveOnce(ctx)
		if err != nil {
			// Transient API failures back off briefly instead of spinning.
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
			}
			continue
		}

		for i := range batch {
			select {
			case s.bufCh <- &batch[i]:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *SQS) receiveOnce(ctx context.Context) ([]sqstypes.Message, error) {
	// Long poll plus headroom so a healthy call never times out locally.
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.WaitTimeSeconds+5)*time.Second)
	defer cancel()

	out, err := s.client.ReceiveMessage(reqCtx, &sqs.ReceiveMessageInput{
		QueueUrl:            s.queueURLPtr,
		MaxNumberOfMessages: s.cfg.MaxMessages,
		WaitTimeSeconds:     s.cfg.WaitTimeSeconds,
		VisibilityTimeout:   s.cfg.VisibilityTO,
	})
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (s *SQS) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
}

func (s *SQS) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-s.bufCh:
		if !ok {
			return nil, ErrClosed
		}
		return &sqsMessage{src: s, m: m}, nil
	}
}

func (s *SQS) AckBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	metas := make([]AckMetadata, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		am, ok := m.(ackMetable)
		if !ok {
			return fmt.Errorf("message does not support AckMeta(): %T", m)
		}
		meta, ok := am.AckMeta()
		if !ok {
			return fmt.Errorf("message has no receipt handle: %T", m)
		}
		metas = append(metas, meta)
	}
	return s.ackMetasBatch(ctx, metas)
}

// AckBatchMeta is the fast acknowledgement path used by AckGroup when
// every message exposed its metadata.
func (s *SQS) AckBatchMeta(ctx context.Context, metas []AckMetadata) error {
	if len(metas) == 0 {
		return nil
	}
	return s.ackMetasBatch(ctx, metas)
}

// SQS batch APIs accept at most 10 entries per call.
const sqsBatchLimit = 10

// eachChunk invokes fn with successive slices of metas no longer than
// sqsBatchLimit, stopping on the first error.
func eachChunk(metas []AckMetadata, fn func(chunk []AckMetadata) error) error {
	for len(metas) > 0 {
		n := len(metas)
		if n > sqsBatchLimit {
			n = sqsBatchLimit
		}
		if err := fn(metas[:n]); err != nil {
			return err
		}
		metas = metas[n:]
	}
	return nil
}

func firstBatchFailure(op string, failed []sqstypes.BatchResultErrorEntry) error {
	if len(failed) == 0 {
		return nil
	}
	f := failed[0]
	return fmt.Errorf("sqs %s failed id=%s code=%s message=%s",
		op, aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
}

func (s *SQS) ackMetasBatch(ctx context.Context, metas []AckMetadata) error {
	return eachChunk(metas, func(chunk []AckMetadata) error {
		entries := make([]sqstypes.DeleteMessageBatchRequestEntry, len(chunk))
		for i := range chunk {
			entries[i] = sqstypes.DeleteMessageBatchRequestEntry{
				Id:            &chunk[i].ID,
				ReceiptHandle: &chunk[i].Handle,
			}
		}
		out, err := s.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: s.queueURLPtr,
			Entries:  entries,
		})
		if err != nil {
			return err
		}
		return firstBatchFailure("delete", out.Failed)
	})
}

func (s *SQS) ExtendVisibilityBatch(ctx context.Context, metas []AckMetadata, visibilityTimeoutSeconds int32) error {
	return eachChunk(metas, func(chunk []AckMetadata) error {
		entries := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, len(chunk))
		for i := range chunk {
			entries[i] = sqstypes.ChangeMessageVisibilityBatchRequestEntry{
				Id:                &chunk[i].ID,
				ReceiptHandle:     &chunk[i].Handle,
				VisibilityTimeout: visibilityTimeoutSeconds,
			}
		}
		out, err := s.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: s.queueURLPtr,
			Entries:  entries,
		})
		if err != nil {
			return err
		}
		return firstBatchFailure("change visibility", out.Failed)
	})
}

type sqsMessage struct {
	src *SQS
	m   *sqstypes.Message
}

func (m *sqsMessage) Data() Envelope {
	return Envelope{Body: []byte(aws.ToString(m.m.Body))}
}

func (m *sqsMessage) AckMeta() (AckMetadata, bool) {
	rh := aws.ToString(m.m.ReceiptHandle)
	if rh == "" {
		return AckMetadata{}, false
	}
	id := aws.ToString(m.m.MessageId)
	if id == "" {
		id = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return AckMetadata{ID: id, Handle: rh}, true
}

func (m *sqsMessage) EstimatedSizeBytes() (int64, bool) {
	return int64(len(aws.ToString(m.m.Body))), true
}

func (m *sqsMessage) Fail(ctx context.Context, err error) error {
	if m.src.cfg.FailVisibilityTimeoutSeconds == nil {
		return nil
	}
	_, callErr := m.src.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          m.src.queueURLPtr,
		ReceiptHandle:     m.m.ReceiptHandle,
		VisibilityTimeout: *m.src.cfg.FailVisibilityTimeoutSeconds,
	})
	if callErr != nil && !errors.Is(callErr, context.Canceled) && !errors.Is(callErr, context.DeadlineExceeded) {
		return callErr
	}
	return nil
}
