package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/parquet-go/parquet-go"
)

// Rejected is one record the pipeline gave up on, kept with enough
// context to replay it later.
type Rejected struct {
	Body       []byte    `parquet:"name=body"`
	Reason     string    `parquet:"name=reason"`
	RejectedAt time.Time `parquet:"name=rejected_at,timestamp"`
}

// Archiver stores rejected records out of band so the pipeline can
// acknowledge them instead of failing the run.
type Archiver interface {
	Archive(ctx context.Context, rejects []Rejected) error
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ParquetS3 writes each batch of rejected records as one parquet object
// under a time-partitioned key prefix.
type ParquetS3 struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string
}

func NewParquetS3(client s3API, bucket, prefix string) *ParquetS3 {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}

	a := &ParquetS3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	a.bucketPtr = &a.bucket
	return a
}

func (a *ParquetS3) Archive(ctx context.Context, rejects []Rejected) error {
	if len(rejects) == 0 {
		return nil
	}

	data, err := encodeParquet(rejects)
	if err != nil {
		return err
	}

	key := a.objectKey(time.Now().UTC())
	cl := int64(len(data))
	ct := "application/vnd.apache.parquet"

	var body bytes.Reader
	body.Reset(data)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        a.bucketPtr,
		Key:           &key,
		Body:          &body,
		ContentLength: &cl,
		ContentType:   &ct,
	})
	if err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}

func (a *ParquetS3) objectKey(now time.Time) string {
	key := fmt.Sprintf("%04d/%02d/%02d/%02d/%d.parquet",
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.UnixNano())
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

func encodeParquet(rejects []Rejected) ([]byte, error) {
	output := &bytes.Buffer{}
	w := parquet.NewGenericWriter[Rejected](output, parquet.Compression(&parquet.Snappy))

	if _, err := w.Write(rejects); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}
