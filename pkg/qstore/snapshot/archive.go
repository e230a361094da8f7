package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rqure/qcore/pkg/logger"
)

// Archiver receives a taken snapshot's encoded blob for off-box
// durability. Archival is best-effort and happens after the snapshot
// is already safe locally; failures are surfaced to the caller, who
// decides whether to retry.
type Archiver interface {
	Archive(ctx context.Context, counter uint64, blob []byte) error
}

// S3API is the slice of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads snapshot blobs to an S3-compatible bucket, keyed
// by snapshot counter and capture time.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
	log    logger.Logger
	now    func() time.Time
}

func NewS3Archiver(client S3API, bucket, prefix string, log logger.Logger) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, log: log, now: time.Now}
}

func (a *S3Archiver) Archive(ctx context.Context, counter uint64, blob []byte) error {
	key := fmt.Sprintf("%ssnapshot-%08d-%s.bin", a.prefix, counter, a.now().UTC().Format("20060102T150405Z"))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		if a.log != nil {
			a.log.Error("snapshot archive failed", logger.Fields{
				"bucket": a.bucket,
				"key":    key,
				"error":  err.Error(),
			})
		}
		return err
	}
	if a.log != nil {
		a.log.Info("snapshot archived", logger.Fields{"bucket": a.bucket, "key": key})
	}
	return nil
}
