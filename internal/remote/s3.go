package remote

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gftdcojp/unionfs-cleaner/internal/tombstone"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client the deleter needs.
type S3API interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Deleter removes remote objects directly from an S3-compatible bucket
// for cold tiers that are plain buckets. The object key is the marker's
// path relative to the local tier root, under prefix.
type S3Deleter struct {
	s3     S3API
	bucket string
	prefix string
	dryRun bool
	logger *zap.Logger
}

var _ tombstone.Deleter = (*S3Deleter)(nil)

func NewS3Deleter(api S3API, bucket, prefix string, dryRun bool, logger *zap.Logger) *S3Deleter {
	return &S3Deleter{s3: api, bucket: bucket, prefix: prefix, dryRun: dryRun, logger: logger}
}

func (d *S3Deleter) objectKey(m tombstone.Marker) string {
	rel := strings.TrimPrefix(m.Rel, "/")
	if d.prefix != "" {
		return path.Join(d.prefix, rel)
	}
	return rel
}

func (d *S3Deleter) Delete(ctx context.Context, m tombstone.Marker) error {
	key := d.objectKey(m)

	if d.dryRun {
		_, err := d.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &d.bucket, Key: &key})
		d.logger.Info("dry run: would delete object",
			zap.String("bucket", d.bucket),
			zap.String("key", key),
			zap.Bool("exists", err == nil),
		)
		return nil
	}

	if _, err := d.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &d.bucket, Key: &key}); err != nil {
		return fmt.Errorf("%w: deleting s3://%s/%s: %v", ErrTransfer, d.bucket, key, err)
	}
	d.logger.Debug("object deleted", zap.String("bucket", d.bucket), zap.String("key", key))
	return nil
}
