// Package s3util builds the client for cold tiers that are plain
// S3-compatible buckets (AWS S3, MinIO, Cloudflare R2).
package s3util

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gftdcojp/unionfs-cleaner/internal/config"
)

// DefaultRegion is used when the cold tier config names none. Most
// S3-compatible servers ignore it but the SDK requires one for signing.
const DefaultRegion = "us-east-1"

// ErrNoBucket is returned by NewClient when the config names no bucket.
var ErrNoBucket = errors.New("s3 bucket is required")

// Client is an S3 client bound to the cold tier's bucket and key prefix.
type Client struct {
	S3     *s3.Client
	Bucket string
	Prefix string
}

// NewClient builds a client from the remote.s3 section. Static keys are
// used when both are set; otherwise the SDK's default chain applies.
func NewClient(ctx context.Context, cfg config.S3Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Client{
		S3:     s3.NewFromConfig(awsCfg, clientOptions(cfg)...),
		Bucket: cfg.Bucket,
		Prefix: cfg.Prefix,
	}, nil
}

func loadOptions(cfg config.S3Config) []func(*awsconfig.LoadOptions) error {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return opts
}

func clientOptions(cfg config.S3Config) []func(*s3.Options) {
	return []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
}

// Ping reports whether the bucket answers a HeadBucket request. The
// readiness probe uses it to notice an unreachable cold tier.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.Bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", c.Bucket, err)
	}
	return nil
}
