package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roach88/posvault/internal/config"
)

// S3API is the subset of *s3.Client used by CloudSink.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client builds an S3 client from the cloud settings. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies. A custom endpoint (for example LocalStack or
// MinIO) switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.CloudConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// CloudSink stores snapshots as objects in an S3 bucket.
type CloudSink struct {
	client S3API
	bucket string
	prefix string
}

// NewCloudSink creates a CloudSink. Object keys are prefix + file name.
func NewCloudSink(client S3API, bucket, prefix string) *CloudSink {
	return &CloudSink{client: client, bucket: bucket, prefix: prefix}
}

// Name implements Sink.
func (s *CloudSink) Name() string { return "cloud" }

// Deliver implements Sink.
func (s *CloudSink) Deliver(ctx context.Context, name string, data []byte) error {
	key := s.prefix + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return sinkError(s.Name(), fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err))
	}
	return nil
}

// List implements Lister over every object under the prefix.
func (s *CloudSink) List(ctx context.Context) ([]Entry, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	entries := []Entry{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, sinkError(s.Name(), fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			entries = append(entries, Entry{
				Name:         path.Base(key),
				Path:         key,
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
			})
		}
	}
	sortNewestFirst(entries)
	return entries, nil
}

// Fetch implements Fetcher. path is an object key as returned by List.
func (s *CloudSink) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, sinkError(s.Name(), fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, sinkError(s.Name(), fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err))
	}
	return data, nil
}
