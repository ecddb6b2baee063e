package remotestorage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3-compatible remote storage backend.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	UseSSL    bool // not read by NewS3: the scheme of Endpoint decides whether TLS is used
}

// S3 implements Storage against an S3-compatible object store.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	comp   *compressor
}

// NewS3 creates an S3 remote storage backend, creating cfg.Bucket if it
// does not already exist.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
			config.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("remotestorage: loading aws config: %w", err)
	}

	clientOptions := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = true },
	}
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	client := s3.NewFromConfig(awsCfg, clientOptions...)

	if err := ensureBucketExists(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("remotestorage: ensuring bucket exists: %w", err)
	}

	comp, err := newCompressor()
	if err != nil {
		return nil, err
	}

	return &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		comp:   comp,
	}, nil
}

func ensureBucketExists(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	log.Printf("remotestorage: created S3 bucket %s", bucket)
	return nil
}

func (s *S3) key(objectPath string) string {
	if s.prefix == "" {
		return objectPath
	}
	return filepath.Join(s.prefix, objectPath)
}

// Upload compresses data and writes it to objectPath.
func (s *S3) Upload(ctx context.Context, objectPath string, data []byte) error {
	compressed := s.comp.compress(data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(objectPath)),
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("remotestorage: uploading %s: %w", objectPath, err)
	}
	return nil
}

// Download reads and decompresses the full object at objectPath.
func (s *S3) Download(ctx context.Context, objectPath string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(objectPath)),
	})
	if err != nil {
		return nil, fmt.Errorf("remotestorage: downloading %s: %w", objectPath, err)
	}
	defer result.Body.Close()

	compressed, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("remotestorage: reading %s: %w", objectPath, err)
	}
	return s.comp.decompress(compressed)
}

// DownloadRange downloads and decompresses the full object at
// objectPath, then returns the [offset, offset+length) slice of the
// decompressed content. Zstd frames are not randomly seekable, so this
// cannot avoid a full fetch+decompress; the range is applied after.
func (s *S3) DownloadRange(ctx context.Context, objectPath string, offset, length int64) ([]byte, error) {
	full, err := s.Download(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > int64(len(full)) {
		return nil, fmt.Errorf("remotestorage: range offset %d out of bounds for %s (%d bytes)", offset, objectPath, len(full))
	}
	end := offset + length
	if end > int64(len(full)) {
		end = int64(len(full))
	}
	return full[offset:end], nil
}

// Delete removes the object at objectPath. A missing object is not an
// error.
func (s *S3) Delete(ctx context.Context, objectPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(objectPath)),
	})
	if err != nil {
		return fmt.Errorf("remotestorage: deleting %s: %w", objectPath, err)
	}
	return nil
}

// List returns every object path under prefix.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	}

	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, listInput)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("remotestorage: listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, strings.TrimPrefix(*obj.Key, s.prefix+"/"))
		}
	}
	return out, nil
}
