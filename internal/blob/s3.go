package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/telic-run/telic/internal/ir"
)

// S3Store keeps blobs in one S3-compatible bucket (AWS S3 or MinIO), object
// key = ref hex. Content addressing makes overwrites harmless, so no
// create-only guard is needed.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds explicit construction parameters, mostly for tests;
// production configuration comes from the environment.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	Endpoint  string // optional, enables MinIO-style custom endpoints
	PathStyle bool
}

// NewS3Store creates an S3 blob store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// OpenS3FromEnv constructs an S3 store from process environment:
//
//	TELIC_BLOB_S3_BUCKET     bucket name (required)
//	TELIC_BLOB_S3_REGION     region (default us-east-1)
//	TELIC_BLOB_S3_PREFIX     object key prefix (optional)
//	TELIC_BLOB_S3_ENDPOINT   custom endpoint, e.g. MinIO (optional)
//	TELIC_BLOB_S3_PATH_STYLE true|false (default false)
func OpenS3FromEnv(ctx context.Context) (*S3Store, error) {
	bucket := os.Getenv("TELIC_BLOB_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("blob: TELIC_BLOB_S3_BUCKET required for s3 driver")
	}
	return NewS3Store(ctx, S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("TELIC_BLOB_S3_REGION"),
		Prefix:    os.Getenv("TELIC_BLOB_S3_PREFIX"),
		Endpoint:  os.Getenv("TELIC_BLOB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("TELIC_BLOB_S3_PATH_STYLE"), "true"),
	})
}

func (s *S3Store) key(ref Ref) string {
	return s.prefix + ir.Hex(ref)
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, data []byte) (Ref, error) {
	ref := ComputeRef(data)
	key := s.key(ref)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return Ref{}, fmt.Errorf("blob: s3 put %s: %w", ir.ShortHex(ref), err)
	}
	return ref, nil
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, ref Ref) ([]byte, error) {
	key := s.key(ref)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: s3 get %s: %w", ir.ShortHex(ref), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: s3 read %s: %w", ir.ShortHex(ref), err)
	}
	return verify(ref, data)
}

// Has implements Store.
func (s *S3Store) Has(ctx context.Context, ref Ref) (bool, error) {
	key := s.key(ref)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("blob: s3 head %s: %w", ir.ShortHex(ref), err)
	}
	return true, nil
}

// Driver implements Store.
func (s *S3Store) Driver() Driver { return DriverS3 }

// Close implements Store.
func (s *S3Store) Close() error { return nil }
