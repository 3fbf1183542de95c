package backend

import (
	"context"
	"io"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/version"
)

// presignExpiry is how long a redirect URL to an S3 object stays valid
const presignExpiry = 15 * time.Minute

// S3Config configures the s3 backend
type S3Config struct {
	Bucket   string
	Region   string
	Prefix   string
	Manifest string
}

// objectAPI is the part of the S3 client the backend uses
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 serves releases described by a manifest stored in a bucket
type S3 struct {
	cfg S3Config

	mu      sync.Mutex
	client  objectAPI
	presign func(ctx context.Context, key string) (string, error)
}

// NewS3 creates a new S3 backend. The AWS client is created in Init.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, apperr.Validation("s3 backend requires a bucket")
	}
	if cfg.Manifest == "" {
		cfg.Manifest = DefaultManifest
	}
	return &S3{cfg: cfg}, nil
}

func newS3WithClient(cfg S3Config, client objectAPI, presign func(ctx context.Context, key string) (string, error)) *S3 {
	b, _ := NewS3(cfg)
	b.client = client
	b.presign = presign
	return b
}

// Init loads AWS credentials and checks the bucket is reachable
func (b *S3) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if b.cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(b.cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return apperr.Backend(err, "failed to load AWS configuration")
		}

		client := s3.NewFromConfig(awsCfg)
		presignClient := s3.NewPresignClient(client)
		b.client = client
		b.presign = func(ctx context.Context, key string) (string, error) {
			req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(b.cfg.Bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(presignExpiry))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		}
	}

	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.cfg.Bucket)}); err != nil {
		return apperr.Backend(err, "bucket %s is not accessible", b.cfg.Bucket)
	}
	return nil
}

// List reads the manifest object
func (b *S3) List(ctx context.Context) ([]version.Release, error) {
	data, err := b.get(ctx, b.key(b.cfg.Manifest))
	if err != nil {
		return nil, err
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, apperr.Backend(err, "failed to parse manifest s3://%s/%s", b.cfg.Bucket, b.key(b.cfg.Manifest))
	}
	return m.ToReleases(nil), nil
}

// ReadAsset reads an asset object
func (b *S3) ReadAsset(ctx context.Context, asset version.Asset) ([]byte, error) {
	return b.get(ctx, b.key(asset.ID))
}

// ServeAsset redirects the client to a presigned URL of the asset object
func (b *S3) ServeAsset(ctx context.Context, asset version.Asset, w http.ResponseWriter, r *http.Request) error {
	b.mu.Lock()
	presign := b.presign
	b.mu.Unlock()
	if presign == nil {
		return apperr.Backend(nil, "s3 backend is not initialised")
	}

	url, err := presign(ctx, b.key(asset.ID))
	if err != nil {
		return apperr.Backend(err, "failed to presign asset %s", asset.Filename)
	}
	http.Redirect(w, r, url, http.StatusFound)
	return nil
}

func (b *S3) key(name string) string {
	if b.cfg.Prefix == "" {
		return name
	}
	return path.Join(b.cfg.Prefix, name)
}

func (b *S3) get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil, apperr.Backend(nil, "s3 backend is not initialised")
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperr.Backend(err, "failed to get s3://%s/%s", b.cfg.Bucket, key)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Backend(err, "failed to read s3://%s/%s", b.cfg.Bucket, key)
	}
	return data, nil
}
