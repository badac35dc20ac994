package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds object storage settings for s3:// model references.
// Compatible with AWS S3, MinIO and other S3-compatible services.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// S3API is the subset of the S3 client used to fetch artifacts.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Provider downloads artifacts from object storage into the local cache.
type S3Provider struct {
	client   S3API
	cacheDir string
}

// NewS3Provider builds an S3 client from cfg.
func NewS3Provider(ctx context.Context, cfg S3Config, cacheDir string) (*S3Provider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" && cfg.Endpoint != "s3.amazonaws.com" {
			scheme := "https"
			if !cfg.UseSSL {
				scheme = "http"
			}
			o.BaseEndpoint = aws.String(fmt.Sprintf("%s://%s", scheme, cfg.Endpoint))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewS3ProviderWithClient(client, cacheDir), nil
}

// NewS3ProviderWithClient wraps an existing client.
func NewS3ProviderWithClient(client S3API, cacheDir string) *S3Provider {
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	return &S3Provider{client: client, cacheDir: cacheDir}
}

// Load fetches s3://bucket/key into the cache.
func (p *S3Provider) Load(ctx context.Context, reference, device, precision string) (*Artifact, error) {
	bucket, key, err := parseS3Reference(reference)
	if err != nil {
		return nil, &ResourceUnavailableError{Reference: reference, Reason: "malformed reference", Cause: err}
	}

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		switch {
		case errors.As(err, &noKey):
			return nil, &ResourceUnavailableError{Reference: reference, Reason: "object does not exist", Cause: err}
		case errors.As(err, &noBucket):
			return nil, &ResourceUnavailableError{Reference: reference, Reason: "bucket does not exist", Cause: err}
		default:
			return nil, &ResourceUnavailableError{Reference: reference, Reason: "fetch failed", Cause: err}
		}
	}
	defer out.Body.Close()

	cached, digest, size, err := materialize(ctx, out.Body, p.cacheDir)
	if err != nil {
		return nil, &ResourceUnavailableError{Reference: reference, Reason: "download failed", Cause: err}
	}

	return New(Ref{
		ModelReference: reference,
		Provider:       "s3",
		Path:           cached,
		Digest:         digest,
		Size:           size,
		Device:         device,
		Precision:      precision,
	}), nil
}

// Prepare records placement in the sidecar and marks the artifact placed.
func (p *S3Provider) Prepare(ctx context.Context, a *Artifact) error {
	return placeWithSidecar(ctx, a)
}

func parseS3Reference(reference string) (bucket, key string, err error) {
	u, err := url.Parse(reference)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("expected s3://bucket/key")
	}
	return u.Host, key, nil
}
