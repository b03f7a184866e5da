package catalog

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures access to catalogs kept in S3 or an S3-compatible store
// such as MinIO. Credentials come from the default AWS chain.
type S3Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener resolves catalog URIs: a plain path, file://path, or s3://bucket/key.
type Opener struct {
	S3 S3Options

	// newS3 builds the client lazily so local loads never touch AWS config.
	newS3 func(ctx context.Context, opts S3Options) (objectGetter, error)
}

func NewOpener(opts S3Options) *Opener {
	return &Opener{S3: opts, newS3: newS3Client}
}

func newS3Client(ctx context.Context, opts S3Options) (objectGetter, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// Open returns a reader over the catalog document at uri.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		bucket, key, err := splitS3URI(uri)
		if err != nil {
			return nil, err
		}
		client, err := o.newS3(ctx, o.S3)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", uri, err)
		}
		return out.Body, nil
	case strings.HasPrefix(uri, "file://"):
		return openFile(strings.TrimPrefix(uri, "file://"))
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("unsupported catalog uri %q", uri)
	default:
		return openFile(uri)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return f, nil
}

func splitS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parsing %q: %w", uri, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri %q must name a bucket and a key", uri)
	}
	return bucket, key, nil
}

// Load opens, parses and validates the catalog at uri. FormatAuto is resolved
// from the uri's extension.
func (o *Opener) Load(ctx context.Context, uri string, format Format) (Catalog, error) {
	if format == FormatAuto || format == "" {
		format = FormatFromPath(uri)
	}
	rc, err := o.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	c, err := Parse(rc, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
