package paths

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BDNK1/scriptval/runtime"
)

// ObjectGetter is the part of the S3 client the resolver uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Resolver downloads the output files of a result from a bucket into a
// spool directory. Objects are keyed <prefix>/<file name>.
type S3Resolver struct {
	Client   ObjectGetter
	Bucket   string
	Prefix   string
	SpoolDir string
}

// NewS3Resolver builds a resolver using the AWS default credential chain.
// An endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Resolver(ctx context.Context, cfg runtime.PathsConfig) (*S3Resolver, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}

	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}

	return &S3Resolver{
		Client:   s3.NewFromConfig(awsConfig, s3Opts...),
		Bucket:   cfg.Bucket,
		Prefix:   cfg.Prefix,
		SpoolDir: cfg.SpoolDir,
	}, nil
}

func (s *S3Resolver) OutputFilePaths(ctx context.Context, r runtime.ResultRecord) ([]string, error) {
	names, err := OutputFileNames(r.XMLDocIn)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", r.Name, err)
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		local, err := s.download(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("result %s: %w", r.Name, err)
		}
		paths = append(paths, local)
	}
	return paths, nil
}

func (s *S3Resolver) download(ctx context.Context, name string) (string, error) {
	local := filepath.Join(s.SpoolDir, name)
	if err := runtime.ValidatePathWithinBoundary(s.SpoolDir, local); err != nil {
		return "", err
	}

	key := name
	if s.Prefix != "" {
		key = path.Join(s.Prefix, name)
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("fetching s3://%s/%s: %w", s.Bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp(s.SpoolDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("creating spool file: %w", err)
	}
	tmp := f.Name()

	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("downloading s3://%s/%s: %w", s.Bucket, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("moving %s into spool: %w", name, err)
	}
	return local, nil
}
