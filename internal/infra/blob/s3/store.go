// Package s3 implements the blob store on an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"blendcore/internal/blob/core"
)

// Config holds explicit construction parameters. Credentials fall back to
// the default AWS chain.
type Config struct {
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

// Store keeps every blob in one bucket; keys map to object keys directly.
type Store struct {
	client *s3.Client
	bucket string
}

// New creates a store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Put uploads r. Create-only semantics are emulated with a HEAD request.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	if !opts.Overwrite {
		if _, err := s.Head(ctx, clean); err == nil {
			return core.Info{}, fmt.Errorf("blob %s: %w", clean, core.ErrExists)
		} else if !errors.Is(err, core.ErrNotFound) {
			return core.Info{}, err
		}
	}
	body, ok := r.(io.ReadSeeker)
	if !ok {
		raw, err := io.ReadAll(r)
		if err != nil {
			return core.Info{}, err
		}
		body = bytes.NewReader(raw)
	}
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &clean, Body: body}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = core.CloneMetadata(opts.Metadata)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return core.Info{}, err
	}
	return s.Head(ctx, clean)
}

// Get streams the object body.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &clean})
	if err != nil {
		return core.Info{}, nil, translate(clean, err)
	}
	info := objectInfo(clean, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified)
	return info, out.Body, nil
}

// Head fetches object metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &clean})
	if err != nil {
		return core.Info{}, translate(clean, err)
	}
	return objectInfo(clean, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified), nil
}

// Delete removes the object, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	if _, err := s.Head(ctx, clean); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &clean}); err != nil {
		return false, translate(clean, err)
	}
	return true, nil
}

// List pages through ListObjectsV2.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: aws.String(prefix)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			infos = append(infos, core.Info{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func translate(key string, err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}

func objectInfo(key string, size *int64, contentType, etag *string, md map[string]string, lastModified *time.Time) core.Info {
	lm := time.Now().UTC()
	if lastModified != nil {
		lm = *lastModified
	}
	return core.Info{
		Key:          key,
		Size:         aws.ToInt64(size),
		ContentType:  aws.ToString(contentType),
		ETag:         strings.Trim(aws.ToString(etag), "\""),
		Metadata:     core.CloneMetadata(md),
		LastModified: lm,
	}
}

var _ core.Store = (*Store)(nil)
