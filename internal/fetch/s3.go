// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type (
	// S3Fetcher reads s3://bucket/key URLs from public buckets. Requests are
	// unsigned.
	S3Fetcher struct {
		client *s3.Client
	}

	// S3Options configures NewS3Fetcher.
	S3Options struct {
		Region string
		// Endpoint selects an S3-compatible store and enables path-style
		// addressing.
		Endpoint string
	}

	httpStatusError interface {
		HTTPStatusCode() int
	}
)

// NewS3Fetcher creates an anonymous S3 fetcher.
func NewS3Fetcher(opts S3Options) *S3Fetcher {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	o := s3.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	}
	return &S3Fetcher{client: s3.New(o)}
}

// Open streams the object body.
func (f *S3Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		var se httpStatusError
		if errors.As(err, &nsk) || (errors.As(err, &se) && se.HTTPStatusCode() == 404) {
			return nil, fmt.Errorf("fetching %s: %w", rawURL, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	return out.Body, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing URL %s: %w", rawURL, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 URL %q: want s3://bucket/key", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("invalid s3 URL %q: missing key", rawURL)
	}
	return u.Host, key, nil
}
