// Package media is the object-storage collaborator (spec.md §4.5/§6):
// best-effort upload of outbound/inbound media bytes under a stable
// filename, exposing a public URL. Adapted from the teacher's
// internal/core/upload/s3_provider.go -- generalized from its
// generic multi-resource-type upload helper (images/video/docs with
// folder/public-id options for an unrelated content-management
// domain) down to the gateway's single concern: take a filename the
// Message Processor already derived via store.MediaFilename and put
// the bytes at a predictable public URL, returning the URL.
package media

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements processor.MediaStorage against AWS S3.
type S3Store struct {
	client     *s3.Client
	bucketName string
	baseURL    string
}

// NewS3Store loads AWS config the way the teacher's NewS3Provider
// does (static credentials when supplied, default provider chain
// otherwise). publicBaseURL is the public base URL; when it is empty,
// the base URL is derived from bucket+region.
func NewS3Store(ctx context.Context, accessKeyID, secretAccessKey, region, bucketName, publicBaseURL string) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))
	if accessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}

	baseURL := publicBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucketName, region)
	}

	return &S3Store{
		client:     s3.NewFromConfig(cfg),
		bucketName: bucketName,
		baseURL:    baseURL,
	}, nil
}

// Upload implements processor.MediaStorage: put the bytes at
// <bucket>/<filename> and return the public URL.
func (s *S3Store) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(filename),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         "public-read",
	})
	if err != nil {
		return "", fmt.Errorf("media: upload %s: %w", filename, err)
	}
	return fmt.Sprintf("%s/%s", s.baseURL, filename), nil
}

// Delete removes the object at filename; used for the catalog-image
// cleanup path, best-effort.
func (s *S3Store) Delete(ctx context.Context, filename string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(filename),
	})
	if err != nil {
		return fmt.Errorf("media: delete %s: %w", filename, err)
	}
	return nil
}
