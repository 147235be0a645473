// Package s3 provides an S3-backed snapshot.Store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"hometopology/internal/snapshot"
)

// Store is an S3-backed snapshot.Store. Each snapshot is an object named
// "<prefix><id>" in bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ snapshot.Store = (*Store)(nil)

// New builds a Store from the default AWS credential chain, targeting
// bucket with object keys namespaced under prefix.
func New(ctx context.Context, bucket, prefix string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Put uploads data as the object for id, overwriting any existing object.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", s.key(id), err)
	}
	return nil
}

// Get downloads the object stored for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", s.key(id), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", s.key(id), err)
	}
	return data, nil
}
