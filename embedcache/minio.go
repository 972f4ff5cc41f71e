package embedcache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// MinioStore keeps embeddings as objects in a bucket. Single-call PUTs are
// atomic server-side, so the Store contract holds without extra machinery.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore returns a store over bucket, with names placed under prefix.
// The bucket must already exist.
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Exists reports whether the named object is present.
func (s *MinioStore) Exists(name string) (bool, error) {
	_, err := s.client.StatObject(context.Background(), s.bucket, s.key(name), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat embedding %s: %w", name, err)
}

// Get downloads the named object in full.
func (s *MinioStore) Get(name string) ([]byte, error) {
	obj, err := s.client.GetObject(context.Background(), s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching embedding %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading embedding %s: %w", name, err)
	}
	return data, nil
}

// Put uploads the entry in a single call.
func (s *MinioStore) Put(name string, data []byte) error {
	_, err := s.client.PutObject(context.Background(), s.bucket, s.key(name),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("uploading embedding %s: %w", name, err)
	}
	return nil
}
